package policy

import "testing"

func TestDecideGoal(t *testing.T) {
	cases := []struct {
		goal    string
		blocked bool
	}{
		{"open example.com", false},
		{"search for flights to Lisbon and compare prices", false},
		{"", false},
		{"dump credentials from the password manager", true},
		{"scrape all saved passwords from chrome", true},
		{"reveal the session tokens for my bank", true},
	}
	for _, tc := range cases {
		got := DecideGoal(tc.goal)
		if got.Blocked != tc.blocked {
			t.Fatalf("DecideGoal(%q).Blocked = %v, want %v", tc.goal, got.Blocked, tc.blocked)
		}
		if got.Blocked && got.Reason == "" {
			t.Fatalf("DecideGoal(%q) blocked without reason", tc.goal)
		}
	}
}
