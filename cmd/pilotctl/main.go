// Command pilotctl is a terminal operator console for the browserpilot
// coordinator: it submits a goal and asks for approval before each action.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ent0n29/browserpilot/internal/client"
	"github.com/ent0n29/browserpilot/internal/config"
	"github.com/ent0n29/browserpilot/internal/logging"
	"github.com/ent0n29/browserpilot/internal/sessionview"
)

const help = `commands:
  a          approve the proposed action
  r          reject it (the task pauses)
  u          resume a paused task
  c          cancel the task
  n          forget the finished task and start over
  g <goal>   submit a new goal
  d          show or hide the remote display address
  q          quit`

func main() {
	sessionID := flag.String("session", "", "session id sent as X-Session-ID (random when empty)")
	envFile := flag.String("env", ".env", "optional dotenv file")
	flag.Parse()

	cfg, err := config.LoadClient(*envFile)
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	logger := logging.NewOrNop(logging.Config{Level: cfg.LogLevel, OutputPaths: []string{"stderr"}})
	defer func() { _ = logger.Sync() }()

	if *sessionID == "" {
		*sessionID = uuid.NewString()
	}
	api := client.New(client.Options{
		BaseURL:   cfg.APIURL,
		SessionID: *sessionID,
		Timeout:   cfg.RequestTimeout,
	})

	printer := &viewPrinter{out: os.Stdout}
	ctrl := sessionview.NewController(api, sessionview.Config{
		StatusInterval:  cfg.StatusInterval,
		ActionFast:      cfg.ActionFast,
		ActionSlow:      cfg.ActionSlow,
		ThoughtInterval: cfg.ThoughtInterval,
		RevealStep:      cfg.RevealStep,
		RequestTimeout:  cfg.RequestTimeout,
	}, logger, printer.Print)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	args := flag.Args()
	if len(args) > 0 && args[0] == "run" {
		args = args[1:]
	}
	if goal := strings.TrimSpace(strings.Join(args, " ")); goal != "" {
		ctrl.Submit(goal)
	}
	fmt.Fprintf(os.Stdout, "session %s against %s\n%s\n", *sessionID, cfg.APIURL, help)

	go func() {
		readCommands(os.Stdin, ctrl)
		stop()
	}()

	if err := ctrl.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("console stopped", zap.Error(err))
		os.Exit(1)
	}
}

func readCommands(in io.Reader, ctrl *sessionview.Controller) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		cmd, arg, _ := strings.Cut(line, " ")
		switch cmd {
		case "":
		case "a":
			ctrl.Approve()
		case "r":
			ctrl.Reject()
		case "u":
			ctrl.Resume()
		case "c":
			ctrl.Cancel()
		case "n":
			ctrl.NewTask()
		case "g":
			ctrl.Submit(strings.TrimSpace(arg))
		case "d":
			ctrl.ToggleDisplay()
		case "q":
			return
		default:
			fmt.Println(help)
		}
	}
}

// viewPrinter writes a frame only when something visible changed.
type viewPrinter struct {
	out  io.Writer
	last string
}

func (p *viewPrinter) Print(v sessionview.View) {
	frame := formatView(v)
	if frame == p.last {
		return
	}
	p.last = frame
	fmt.Fprintln(p.out, frame)
}

func formatView(v sessionview.View) string {
	var b strings.Builder
	if v.TaskID != "" {
		fmt.Fprintf(&b, "[%s] %s (%s)\n", v.Status, v.Description, v.TaskID)
	}
	switch v.Mode {
	case sessionview.ModeEntryForm:
		if v.Phase == sessionview.PhaseSubmitting {
			b.WriteString("submitting...\n")
		} else {
			b.WriteString("enter a goal with: g <goal>\n")
		}
	case sessionview.ModeApprovalPrompt:
		if v.Progress != "" {
			fmt.Fprintf(&b, "%s: ", v.Progress)
		}
		fmt.Fprintf(&b, "proposed %s\n", v.ActionText)
		if v.URL != "" {
			fmt.Fprintf(&b, "  at %s\n", v.URL)
		}
		if v.NextGoal != "" {
			fmt.Fprintf(&b, "  goal: %s\n", v.NextGoal)
		}
		if v.Thinking != "" {
			fmt.Fprintf(&b, "  thinking: %s\n", v.Thinking)
		}
		b.WriteString("approve (a) or reject (r)?\n")
	case sessionview.ModeProcessing:
		b.WriteString("working...\n")
	case sessionview.ModePausedResume:
		b.WriteString("paused; resume with u\n")
	case sessionview.ModeTerminalNewTask:
		b.WriteString("finished; start over with n\n")
	}
	if len(v.ThoughtLines) > 0 {
		fmt.Fprintf(&b, "planner %s:\n", v.ThoughtTime)
		for _, line := range v.ThoughtLines {
			fmt.Fprintf(&b, "  - %s\n", line)
		}
	}
	if v.DisplayVisible {
		if v.DisplayURL != "" {
			fmt.Fprintf(&b, "display: %s\n", v.DisplayURL)
		} else {
			b.WriteString("display: resolving...\n")
		}
	}
	for _, msg := range []string{v.Notice, v.SubmitError, v.CommandError, v.PollError} {
		if msg != "" {
			fmt.Fprintf(&b, "! %s\n", msg)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
