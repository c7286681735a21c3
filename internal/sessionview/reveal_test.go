package sessionview

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type frame struct {
	id    uint64
	shown int
	done  bool
}

func newFrameRevealer(step time.Duration) (*Revealer, chan frame) {
	frames := make(chan frame, 32)
	r := NewRevealer(step, func(id uint64, shown int, done bool) {
		frames <- frame{id, shown, done}
	})
	return r, frames
}

func nextFrame(t *testing.T, frames <-chan frame) frame {
	t.Helper()
	select {
	case f := <-frames:
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("no frame")
		return frame{}
	}
}

func TestRevealerShowsOneMorePerStep(t *testing.T) {
	r, frames := newFrameRevealer(5 * time.Millisecond)
	id := r.Start(3)
	assert.True(t, r.Active())

	for i := 1; i <= 3; i++ {
		f := nextFrame(t, frames)
		assert.Equal(t, id, f.id)
		assert.Equal(t, i, f.shown)
		assert.Equal(t, i == 3, f.done)
	}
	assert.False(t, r.Active())
}

func TestRevealerRestartCancelsPrevious(t *testing.T) {
	r, frames := newFrameRevealer(20 * time.Millisecond)
	first := r.Start(50)
	second := r.Start(1)
	require.NotEqual(t, first, second)

	for {
		f := nextFrame(t, frames)
		if f.id == second {
			assert.True(t, f.done)
			break
		}
	}
	assert.False(t, r.Active())
}

func TestRevealerFinish(t *testing.T) {
	r, frames := newFrameRevealer(time.Hour)
	id := r.Start(4)
	r.Finish()

	f := nextFrame(t, frames)
	assert.Equal(t, frame{id: id, shown: 4, done: true}, f)
	assert.False(t, r.Active())

	r.Finish()
	select {
	case f := <-frames:
		t.Fatalf("unexpected frame after finish: %+v", f)
	default:
	}
}

func TestRevealerEmptyIsDoneImmediately(t *testing.T) {
	r, frames := newFrameRevealer(time.Hour)
	id := r.Start(0)
	assert.Equal(t, frame{id: id, shown: 0, done: true}, nextFrame(t, frames))
	assert.False(t, r.Active())
}

func TestRevealerStopEmitsNothing(t *testing.T) {
	r, frames := newFrameRevealer(time.Hour)
	r.Start(2)
	r.Stop()
	assert.False(t, r.Active())
	select {
	case f := <-frames:
		t.Fatalf("unexpected frame: %+v", f)
	case <-time.After(20 * time.Millisecond):
	}
}
