// Package health exposes liveness and readiness of a draining coordinator.
package health

import (
	"errors"
	"fmt"
	"time"

	"github.com/heptiolabs/healthcheck"
)

// ArenaState is implemented by *arena.Arena.
type ArenaState interface {
	Closed() bool
	Completed() uint32
}

// DrainState is implemented by *arena.Drainer.
type DrainState interface {
	LastPass() time.Time
	Done() bool
}

// Options tunes the checks.
type Options struct {
	// Stall is how long the drain loop may go without finishing a pass
	// before liveness fails. Zero uses DefaultStall.
	Stall time.Duration
	// MaxGoroutines fails liveness above this count. Zero disables it.
	MaxGoroutines int
}

// DefaultStall is used when Options.Stall is zero.
const DefaultStall = 5 * time.Second

var (
	errArenaUnmapped = errors.New("arena unmapped")
	errDrainNotRun   = errors.New("drain loop has not completed a pass")
)

// NewHandler returns a healthcheck handler serving /live and /ready for a
// coordinator draining a, with d as its drain loop.
func NewHandler(a ArenaState, d DrainState, opts Options) healthcheck.Handler {
	stall := opts.Stall
	if stall <= 0 {
		stall = DefaultStall
	}
	h := healthcheck.NewHandler()
	h.AddReadinessCheck("arena-mapped", ArenaMappedCheck(a))
	h.AddLivenessCheck("drain-progress", DrainProgressCheck(d, stall, time.Now))
	if opts.MaxGoroutines > 0 {
		h.AddLivenessCheck("goroutine-threshold", healthcheck.GoroutineCountCheck(opts.MaxGoroutines))
	}
	return h
}

// ArenaMappedCheck fails once the arena has been unmapped.
func ArenaMappedCheck(a ArenaState) healthcheck.Check {
	return func() error {
		if a.Closed() {
			return errArenaUnmapped
		}
		return nil
	}
}

// DrainProgressCheck fails when the drain loop is still running but has not
// finished a pass within stall.
func DrainProgressCheck(d DrainState, stall time.Duration, now func() time.Time) healthcheck.Check {
	started := now()
	return func() error {
		if d.Done() {
			return nil
		}
		last := d.LastPass()
		if last.IsZero() {
			if now().Sub(started) > stall {
				return errDrainNotRun
			}
			return nil
		}
		if since := now().Sub(last); since > stall {
			return fmt.Errorf("drain loop stalled for %s", since.Round(time.Millisecond))
		}
		return nil
	}
}
