// Package coordinator runs the creating side of a shared arena: it maps and
// zeroes the region, launches the producers, drains every message to an
// emitter and tears the region down.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/srediag/shmlog/internal/launch"
	"github.com/srediag/shmlog/pkg/arena"
)

// Mode selects how producers are launched.
type Mode string

const (
	// ModeProcess re-executes the binary once per producer.
	ModeProcess Mode = "process"
	// ModePool runs producers as goroutines on a worker pool.
	ModePool Mode = "pool"
)

// ParseMode parses a -mode flag value.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModeProcess, ModePool:
		return m, nil
	default:
		return "", fmt.Errorf("unknown mode %q, want %q or %q", s, ModeProcess, ModePool)
	}
}

// Options configures a coordinator run.
type Options struct {
	Config *arena.Config
	Mode   Mode
	// Output receives one "[owner N] text" line per drained message.
	Output io.Writer
	// Executable and Args build the producer command line in process mode.
	// Args defaults to ProduceArgs.
	Executable string
	Args       func(ref Ref, owner int, cfg *arena.Config) []string
	// ChildOutput receives the producers' stdout and stderr.
	ChildOutput io.Writer
	// Ready is called once the arena is mapped and the drainer exists.
	Ready func(a *arena.Arena, d *arena.Drainer)
	Log   zerolog.Logger
}

// Summary is the outcome of a run.
type Summary struct {
	Messages  int
	Completed uint32
	Passes    int
	// Dropped counts producers that completed without a drained message.
	Dropped int
	Owners  map[int]int
}

// ProduceArgs is the default child command line: "produce -ref R -owner N
// -capacity B -max-message M".
func ProduceArgs(ref Ref, owner int, cfg *arena.Config) []string {
	return []string{
		"produce",
		"-ref", ref.String(),
		"-owner", strconv.Itoa(owner),
		"-capacity", strconv.Itoa(cfg.Capacity),
		"-max-message", strconv.Itoa(cfg.MaxMessageSize),
	}
}

// Run performs one coordinator run. A mapping failure is returned wrapped in
// arena.ErrMapping before any producer starts.
func Run(ctx context.Context, opts Options) (Summary, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = arena.DefaultConfig()
	}
	if err := arena.VerifyConfig(cfg); err != nil {
		return Summary{}, err
	}
	out := opts.Output
	if out == nil {
		out = os.Stdout
	}
	log := opts.Log

	a, err := arena.Open(ctx, arena.OpenOptions{
		Name:     fmt.Sprintf("%s_%d", cfg.Name, os.Getpid()),
		Capacity: cfg.Capacity,
		MemFd:    cfg.MemFd,
		Create:   true,
	}, arena.WithMetrics(cfg.Metrics))
	if err != nil {
		return Summary{}, err
	}
	defer func() {
		if err := a.Close(context.WithoutCancel(ctx)); err != nil {
			log.Warn().Err(err).Msg("arena unmap failed")
		}
	}()

	d, err := arena.NewDrainer(a, cfg, arena.NewLineEmitter(out))
	if err != nil {
		return Summary{}, err
	}
	defer d.Close()
	if opts.Ready != nil {
		opts.Ready(a, d)
	}

	l, cleanup, err := newLauncher(a, cfg, opts)
	if err != nil {
		return Summary{}, err
	}
	defer cleanup()

	log.Info().
		Str("mode", string(opts.Mode)).
		Int("producers", cfg.Producers).
		Int("capacity", cfg.Capacity).
		Bool("memfd", cfg.MemFd).
		Msg("coordinator started")

	runCtx, err := l.Start(ctx, cfg.Producers)
	if err != nil {
		return Summary{}, fmt.Errorf("start producers: %w", err)
	}
	report, drainErr := d.Run(runCtx)
	waitErr := l.Wait()

	s := Summary{
		Messages:  report.Messages,
		Completed: report.Completed,
		Passes:    report.Passes,
		Dropped:   cfg.Producers - report.Messages,
		Owners:    report.Owners,
	}
	log.Info().
		Int("messages", s.Messages).
		Int("dropped", s.Dropped).
		Int("passes", s.Passes).
		Msg("coordinator finished")
	if drainErr != nil || waitErr != nil {
		return s, errors.Join(drainErr, waitErr)
	}
	return s, nil
}

func newLauncher(a *arena.Arena, cfg *arena.Config, opts Options) (launch.Launcher, func(), error) {
	lost := func(owner int) {
		opts.Log.Warn().Int("owner", owner).Msg("completing on behalf of producer that never started")
		a.Complete()
	}
	ref := Ref{Path: a.Path()}
	var extra []*os.File
	if cfg.MemFd {
		f, err := a.File()
		if err != nil {
			return nil, nil, err
		}
		extra = []*os.File{f}
		ref = Ref{Fd: int(f.Fd()), MemFd: true}
	}
	cleanup := func() {
		for _, f := range extra {
			_ = f.Close()
		}
	}

	switch opts.Mode {
	case ModePool:
		return &launch.PoolLauncher{
			Produce: func(ctx context.Context, owner int) error {
				_, err := Produce(ctx, ref, owner, cfg)
				if err != nil && !dropped(err) {
					if errors.Is(err, arena.ErrMapping) {
						a.Complete()
					}
					return err
				}
				return nil
			},
			Lost: lost,
			Log:  opts.Log,
		}, cleanup, nil
	case ModeProcess, "":
		args := opts.Args
		if args == nil {
			args = ProduceArgs
		}
		if cfg.MemFd {
			// ExtraFiles[0] is fd 3 in the child.
			ref = Ref{Fd: 3, MemFd: true}
		}
		child := opts.ChildOutput
		if child == nil {
			child = os.Stderr
		}
		return &launch.ProcessLauncher{
			Path:       opts.Executable,
			Args:       func(owner int) []string { return args(ref, owner, cfg) },
			ExtraFiles: extra,
			Stdout:     child,
			Stderr:     child,
			Lost:       lost,
			Log:        opts.Log,
		}, cleanup, nil
	default:
		cleanup()
		return nil, nil, fmt.Errorf("unknown mode %q", opts.Mode)
	}
}
