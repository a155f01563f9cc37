package coordinator

import (
	"context"
	"errors"
	"os"

	"github.com/srediag/shmlog/pkg/arena"
)

// Produce attaches to the referenced arena, publishes the greeting for owner
// and detaches. A mapping failure is returned before anything is written and
// the completion counter is left untouched, since the arena is unreachable.
func Produce(ctx context.Context, ref Ref, owner int, cfg *arena.Config) (arena.Result, error) {
	view, err := arena.Open(ctx, ref.OpenOptions(cfg.Capacity), arena.WithMetrics(cfg.Metrics))
	if err != nil {
		return arena.Result{Owner: owner}, err
	}
	defer func() {
		_ = view.Close(context.WithoutCancel(ctx))
	}()

	p, err := arena.NewProducer(view, owner, cfg)
	if err != nil {
		view.Complete()
		return arena.Result{Owner: owner}, err
	}
	return p.Run(ctx, arena.FormatMessage(owner, os.Getpid()))
}

// dropped reports whether err only means the producer contributed no
// message.
func dropped(err error) bool {
	return errors.Is(err, arena.ErrArenaFull) || errors.Is(err, arena.ErrMessageTooLarge)
}
