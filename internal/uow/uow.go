package uow

import (
	"context"

	"github.com/kirinyoku/reservo/internal/repository"
)

// AfterCommit is a function that runs after a successful transaction commit.
type AfterCommit func(ctx context.Context)

type Runner interface {
	RunTx(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error
}

// UoW represents a unit of work.
type UoW struct {
	runner Runner
}

func NewUoW(runner Runner) *UoW {
	return &UoW{runner: runner}
}

// Do runs fn inside the transaction. After a successful commit it executes
// all after-commit hooks in registration order before returning, so callers
// never observe success ahead of the hooks.
func (u *UoW) Do(
	ctx context.Context,
	fn func(ctx context.Context, tx repository.Tx, after func(AfterCommit)) error,
) error {
	var hooks []AfterCommit

	err := u.runner.RunTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		hooks = hooks[:0]
		return fn(ctx, tx, func(h AfterCommit) {
			hooks = append(hooks, h)
		})
	})
	if err != nil {
		return err
	}

	// The write is durable; hooks must not be cut short by the caller's deadline.
	hookCtx := context.WithoutCancel(ctx)
	for _, h := range hooks {
		h(hookCtx)
	}

	return nil
}
