// Package txn runs engine operations as serialised, all-or-nothing units of
// work.
//
// A unit holds the executor lock for its whole duration. Components record an
// undo closure for every mutation they make; when the unit's function returns
// an error (or panics) the closures run in reverse and staged values are
// discarded. A call whose context already carries the executor's active unit
// joins it through a savepoint instead of taking the lock again, so a value
// transfer that calls back into the engine cannot deadlock and its failure
// only unwinds its own part.
package txn

import (
	"context"
	"sync"
)

// CommitHook is invoked under the executor lock with the values staged by a
// successful unit. The returned function, if any, runs after the lock is
// released.
type CommitHook func(ctx context.Context, staged []any) (after func())

// Option configures an Executor.
type Option func(*Executor)

// WithCommitHook installs h as the executor's commit hook.
func WithCommitHook(h CommitHook) Option {
	return func(e *Executor) { e.hooks = append(e.hooks, h) }
}

// Executor serialises units of work.
type Executor struct {
	mu    sync.Mutex
	hooks []CommitHook
}

// NewExecutor creates an Executor.
func NewExecutor(opts ...Option) *Executor {
	e := &Executor{}
	for _, o := range opts {
		o(e)
	}
	return e
}

type ctxKey struct{}

type unit struct {
	exec   *Executor
	undo   []func()
	staged []any
}

// Do runs fn as one unit of work. If ctx already carries a unit of this
// executor, fn joins it at a savepoint.
func (e *Executor) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if u, ok := ctx.Value(ctxKey{}).(*unit); ok && u.exec == e {
		return u.savepoint(ctx, fn)
	}

	e.mu.Lock()
	u := &unit{exec: e}
	uctx := context.WithValue(ctx, ctxKey{}, u)

	var after []func()
	committed := false
	defer func() {
		if !committed {
			u.rollbackTo(0, 0)
		}
		e.mu.Unlock()
		for _, f := range after {
			f()
		}
	}()

	if err := fn(uctx); err != nil {
		return err
	}
	committed = true
	if len(u.staged) > 0 {
		for _, h := range e.hooks {
			if f := h(ctx, u.staged); f != nil {
				after = append(after, f)
			}
		}
	}
	return nil
}

// View runs fn under the executor lock without a journal. It must not mutate
// state. Inside an active unit it runs directly.
func (e *Executor) View(ctx context.Context, fn func()) {
	e.locked(ctx, fn)
}

// Exclusive runs fn under the executor lock without a journal. It is meant
// for bulk replacement of state, such as loading a snapshot, where there is
// nothing to roll back to.
func (e *Executor) Exclusive(ctx context.Context, fn func()) {
	e.locked(ctx, fn)
}

func (e *Executor) locked(ctx context.Context, fn func()) {
	if u, ok := ctx.Value(ctxKey{}).(*unit); ok && u.exec == e {
		fn()
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	fn()
}

func (u *unit) savepoint(ctx context.Context, fn func(ctx context.Context) error) error {
	undoMark, stagedMark := len(u.undo), len(u.staged)
	ok := false
	defer func() {
		if !ok {
			u.rollbackTo(undoMark, stagedMark)
		}
	}()
	if err := fn(ctx); err != nil {
		return err
	}
	ok = true
	return nil
}

func (u *unit) rollbackTo(undoMark, stagedMark int) {
	for i := len(u.undo) - 1; i >= undoMark; i-- {
		u.undo[i]()
	}
	u.undo = u.undo[:undoMark]
	u.staged = u.staged[:stagedMark]
}

func current(ctx context.Context) *unit {
	u, _ := ctx.Value(ctxKey{}).(*unit)
	return u
}

// Active reports whether ctx carries a unit of work.
func Active(ctx context.Context) bool {
	return current(ctx) != nil
}

// Record appends undo to the active unit's journal. Mutating engine state
// outside a unit is a programming error, so Record panics without one.
func Record(ctx context.Context, undo func()) {
	u := current(ctx)
	if u == nil {
		panic("txn: Record called outside a unit of work")
	}
	u.undo = append(u.undo, undo)
}

// Stage queues v for the commit hooks of the active unit.
func Stage(ctx context.Context, v any) {
	u := current(ctx)
	if u == nil {
		panic("txn: Stage called outside a unit of work")
	}
	u.staged = append(u.staged, v)
}
