package session

import (
	"context"
	"time"

	"equipviz/internal/core"
)

// ActivitySink receives audit records of user actions.
type ActivitySink interface {
	Record(ctx context.Context, a core.Activity) error
}

// ActivitySinkFunc adapts a function to ActivitySink.
type ActivitySinkFunc func(ctx context.Context, a core.Activity) error

func (f ActivitySinkFunc) Record(ctx context.Context, a core.Activity) error {
	return f(ctx, a)
}

// LoginGuard throttles repeated invalid logins per key.
type LoginGuard interface {
	Locked(key string) (bool, time.Duration)
	Fail(key string)
	Succeed(key string)
}

type noGuard struct{}

func (noGuard) Locked(string) (bool, time.Duration) { return false, 0 }
func (noGuard) Fail(string)                         {}
func (noGuard) Succeed(string)                      {}
