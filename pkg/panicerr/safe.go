// Package panicerr turns panics in background goroutines into errors so a
// conc pool can cancel its siblings instead of crashing the process.
package panicerr

import (
	"context"

	"github.com/sourcegraph/conc/panics"
)

func try(fn func() error) error {
	var (
		catcher panics.Catcher
		err     error
	)
	catcher.Try(func() { err = fn() })
	if err != nil {
		return err
	}
	return catcher.Recovered().AsError()
}

// Safe wraps fn so that a panic is returned as an error.
func Safe(fn func() error) func() error {
	return func() error { return try(fn) }
}

// SafeContext is Safe for pool tasks that take a context.
func SafeContext(fn func(context.Context) error) func(context.Context) error {
	return func(ctx context.Context) error {
		return try(func() error { return fn(ctx) })
	}
}
