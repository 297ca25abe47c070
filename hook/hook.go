// Package hook runs a unit of work with an error handler and cleanup that
// always runs, even when the work panics.
package hook

import (
	"github.com/pkg/errors"
)

type Interface interface {
	Try() error
	// Catch receives the error returned by Try or a recovered panic and
	// returns the error reported by Call.
	Catch(err error) error
	Finally()
}

// Funcs adapts plain functions to Interface. Nil fields are skipped.
type Funcs struct {
	TryFn     func() error
	CatchFn   func(error) error
	FinallyFn func()
}

func (f Funcs) Try() error {
	if f.TryFn == nil {
		return nil
	}
	return f.TryFn()
}

func (f Funcs) Catch(err error) error {
	if f.CatchFn == nil {
		return err
	}
	return f.CatchFn(err)
}

func (f Funcs) Finally() {
	if f.FinallyFn != nil {
		f.FinallyFn()
	}
}

// Call runs hook.Try, hands a failure or panic to hook.Catch and always
// finishes with hook.Finally.
func Call(hook Interface) (err error) {
	if hook == nil {
		return errors.New("hook cannot be nil")
	}

	defer hook.Finally()

	defer func() {
		if r := recover(); r != nil {
			err = hook.Catch(errors.Errorf("panic occurred during hook execution: %v", r))
		}
	}()

	if tryErr := hook.Try(); tryErr != nil {
		return hook.Catch(tryErr)
	}
	return nil
}
