package utils

import (
	"fmt"
	"log/slog"
	"runtime/debug"
)

// PanicError wraps a recovered panic value as an error
type PanicError struct {
	Value      interface{}
	StackTrace string
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

func newPanicError(r interface{}) *PanicError {
	stack := string(debug.Stack())
	slog.Error("recovered from panic", "panic", r, "stack", stack)
	return &PanicError{Value: r, StackTrace: stack}
}

// RecoverWithCallback must be deferred; it converts a panic into *PanicError
// and hands it to callback, which may be nil.
func RecoverWithCallback(callback func(error)) {
	if r := recover(); r != nil {
		err := newPanicError(r)
		if callback != nil {
			callback(err)
		}
	}
}

// SafeGo runs fn on a new goroutine, reporting panics to onError.
func SafeGo(fn func(), onError func(error)) {
	go func() {
		defer RecoverWithCallback(onError)
		fn()
	}()
}

// SafeGoWithResult runs fn on a new goroutine. The returned channel receives
// fn's error or a *PanicError and is closed when fn returns.
func SafeGoWithResult(fn func() error) <-chan error {
	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		defer RecoverWithCallback(func(err error) {
			errCh <- err
		})
		if err := fn(); err != nil {
			errCh <- err
		}
	}()
	return errCh
}
