package obd

import "fmt"

// ValueResult is either a success carrying a value or a failure carrying an error.
// Exactly one variant is populated.
type ValueResult[T any] struct {
	value T
	err   error
}

func Success[T any](v T) ValueResult[T] {
	return ValueResult[T]{value: v}
}

// Failure builds the error variant. A nil err is replaced with a generic error so the
// variant stays distinguishable from a success.
func Failure[T any](err error) ValueResult[T] {
	if err == nil {
		err = fmt.Errorf("unspecified failure")
	}
	return ValueResult[T]{err: err}
}

func (r ValueResult[T]) IsSuccess() bool {
	return r.err == nil
}

// Value returns the success payload. Calling it on a failure is a programming error and panics.
func (r ValueResult[T]) Value() T {
	if r.err != nil {
		panic(fmt.Sprintf("obd: Value called on failed result: %v", r.err))
	}
	return r.value
}

// Get is the checked accessor.
func (r ValueResult[T]) Get() (T, error) {
	return r.value, r.err
}

// Err returns nil on success.
func (r ValueResult[T]) Err() error {
	return r.err
}

// Message returns the human-readable error text, or "" on success.
func (r ValueResult[T]) Message() string {
	if r.err == nil {
		return ""
	}
	return r.err.Error()
}

func (r ValueResult[T]) String() string {
	if r.err != nil {
		return "Error(" + r.err.Error() + ")"
	}
	return fmt.Sprintf("Success(%v)", r.value)
}
