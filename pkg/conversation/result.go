// Package conversation runs multi-turn sessions on top of the event log.
package conversation

import "errors"

// Kind tags the state carried by a Result.
type Kind int

const (
	// KindSuccess carries a value.
	KindSuccess Kind = iota
	// KindEmpty means there was nothing to return yet. It is not an error.
	KindEmpty
	// KindFailure carries the reason the operation failed.
	KindFailure
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindSuccess:
		return "success"
	case KindEmpty:
		return "empty"
	case KindFailure:
		return "failure"
	default:
		return "unknown"
	}
}

var errUnknownFailure = errors.New("unknown failure")

// Result is a three-way outcome: Success(value), Empty or Failure(err).
type Result[T any] struct {
	kind  Kind
	value T
	err   error
}

// Success wraps a value.
func Success[T any](v T) Result[T] {
	return Result[T]{kind: KindSuccess, value: v}
}

// Empty reports that there is nothing to show.
func Empty[T any]() Result[T] {
	return Result[T]{kind: KindEmpty}
}

// Failure wraps the reason for a failed operation. A nil err is replaced so
// that a Failure always carries a reason.
func Failure[T any](err error) Result[T] {
	if err == nil {
		err = errUnknownFailure
	}
	return Result[T]{kind: KindFailure, err: err}
}

// Kind returns the tag.
func (r Result[T]) Kind() Kind { return r.kind }

// IsSuccess reports whether r carries a value.
func (r Result[T]) IsSuccess() bool { return r.kind == KindSuccess }

// IsEmpty reports whether r is Empty.
func (r Result[T]) IsEmpty() bool { return r.kind == KindEmpty }

// IsFailure reports whether r is a Failure.
func (r Result[T]) IsFailure() bool { return r.kind == KindFailure }

// Value returns the value and whether r is a Success.
func (r Result[T]) Value() (T, bool) {
	return r.value, r.kind == KindSuccess
}

// Err returns the failure reason, or nil unless r is a Failure.
func (r Result[T]) Err() error {
	return r.err
}

// Match calls exactly one of the handlers depending on the kind of r.
func Match[T, R any](r Result[T], onSuccess func(T) R, onEmpty func() R, onFailure func(error) R) R {
	switch r.kind {
	case KindSuccess:
		return onSuccess(r.value)
	case KindEmpty:
		return onEmpty()
	default:
		return onFailure(r.err)
	}
}
