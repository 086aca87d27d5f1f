package orchestrator

import "errors"

var (
	// ErrInvalidTransition indicates a lifecycle operation was requested
	// from a state that forbids it. The context's status is unchanged.
	ErrInvalidTransition = errors.New("invalid lifecycle transition")

	// ErrContextNotFound indicates an unknown context id.
	ErrContextNotFound = errors.New("context not found")

	// ErrRefNotFound indicates no cross-reference exists between the pair.
	ErrRefNotFound = errors.New("cross-reference not found")

	// ErrParentRequired indicates a merge was attempted on a root context.
	ErrParentRequired = errors.New("context has no parent to merge into")

	// ErrSelfReference indicates a cross-reference from a context to itself.
	ErrSelfReference = errors.New("context cannot reference itself")
)
