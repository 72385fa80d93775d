package lifecycle

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidTransition matches every *InvalidTransitionError
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrResolutionRequired matches every *ResolutionRequiredError
	ErrResolutionRequired = errors.New("resolution required")
	// ErrInvalidResolutionStatus is returned for an illegal resolution completion step
	ErrInvalidResolutionStatus = errors.New("invalid resolution status change")
)

// InvalidTransitionError reports a (from, to) pair outside the transition table
type InvalidTransitionError struct {
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot transition return from %q to %q", e.From, e.To)
}

// Is lets errors.Is match ErrInvalidTransition
func (e *InvalidTransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// ResolutionRequiredError reports a transition to resolved without exactly
// one valid resolution payload
type ResolutionRequiredError struct {
	Reason string
}

func (e *ResolutionRequiredError) Error() string {
	return "resolution required: " + e.Reason
}

// Is lets errors.Is match ErrResolutionRequired
func (e *ResolutionRequiredError) Is(target error) bool {
	return target == ErrResolutionRequired
}
