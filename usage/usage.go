// Package usage defines the boundary to the subscription and usage
// accounting collaborator.
//
// The execution engine enforces no quota. Transports ask a Gate before
// running code and record the execution afterwards.
package usage

import "context"

// Decision is the answer to a permission check.
type Decision struct {
	Allowed bool
	Reason  string
}

// Gate is implemented by the usage accounting collaborator.
type Gate interface {
	CanExecute(ctx context.Context) (Decision, error)
	RecordExecution(ctx context.Context) error
}

// Unlimited allows every execution and records nothing.
type Unlimited struct{}

// NewUnlimited returns the permissive Gate used when no accounting is wired.
func NewUnlimited() Gate {
	return Unlimited{}
}

func (Unlimited) CanExecute(context.Context) (Decision, error) {
	return Decision{Allowed: true}, nil
}

func (Unlimited) RecordExecution(context.Context) error {
	return nil
}
