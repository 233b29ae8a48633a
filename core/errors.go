package core

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrCapability is returned when a policy calls a sub-policy outside the
	// Action's permitted set.
	ErrCapability = errors.New("capability denied")

	// ErrPolicyNotFound is returned when a policy name is not registered.
	ErrPolicyNotFound = errors.New("policy not found")

	// ErrInvalidPolicy is returned for malformed registrations.
	ErrInvalidPolicy = errors.New("invalid policy")

	// ErrDuplicatePolicy is returned when a name is registered twice.
	ErrDuplicatePolicy = errors.New("policy already registered")

	// ErrRegistryFrozen is returned when registering after Freeze.
	ErrRegistryFrozen = errors.New("registry is frozen")

	// ErrInvalidStep is returned when a step has an unknown type.
	ErrInvalidStep = errors.New("invalid step")

	// ErrUnserializablePayload is returned when a step payload cannot be
	// encoded as JSON.
	ErrUnserializablePayload = errors.New("payload is not serializable")

	// ErrInvalidActionCall is returned for action_call steps without a valid
	// target.
	ErrInvalidActionCall = errors.New("invalid action call")

	// ErrDecoratorOrder is returned when a decorator stack is composed in the
	// wrong order.
	ErrDecoratorOrder = errors.New("invalid decorator order")

	// ErrCallLimitExceeded is returned when a run executes more sub-calls than
	// allowed.
	ErrCallLimitExceeded = errors.New("call limit exceeded")

	// ErrSuspend is returned by a policy whose result will be supplied out of
	// process.
	ErrSuspend = errors.New("suspend")

	// ErrSuspended marks a run halted at a pending call.
	ErrSuspended = errors.New("run suspended")

	// ErrMissingKey is returned when a durable run has no storage key.
	ErrMissingKey = errors.New("missing run key")
)

// CapabilityError describes a denied sub-call.
type CapabilityError struct {
	Caller string
	Policy string
}

// Error implements error.
func (e *CapabilityError) Error() string {
	return fmt.Sprintf("%s: %q may not call %q", ErrCapability, e.Caller, e.Policy)
}

// Is matches ErrCapability.
func (e *CapabilityError) Is(target error) bool { return target == ErrCapability }

// PanicError wraps a panic recovered from a policy body.
type PanicError struct {
	Policy string
	Value  any
	Stack  []byte
}

// Error implements error.
func (e *PanicError) Error() string {
	return fmt.Sprintf("policy %q panicked: %v", e.Policy, e.Value)
}

// PendingCall identifies an action_call waiting for an external result.
type PendingCall struct {
	Scope   string         `json:"scope"`
	CallID  string         `json:"call_id"`
	Policy  string         `json:"policy"`
	Payload map[string]any `json:"payload"`
}

// SuspendError reports the calls a run is waiting on.
type SuspendError struct {
	Pending []PendingCall
}

// Error implements error.
func (e *SuspendError) Error() string {
	ids := make([]string, len(e.Pending))
	for i, p := range e.Pending {
		ids[i] = p.Policy + "#" + p.CallID
	}
	return fmt.Sprintf("%s: waiting on %s", ErrSuspended, strings.Join(ids, ", "))
}

// Is matches ErrSuspended.
func (e *SuspendError) Is(target error) bool { return target == ErrSuspended }

// IsSuspended reports whether err carries a suspension.
func IsSuspended(err error) bool {
	return errors.Is(err, ErrSuspended) || errors.Is(err, ErrSuspend)
}
