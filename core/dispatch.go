package core

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// Call invokes the policy named by action in an isolated child scope and
// returns its results.
//
// The call identity is action.CallID when set, otherwise it is derived from
// the scope, the policy name, the canonical payload and how often the same
// request occurred in this scope before. If the scope already recorded results
// for that identity they are returned and the policy is not run. Otherwise the
// caller's permitted actions are checked, the policy is resolved and wrapped
// with decorators (listed outermost first), an action_call step is recorded,
// the policy runs, and its output is recorded as action_result steps.
//
// Errors returned by the policy body are passed through unchanged.
func (c *InvocationContext) Call(action Action, decorators ...Decorator) ([]Step, error) {
	payload, err := normalizePayload(action.Payload)
	if err != nil {
		return nil, fmt.Errorf("%w: call to %q: %v", ErrUnserializablePayload, action.Policy, err)
	}
	action.Payload = payload

	callID := action.CallID
	if callID == "" {
		c.mu.Lock()
		id, err := c.deriveCallIDLocked(action.Policy, action.Payload)
		c.mu.Unlock()
		if err != nil {
			return nil, err
		}
		callID = id
	}

	call := NewActionCall(c.action.Policy, action.Policy, action.Payload).WithCallID(callID)
	call.ID = callStepID(callID)

	return c.dispatch(c.ctx, call, action.WithCallID(callID), decorators, true)
}

// Commit records steps in the scope ledger and returns them as stored.
//
// Steps without an ID get a deterministic one, and action_call steps without
// a call identity get a derived one. Steps whose ID is already recorded are
// not appended again, which lets nested decorators commit the same output
// without duplicating it.
func (c *InvocationContext) Commit(steps ...Step) ([]Step, error) {
	if len(steps) == 0 {
		return nil, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	out, added, err := c.commitLocked(steps)
	if err != nil {
		return nil, err
	}

	if added > 0 {
		if err := c.checkpointLocked(); err != nil {
			return nil, err
		}
	}

	return out, nil
}

// Authorize checks every action_call step in steps against the permitted
// actions of this invocation and returns a *CapabilityError for the first
// target that is not allowed. Calls already resolved in this scope pass, since
// they are answered from the ledger. Nothing is recorded.
func (c *InvocationContext) Authorize(steps ...Step) error {
	for _, s := range steps {
		if s.Type != StepActionCall {
			continue
		}

		policy, _, err := s.CallTarget()
		if err != nil {
			return err
		}

		if c.action.Actions.Permits(policy) {
			continue
		}

		if s.CallID != "" {
			c.mu.Lock()
			_, done := c.resolved[s.CallID]
			c.mu.Unlock()
			if done {
				continue
			}
		}

		err = &CapabilityError{Caller: c.action.Policy, Policy: policy}
		c.rt.observer.ObserveCall(policy, OutcomeDenied, 0)
		c.LogError("call.error", "policy", policy, "call_id", s.CallID, "scope", c.scope, "outcome", string(OutcomeDenied), "error", err.Error())
		return err
	}
	return nil
}

// Resolve runs the targets of action_call steps concurrently and returns
// their results in call order. Steps not yet in the scope ledger are
// committed first. Each result is recorded as soon as its
// call completes. Calls already resolved in this scope are answered from the
// ledger. Sub-calls inherit this invocation's permitted actions.
//
// If any target is not permitted a *CapabilityError is returned and no call is
// recorded. A fatal error cancels the remaining calls and is returned; calls
// that have not started by then are never run. Calls that suspend do not
// cancel their siblings; once all have finished, the pending calls are
// reported together in a *SuspendError.
func (c *InvocationContext) Resolve(calls ...Step) ([]Step, error) {
	type job struct {
		call   Step
		action Action
	}

	if err := c.Authorize(calls...); err != nil {
		return nil, err
	}

	var jobs []job
	for _, s := range calls {
		if s.Type != StepActionCall {
			continue
		}

		committed, err := c.Commit(s)
		if err != nil {
			return nil, err
		}
		s = committed[0]

		policy, payload, err := s.CallTarget()
		if err != nil {
			return nil, err
		}

		jobs = append(jobs, job{
			call: s,
			action: Action{
				Policy:  policy,
				Payload: payload,
				Actions: c.action.Actions,
				CallID:  s.CallID,
			},
		})
	}

	switch len(jobs) {
	case 0:
		return nil, nil
	case 1:
		return c.dispatch(c.ctx, jobs[0].call, jobs[0].action, nil, false)
	}

	start := time.Now()

	g, gctx := errgroup.WithContext(c.ctx)
	if c.rt.maxParallel > 0 {
		g.SetLimit(c.rt.maxParallel)
	}

	results := make([][]Step, len(jobs))

	var (
		mu      sync.Mutex
		pending []PendingCall
	)

	for i, j := range jobs {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			out, err := c.dispatch(gctx, j.call, j.action, nil, false)

			var se *SuspendError
			if errors.As(err, &se) {
				mu.Lock()
				pending = append(pending, se.Pending...)
				mu.Unlock()
				return nil
			}

			if err != nil {
				return err
			}

			results[i] = out
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	c.LogDebug(
		"calls.batch.complete",
		"scope", c.scope,
		"count", len(jobs),
		"parallelism", c.rt.maxParallel,
		"suspended", len(pending),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if len(pending) > 0 {
		sort.Slice(pending, func(a, b int) bool { return pending[a].CallID < pending[b].CallID })
		return nil, &SuspendError{Pending: pending}
	}

	var out []Step
	for _, r := range results {
		out = append(out, r...)
	}
	return out, nil
}

// dispatch resolves a single call. When record is set the action_call step is
// committed before the policy runs; otherwise it is expected to be committed
// already. Once ctx is done nothing more is run or recorded.
func (c *InvocationContext) dispatch(ctx context.Context, call Step, action Action, decorators []Decorator, record bool) ([]Step, error) {
	start := time.Now()
	callID := call.CallID

	if err := ctx.Err(); err != nil {
		c.LogDebug("call.skipped", "policy", action.Policy, "call_id", callID, "scope", c.scope, "error", err.Error())
		return nil, err
	}

	ctx, span := c.rt.tracer.Start(ctx, "policymesh.call", trace.WithAttributes(
		attribute.String("policymesh.policy", action.Policy),
		attribute.String("policymesh.call_id", callID),
		attribute.String("policymesh.scope", c.scope),
		attribute.String("policymesh.caller", c.action.Policy),
	))
	defer span.End()

	replayed, ok, err := c.replay(call, record)
	if err != nil {
		return nil, c.fail(span, action.Policy, callID, OutcomeFailed, start, err)
	}

	if ok {
		span.SetAttributes(attribute.Bool("policymesh.replayed", true))
		c.rt.observer.ObserveCall(action.Policy, OutcomeReplayed, time.Since(start))
		c.LogDebug("call.replayed", "policy", action.Policy, "call_id", callID, "scope", c.scope, "results", len(replayed))
		return replayed, nil
	}

	if !c.action.Actions.Permits(action.Policy) {
		err := &CapabilityError{Caller: c.action.Policy, Policy: action.Policy}
		return nil, c.fail(span, action.Policy, callID, OutcomeDenied, start, err)
	}

	policy, err := c.rt.registry.Resolve(action.Policy)
	if err != nil {
		return nil, c.fail(span, action.Policy, callID, OutcomeFailed, start, err)
	}

	wrapped, err := Compose(policy, decorators...)
	if err != nil {
		return nil, c.fail(span, action.Policy, callID, OutcomeFailed, start, err)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := c.rt.limiter.Increment(); err != nil {
		return nil, c.fail(span, action.Policy, callID, OutcomeFailed, start, err)
	}

	if record {
		if _, err := c.Commit(call); err != nil {
			return nil, c.fail(span, action.Policy, callID, OutcomeFailed, start, err)
		}
	}

	child, err := c.child(ctx, callID, action)
	if err != nil {
		return nil, c.fail(span, action.Policy, callID, OutcomeFailed, start, err)
	}

	c.LogDebug("call.start", "policy", action.Policy, "call_id", callID, "scope", c.scope)

	out, err := child.Execute(wrapped)
	if err != nil {
		var se *SuspendError
		if !errors.As(err, &se) && errors.Is(err, ErrSuspend) {
			err = &SuspendError{Pending: []PendingCall{{
				Scope:   c.scope,
				CallID:  callID,
				Policy:  action.Policy,
				Payload: action.Payload,
			}}}
		}

		if errors.Is(err, ErrSuspended) {
			span.SetAttributes(attribute.Bool("policymesh.suspended", true))
			c.rt.observer.ObserveCall(action.Policy, OutcomeSuspended, time.Since(start))
			c.LogInfo("call.suspended", "policy", action.Policy, "call_id", callID, "scope", c.scope)
			return nil, err
		}

		return nil, c.fail(span, action.Policy, callID, OutcomeFailed, start, err)
	}

	// A sibling aborted the turn while the body ran.
	if err := ctx.Err(); err != nil {
		return nil, c.fail(span, action.Policy, callID, OutcomeFailed, start, err)
	}

	results, err := c.Commit(bindResults(out, action.Policy, callID)...)
	if err != nil {
		return nil, c.fail(span, action.Policy, callID, OutcomeFailed, start, err)
	}

	c.rt.observer.ObserveCall(action.Policy, OutcomeExecuted, time.Since(start))
	c.LogInfo(
		"call.success",
		"policy", action.Policy,
		"call_id", callID,
		"scope", c.scope,
		"results", len(results),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return results, nil
}

// replay answers a call from recorded results and re-records them in the live
// ledger.
func (c *InvocationContext) replay(call Step, record bool) ([]Step, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	results := c.resolved[call.CallID]
	if len(results) == 0 {
		return nil, false, nil
	}

	var batch []Step
	if record {
		recorded, ok := c.calls[call.CallID]
		if !ok {
			recorded = call
		}
		batch = append(batch, recorded)
	}
	batch = append(batch, results...)

	out, added, err := c.commitLocked(batch)
	if err != nil {
		return nil, false, err
	}

	if added > 0 {
		if err := c.checkpointLocked(); err != nil {
			return nil, false, err
		}
	}

	return out[len(out)-len(results):], true, nil
}

func (c *InvocationContext) fail(span trace.Span, policy, callID string, outcome CallOutcome, start time.Time, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	c.rt.observer.ObserveCall(policy, outcome, time.Since(start))
	c.LogError("call.error", "policy", policy, "call_id", callID, "scope", c.scope, "outcome", string(outcome), "error", err.Error())
	return err
}

func (c *InvocationContext) commitLocked(steps []Step) ([]Step, int, error) {
	out := make([]Step, len(steps))
	fresh := make([]Step, 0, len(steps))
	batch := make(map[string]int)
	pos := c.ledger.Len()

	for i, s := range steps {
		if s.Type == StepActionCall && s.CallID == "" {
			policy, payload, err := s.CallTarget()
			if err != nil {
				return nil, 0, err
			}
			id, err := c.deriveCallIDLocked(policy, payload)
			if err != nil {
				return nil, 0, err
			}
			s.CallID = id
		}

		if s.ID == "" {
			if s.Type == StepActionCall {
				s.ID = callStepID(s.CallID)
			} else {
				s.ID = "step:" + strconv.Itoa(pos)
			}
		}

		out[i] = s

		if _, ok := c.ids[s.ID]; ok {
			continue
		}
		if _, ok := batch[s.ID]; ok {
			continue
		}

		batch[s.ID] = pos
		fresh = append(fresh, s)
		pos++
	}

	next, err := c.ledger.Extend(fresh...)
	if err != nil {
		return nil, 0, err
	}

	base := c.ledger.Len()
	for i := base; i < next.Len(); i++ {
		s := next.steps[i]
		c.ids[s.ID] = i
		switch s.Type {
		case StepActionCall:
			c.calls[s.CallID] = s
		case StepActionResult:
			if s.CallID != "" && !c.hasResultLocked(s) {
				c.resolved[s.CallID] = append(c.resolved[s.CallID], s)
			}
		}
	}
	c.ledger = next

	for i := range out {
		out[i] = next.steps[c.ids[out[i].ID]].Clone()
	}

	return out, len(fresh), nil
}

func (c *InvocationContext) hasResultLocked(s Step) bool {
	for _, r := range c.resolved[s.CallID] {
		if r.ID == s.ID {
			return true
		}
	}
	return false
}

// deriveCallIDLocked hashes the request and appends its occurrence index in
// this scope. JSON encoding sorts map keys, which makes the payload canonical.
func (c *InvocationContext) deriveCallIDLocked(policy string, payload map[string]any) (string, error) {
	canonical, err := json.Marshal(orEmpty(payload))
	if err != nil {
		return "", fmt.Errorf("%w: call to %q: %v", ErrUnserializablePayload, policy, err)
	}

	h := sha256.New()
	h.Write([]byte(c.scope))
	h.Write([]byte{0})
	h.Write([]byte(policy))
	h.Write([]byte{0})
	h.Write(canonical)

	digest := hex.EncodeToString(h.Sum(nil))[:24]
	n := c.seen[digest]
	c.seen[digest] = n + 1

	return digest + "-" + strconv.Itoa(n), nil
}

func bindResults(out []Step, policy, callID string) []Step {
	if len(out) == 0 {
		out = []Step{NewActionResult(policy, nil)}
	}

	results := make([]Step, len(out))
	for i, s := range out {
		r := s.Clone()
		r.Type = StepActionResult
		r.CallID = callID
		r.ID = resultStepID(callID, i)
		if r.Actor == "" {
			r.Actor = policy
		}
		results[i] = r
	}
	return results
}

func callStepID(callID string) string { return "call:" + callID }

func resultStepID(callID string, i int) string {
	return "result:" + callID + ":" + strconv.Itoa(i)
}

// CompleteCall returns l with steps recorded as the results of the pending
// call callID. Workers use it to attach results produced out of process; the
// next replay of the scope picks them up instead of running the call.
func CompleteCall(l Ledger, callID string, steps ...Step) (Ledger, error) {
	var (
		policy string
		found  bool
	)

	for _, s := range l.steps {
		if s.Type == StepActionCall && s.CallID == callID {
			p, _, err := s.CallTarget()
			if err != nil {
				return l, err
			}
			policy, found = p, true
			break
		}
	}

	if !found {
		return l, fmt.Errorf("%w: no call %q in ledger", ErrInvalidActionCall, callID)
	}

	if len(l.Results(callID)) > 0 {
		return l, fmt.Errorf("%w: call %q is already resolved", ErrInvalidActionCall, callID)
	}

	return l.Extend(bindResults(steps, policy, callID)...)
}
