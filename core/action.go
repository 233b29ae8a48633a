package core

import (
	"encoding/json"
	"slices"
	"sort"
)

// Action is the request envelope handed to a policy: the target policy name,
// its payload and the set of sub-policies the receiving policy may call.
type Action struct {
	Policy  string         `json:"policy"`
	Payload map[string]any `json:"payload"`
	Actions ActionSet      `json:"actions"`
	// CallID pins the call identity. When empty, the context derives one from
	// the call's content and its occurrence within the scope.
	CallID string `json:"call_id,omitempty"`
}

// NewAction creates an Action for policy. A nil payload becomes an empty map.
func NewAction(policy string, payload map[string]any) Action {
	return Action{Policy: policy, Payload: orEmpty(payload)}
}

// WithActions returns a copy of a permitted to call the policies in set.
func (a Action) WithActions(set ActionSet) Action {
	a.Actions = set
	return a
}

// WithCallID returns a copy of a with an explicit call identity.
func (a Action) WithCallID(id string) Action {
	a.CallID = id
	return a
}

// ActionSet is the capability boundary of an Action. The zero value permits
// no sub-calls at all; Unrestricted permits every registered policy.
type ActionSet struct {
	names        map[string]struct{}
	unrestricted bool
}

// Allow returns a set permitting exactly names.
func Allow(names ...string) ActionSet {
	set := ActionSet{names: make(map[string]struct{}, len(names))}
	for _, n := range names {
		set.names[n] = struct{}{}
	}
	return set
}

// Unrestricted returns the sentinel set permitting any policy.
func Unrestricted() ActionSet {
	return ActionSet{unrestricted: true}
}

// Permits reports whether policy may be called.
func (s ActionSet) Permits(policy string) bool {
	if s.unrestricted {
		return true
	}
	_, ok := s.names[policy]
	return ok
}

// IsUnrestricted reports whether s is the unrestricted sentinel.
func (s ActionSet) IsUnrestricted() bool { return s.unrestricted }

// IsEmpty reports whether s permits nothing.
func (s ActionSet) IsEmpty() bool { return !s.unrestricted && len(s.names) == 0 }

// Names returns the explicitly permitted names in sorted order. It is empty
// for the unrestricted sentinel.
func (s ActionSet) Names() []string {
	out := make([]string, 0, len(s.names))
	for n := range s.names {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Union returns a set permitting everything s or other permits.
func (s ActionSet) Union(other ActionSet) ActionSet {
	if s.unrestricted || other.unrestricted {
		return Unrestricted()
	}
	return Allow(slices.Concat(s.Names(), other.Names())...)
}

const unrestrictedToken = "*"

// MarshalJSON encodes the set as a sorted list of names, or ["*"] for the
// unrestricted sentinel.
func (s ActionSet) MarshalJSON() ([]byte, error) {
	if s.unrestricted {
		return json.Marshal([]string{unrestrictedToken})
	}
	return json.Marshal(s.Names())
}

// UnmarshalJSON decodes the format written by MarshalJSON.
func (s *ActionSet) UnmarshalJSON(data []byte) error {
	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return err
	}

	if slices.Contains(names, unrestrictedToken) {
		*s = Unrestricted()
		return nil
	}

	*s = Allow(names...)
	return nil
}
