package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_RegisterAndResolve(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register("echo", echoPolicy(), Metadata{Description: "Echo the payload"}))

	p, err := reg.Resolve("echo")
	require.NoError(t, err)
	assert.NotNil(t, p)

	entry, ok := reg.Lookup("echo")
	require.True(t, ok)
	assert.Equal(t, "echo", entry.Metadata.Name)
	assert.Equal(t, KindTool, entry.Metadata.Kind)
	assert.Equal(t, "Echo the payload", entry.Metadata.Description)
}

func TestRegistry_Errors(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register("echo", echoPolicy()))

	_, err := reg.Resolve("missing")
	assert.ErrorIs(t, err, ErrPolicyNotFound)

	assert.ErrorIs(t, reg.Register("echo", echoPolicy()), ErrDuplicatePolicy)
	assert.ErrorIs(t, reg.Register("", echoPolicy()), ErrInvalidPolicy)
	assert.ErrorIs(t, reg.Register("nil", nil), ErrInvalidPolicy)

	reg.Freeze()
	assert.True(t, reg.Frozen())
	assert.ErrorIs(t, reg.Register("late", echoPolicy()), ErrRegistryFrozen)

	assert.Panics(t, func() { reg.MustRegister("late", echoPolicy()) })
}

func TestRegistry_Describe(t *testing.T) {
	reg := NewRegistry().
		MustRegister("search", echoPolicy(), Metadata{Description: "Search the web"}).
		MustRegister("adder", adderPolicy(), Metadata{
			Description: "Add two numbers",
			InputSchema: map[string]any{"type": "object", "required": []any{"b", "a"}},
		}).
		MustRegister("planner", echoPolicy(), Metadata{Kind: KindInternal})

	assert.Equal(t, []string{"adder", "planner", "search"}, reg.Names())

	described := reg.Describe(Unrestricted())
	require.Len(t, described, 2)
	assert.Equal(t, "adder", described[0].Name)
	assert.Equal(t, []string{"a", "b"}, described[0].RequiredParams())

	described = reg.Describe(Allow("search"))
	require.Len(t, described, 1)
	assert.Equal(t, "search", described[0].Name)

	assert.Empty(t, reg.Describe(ActionSet{}))
}

type layered struct{ layer int }

func (l layered) Decorate(inner Policy) Policy { return inner }
func (l layered) Layer() int                   { return l.layer }

func TestCompose_Order(t *testing.T) {
	var order []string
	trace := func(name string) Decorator {
		return decoratorFunc(func(inner Policy) Policy {
			return PolicyFunc(func(ctx *InvocationContext, a Action) ([]Step, error) {
				order = append(order, name)
				return inner.Run(ctx, a)
			})
		})
	}

	p, err := Compose(PolicyFunc(func(*InvocationContext, Action) ([]Step, error) {
		order = append(order, "policy")
		return nil, nil
	}), trace("outer"), trace("inner"))
	require.NoError(t, err)

	_, err = p.Run(nil, Action{})
	require.NoError(t, err)
	assert.Equal(t, []string{"outer", "inner", "policy"}, order)

	_, err = Compose(echoPolicy(), layered{0}, layered{1})
	assert.NoError(t, err)

	_, err = Compose(echoPolicy(), layered{1}, layered{0})
	assert.ErrorIs(t, err, ErrDecoratorOrder)
}

type decoratorFunc func(Policy) Policy

func (f decoratorFunc) Decorate(inner Policy) Policy { return f(inner) }
