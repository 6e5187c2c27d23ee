package skill

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moltworks/colony/pkg/llm"
)

type echoSkill struct {
	name  string
	funcs []string
}

func (e *echoSkill) Name() string { return e.name }

func (e *echoSkill) Functions() []llm.ToolSpec {
	out := make([]llm.ToolSpec, len(e.funcs))
	for i, fn := range e.funcs {
		out[i] = llm.ToolSpec{
			Name:       fn,
			Parameters: map[string]any{"type": "object"},
		}
	}
	return out
}

func (e *echoSkill) Invoke(_ context.Context, function string, args json.RawMessage) (json.RawMessage, error) {
	return json.Marshal(map[string]any{"skill": e.name, "function": function, "args": string(args)})
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&echoSkill{name: "market", funcs: []string{"get_price"}}))
	require.NoError(t, r.Register(&echoSkill{name: "social", funcs: []string{"post_update"}}))

	s, err := r.Get("market")
	require.NoError(t, err)
	assert.Equal(t, "market", s.Name())

	_, err = r.Get("missing")
	assert.ErrorIs(t, err, ErrUnknownSkill)

	assert.Equal(t, []string{"market", "social"}, r.Names())
}

func TestRegistry_DuplicateRejected(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&echoSkill{name: "market"}))
	assert.Error(t, r.Register(&echoSkill{name: "market"}))
}

func TestRegistry_ToolSpecs(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&echoSkill{name: "market", funcs: []string{"get_price", "get_volume"}}))
	require.NoError(t, r.Register(&echoSkill{name: "social", funcs: []string{"post_update"}}))

	specs := r.ToolSpecs([]string{"social", "market", "not_wired_here"})
	require.Len(t, specs, 3)
	assert.Equal(t, "post_update", specs[0].Name)
	assert.Equal(t, "get_price", specs[1].Name)
	assert.Equal(t, "get_volume", specs[2].Name)

	assert.Empty(t, r.ToolSpecs(nil))
}

func TestRegistry_InvokeRoutesByFunction(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&echoSkill{name: "market", funcs: []string{"get_price"}}))

	res, err := r.Invoke(context.Background(), "get_price", json.RawMessage(`{"symbol":"MOLT"}`))
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(res, &decoded))
	assert.Equal(t, "market", decoded["skill"])
	assert.Equal(t, "get_price", decoded["function"])

	_, err = r.Invoke(context.Background(), "launch_rockets", nil)
	assert.ErrorIs(t, err, ErrUnknownFunction)
}
