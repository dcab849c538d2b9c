package tools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tejulabs/corpora/internal/core"
)

func TestRegisterValidation(t *testing.T) {
	r := NewRegistry()

	err := r.Register(core.ToolSpec{Name: ""}, func(context.Context, map[string]any) Result { return Result{} })
	assert.Error(t, err)

	err = r.Register(core.ToolSpec{Name: "echo"}, nil)
	assert.Error(t, err)

	ok := func(context.Context, map[string]any) Result { return Result{Success: true} }
	require.NoError(t, r.Register(core.ToolSpec{Name: "echo"}, ok))
	assert.Error(t, r.Register(core.ToolSpec{Name: "echo"}, ok), "duplicate registration must fail")
}

func TestDispatchUnknownToolIsResultNotError(t *testing.T) {
	r := NewRegistry()
	res := r.Dispatch(context.Background(), "does_not_exist", nil)
	assert.False(t, res.Success)
	assert.Contains(t, res.Message, "unknown tool")
}

func TestDispatchContainsPanic(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(core.ToolSpec{Name: "explode"}, func(context.Context, map[string]any) Result {
		panic("handler bug")
	}))

	res := r.Dispatch(context.Background(), "explode", nil)
	assert.False(t, res.Success)
	assert.NotEmpty(t, res.Message)
}

func TestSpecsStableOrder(t *testing.T) {
	r := NewRegistry()
	h := func(context.Context, map[string]any) Result { return Result{} }
	require.NoError(t, r.Register(core.ToolSpec{Name: "zeta"}, h))
	require.NoError(t, r.Register(core.ToolSpec{Name: "alpha"}, h))

	specs := r.Specs()
	require.Len(t, specs, 2)
	assert.Equal(t, "alpha", specs[0].Name)
	assert.Equal(t, "zeta", specs[1].Name)
}

func TestUserIDContext(t *testing.T) {
	ctx := WithUserID(context.Background(), "u-1")
	assert.Equal(t, "u-1", UserIDFrom(ctx))
	assert.Equal(t, "", UserIDFrom(context.Background()))
}
