package frame_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dacsson/lamarik/internal/frame"
	"github.com/dacsson/lamarik/internal/value"
)

func buildStack(nArgs, nLocals int) ([]value.Word, int) {
	fp := 0
	stack := make([]value.Word, 1+frame.Size(nArgs, nLocals))
	stack[fp+1] = value.Nil
	stack[fp+2] = value.Box(int64(nArgs))
	stack[fp+3] = value.Box(int64(nLocals))
	stack[fp+4] = value.Box(0)
	stack[fp+5] = value.Box(0)
	for i := 0; i < nArgs; i++ {
		stack[frame.ArgIndex(fp, i)] = value.Box(int64(10 + i))
	}
	return stack, fp
}

func TestReadMetadata(t *testing.T) {
	stack, fp := buildStack(2, 1)
	m, err := frame.Read(stack, fp)
	require.NoError(t, err)
	assert.Equal(t, 2, m.NArgs)
	assert.Equal(t, 1, m.NLocals)
}

func TestArgAndLocalAccess(t *testing.T) {
	stack, fp := buildStack(2, 1)
	m, err := frame.Read(stack, fp)
	require.NoError(t, err)

	a0, err := m.ArgAt(stack, fp, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(10), value.Unbox(a0))

	require.NoError(t, m.SetLocalAt(stack, fp, 0, value.Box(99)))
	l0, err := m.LocalAt(stack, fp, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(99), value.Unbox(l0))
}

func TestSetLocalOutOfDeclaredRangeRejected(t *testing.T) {
	stack, fp := buildStack(1, 1)
	m, err := frame.Read(stack, fp)
	require.NoError(t, err)
	require.Error(t, m.SetLocalAt(stack, fp, 1, value.Box(1)))
}

func TestClosureSlot(t *testing.T) {
	stack, fp := buildStack(0, 0)
	require.NoError(t, frame.SaveClosure(stack, fp, value.FromHandle(3)))
	c, err := frame.GetClosure(stack, fp)
	require.NoError(t, err)
	assert.Equal(t, 3, value.Handle(c))
}
