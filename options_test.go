package jewel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOptionsDefaults(t *testing.T) {
	o := NewOptions()
	assert.False(t, o.GetBool("verbose"))
	assert.Equal(t, 2, o.GetInt("warning-level"))
	assert.Equal(t, 1, o.GetInt("optimize"))
	assert.Equal(t, "jc", o.GetString("file-ext"))
	assert.Equal(t, "default", o.GetString("error-format"))
}

func TestOptionsParseString(t *testing.T) {
	o := NewOptions()
	require.NoError(t, o.ParseOptionString("optimize=2, verbose; warning-level=4", false))
	assert.Equal(t, 2, o.GetInt("optimize"))
	assert.True(t, o.GetBool("verbose"))
	assert.Equal(t, 4, o.GetInt("warning-level"))
}

func TestOptionsOptimizeThreeForcesStackLocals(t *testing.T) {
	o := NewOptions()
	require.NoError(t, o.ParseOptionString("optimize=3", false))
	assert.Equal(t, 1, o.GetInt("stack-locals"))
}

func TestOptionsRange(t *testing.T) {
	o := NewOptions()
	err := o.ParseOptionString("warning-level=9", false)
	require.Error(t, err)
	ce, ok := err.(CompileError)
	require.True(t, ok)
	assert.Equal(t, ErrInvalidOptionValue, ce.Code)
}

func TestOptionsUnknownName(t *testing.T) {
	o := NewOptions()
	err := o.ParseOptionString("bogus=1", false)
	require.Error(t, err)
	ce, ok := err.(CompileError)
	require.True(t, ok)
	assert.Equal(t, ErrInvalidOption, ce.Code)
}

func TestOptionsRuntimeLocked(t *testing.T) {
	o := NewOptions()
	err := o.ParseOptionString("data-stack-size=128", true)
	assert.Equal(t, errRuntimeLocked, err)
	// non-sizing options still apply while locked
	require.NoError(t, o.ParseOptionString("verbose=1", true))
}

func TestOptionsStackSizeAlias(t *testing.T) {
	o := NewOptions()
	require.NoError(t, o.ParseOptionString("stack-size=512", false))
	assert.Equal(t, 512, o.GetInt("call-stack-size"))
	assert.Equal(t, 512, o.GetInt("data-stack-size"))
}

func TestOptionsFileExtValidation(t *testing.T) {
	o := NewOptions()
	require.NoError(t, o.ParseOptionString("file-ext=jewel", false))
	err := o.ParseOptionString("file-ext=not-valid!", false)
	require.Error(t, err)
}

func TestOptionsEnums(t *testing.T) {
	o := NewOptions()
	require.NoError(t, o.ParseOptionString("error-format=ms;log-garbage=brief", false))
	assert.Equal(t, "ms", o.GetString("error-format"))
	assert.Equal(t, "brief", o.GetString("log-garbage"))
	require.Error(t, o.ParseOptionString("log-garbage=everything", false))
}
