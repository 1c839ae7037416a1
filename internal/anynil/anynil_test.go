package anynil_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/zodbc/zodbc/internal/anynil"
)

func TestIs(t *testing.T) {
	var nilPtr *int
	var nilSlice []byte
	var nilMap map[string]any

	assert.True(t, anynil.Is(nil))
	assert.True(t, anynil.Is(nilPtr))
	assert.True(t, anynil.Is(nilSlice))
	assert.True(t, anynil.Is(nilMap))
	assert.False(t, anynil.Is(0))
	assert.False(t, anynil.Is(""))
	assert.False(t, anynil.Is([]byte{}))
}

func TestDeref(t *testing.T) {
	n := 42
	p := &n
	pp := &p
	var nilPtr *string

	assert.Equal(t, 42, anynil.Deref(p))
	assert.Equal(t, 42, anynil.Deref(pp))
	assert.Equal(t, "x", anynil.Deref("x"))
	assert.Nil(t, anynil.Deref(nilPtr))
	assert.Nil(t, anynil.Deref(nil))
}
