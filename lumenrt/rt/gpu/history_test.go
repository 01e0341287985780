package gpu

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHistory_Swap(t *testing.T) {
	h := NewHistory[ViewID](10, 20)
	assert.Equal(t, ViewID(10), h.Current())
	assert.Equal(t, ViewID(20), h.Previous())

	h.Swap()
	assert.Equal(t, 1, h.Parity())
	assert.Equal(t, ViewID(20), h.Current())
	assert.Equal(t, ViewID(10), h.Previous())
	assert.Equal(t, [2]ViewID{10, 20}, h.Slots())

	h.Swap()
	assert.Equal(t, ViewID(10), h.Current())

	h.Swap()
	h.Reset(30, 40)
	assert.Equal(t, 0, h.Parity())
	assert.Equal(t, ViewID(30), h.Current())
}

func TestDeviceError(t *testing.T) {
	assert.NoError(t, Wrap("depth", "execute", nil))

	base := errors.New("lost")
	err := Wrap("depth", "execute", base)
	var de *DeviceError
	assert.True(t, errors.As(err, &de))
	assert.Equal(t, "depth", de.Pass)
	assert.ErrorIs(t, err, base)
	assert.Contains(t, err.Error(), "depth")

	// Already-wrapped errors keep their original pass.
	assert.Same(t, err, Wrap("lighting", "execute", err))
}

func TestUniforms(t *testing.T) {
	p := &Pass{Uniforms: []Uniform{UniformFloat(0, 2.5), UniformInt(1, -3), UniformBool(2, true)}}
	u, ok := p.Uniform(0)
	assert.True(t, ok)
	assert.Equal(t, float32(2.5), u.Float())
	u, _ = p.Uniform(1)
	assert.Equal(t, int32(-3), u.Int())
	u, _ = p.Uniform(2)
	assert.Equal(t, uint32(1), u.Bits)
	_, ok = p.Uniform(9)
	assert.False(t, ok)
}
