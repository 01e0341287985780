package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProfiler(t *testing.T) {
	p := NewProfiler()
	p.Begin("depth")
	p.End("depth")
	p.Begin("lighting")
	p.End("lighting")
	p.Begin("depth")
	p.End("depth")
	p.End("never started")
	p.SetCount("lights", 12)

	assert.Equal(t, []string{"depth", "lighting"}, p.Scopes())
	assert.Equal(t, 2, p.Samples("depth"))
	assert.Equal(t, 1, p.Samples("lighting"))
	assert.Zero(t, p.Samples("never started"))
	assert.Equal(t, 12, p.Count("lights"))
	assert.GreaterOrEqual(t, int64(p.Average("depth")), int64(0))

	out := p.String()
	assert.Contains(t, out, "depth")
	assert.Contains(t, out, "lights")
}
