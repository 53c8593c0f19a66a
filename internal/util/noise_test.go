package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNoiseDeterministicAndBounded(t *testing.T) {
	a := NewNoise(7)
	b := NewNoise(7)

	for i := 0; i < 50; i++ {
		x := float64(i) * 0.37
		va := a.Noise1D(x)
		assert.Equal(t, va, b.Noise1D(x), "одинаковый сид даёт одинаковый шум")
		assert.GreaterOrEqual(t, va, 0.0)
		assert.LessOrEqual(t, va, 1.0)
	}
}
