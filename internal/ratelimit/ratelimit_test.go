package ratelimit

import (
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestBurstThenDrop(t *testing.T) {
	l := NewLimiter(1, 3, 0)

	for i := 0; i < 3; i++ {
		assert.Equal(t, l.Check(), Allow)
	}
	assert.Equal(t, l.Check(), Drop)
	assert.Equal(t, l.Violations(), 1)
}

func TestEscalatesToDisconnect(t *testing.T) {
	l := NewLimiter(0.001, 1, 2)

	assert.Equal(t, l.Check(), Allow)
	assert.Equal(t, l.Check(), Drop)
	assert.Equal(t, l.Check(), Drop)
	assert.Equal(t, l.Check(), Disconnect)
}
