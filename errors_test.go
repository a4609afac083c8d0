package smax

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorIsMatchesByKindOnly(t *testing.T) {
	e1 := newError("op1", KindTimeout, errors.New("dial timed out"))
	e2 := newError("op2", KindTimeout, errors.New("read timed out"))
	assert.True(t, e1.Is(e2))
	assert.ErrorIs(t, e1, ErrTimeout)
	assert.NotErrorIs(t, e1, ErrNoService)
}

func TestKindOfUnwrapsWrappedError(t *testing.T) {
	base := newError("Client.Read", KindScriptMissing, errors.New("NOSCRIPT"))
	wrapped := errors.New("context: " + base.Error())
	assert.Equal(t, KindUnknown, KindOf(wrapped))
	assert.Equal(t, KindScriptMissing, KindOf(base))
	assert.Equal(t, KindScriptMissing, KindOf(fmt.Errorf("context: %w", base)))
}

func TestErrorMessageIncludesOpAndKind(t *testing.T) {
	err := newError("Client.Write", KindNoService, nil)
	assert.Contains(t, err.Error(), "Client.Write")
	assert.Contains(t, err.Error(), "no-service")
}
