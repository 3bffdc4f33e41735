package dErrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHasCode(t *testing.T) {
	t.Run("matches direct code", func(t *testing.T) {
		err := New(CodeValidation, "container is under legal hold")
		assert.True(t, HasCode(err, CodeValidation))
		assert.False(t, HasCode(err, CodeNotFound))
	})

	t.Run("matches wrapped code", func(t *testing.T) {
		inner := New(CodeChainIntegrity, "custody chain broken")
		outer := Wrap(inner, CodeInternal, "transfer failed")
		assert.True(t, HasCode(outer, CodeChainIntegrity))
		assert.True(t, HasCode(outer, CodeInternal))
	})

	t.Run("matches through fmt wrapping", func(t *testing.T) {
		err := fmt.Errorf("record transfer: %w", New(CodeImmutability, "frozen"))
		assert.True(t, HasCode(err, CodeImmutability))
	})

	t.Run("false for foreign errors", func(t *testing.T) {
		assert.False(t, HasCode(errors.New("boom"), CodeInternal))
		assert.False(t, HasCode(nil, CodeInternal))
	})
}

func TestCodeOf(t *testing.T) {
	t.Run("outermost code wins", func(t *testing.T) {
		err := Wrap(New(CodeNotFound, "no such step"), CodeStepNotActionable, "step resolved")
		assert.Equal(t, CodeStepNotActionable, CodeOf(err))
	})

	t.Run("foreign error is internal", func(t *testing.T) {
		assert.Equal(t, CodeInternal, CodeOf(errors.New("boom")))
	})
}

func TestMessageOf(t *testing.T) {
	err := New(CodeNotAuthorized, "approver not in group")
	require.Equal(t, "approver not in group", MessageOf(err))
	assert.Equal(t, "boom", MessageOf(errors.New("boom")))
}
