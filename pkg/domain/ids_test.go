package domain

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "custodia/pkg/domain-errors"
)

// TestParseUUID_Invariants validates the parsing invariant:
// ids must be valid, non-empty, non-nil UUIDs.
func TestParseUUID_Invariants(t *testing.T) {
	t.Run("rejects empty string", func(t *testing.T) {
		_, err := ParseContainerID("")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("rejects invalid format", func(t *testing.T) {
		_, err := ParseContainerID("not-a-uuid")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("rejects nil UUID", func(t *testing.T) {
		_, err := ParseRequestID(uuid.Nil.String())
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("accepts valid UUID", func(t *testing.T) {
		valid := uuid.New()
		id, err := ParseContainerID(valid.String())
		require.NoError(t, err)
		assert.Equal(t, ContainerID(valid), id)
	})
}

// TestTypeDistinction verifies the compiler enforces type safety between ids.
// If this compiles, cross-type assignment is impossible.
func TestTypeDistinction(t *testing.T) {
	containerID := ContainerID(uuid.New())
	custodianID := CustodianID(uuid.New())

	// These would fail to compile if the types were interchangeable:
	// var _ ContainerID = custodianID
	// var _ CustodianID = containerID

	assert.NotEqual(t, uuid.UUID(containerID), uuid.UUID(custodianID))
}

func TestIsNil(t *testing.T) {
	assert.True(t, ContainerID{}.IsNil())
	assert.False(t, ContainerID(uuid.New()).IsNil())
	assert.True(t, InstanceID{}.IsNil())
}
