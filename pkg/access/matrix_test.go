package access

import (
	"testing"

	"github.com/keyguard/keyguardd/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDisabledMatrixPermitsEverything(t *testing.T) {
	m := Disabled()
	assert.Equal(t, types.OpReadWrite, m.GetAllowedOperation(1, 2))
	assert.NoError(t, m.Check(1, 2, types.OpWrite))
}

func TestLoadAndLookup(t *testing.T) {
	raw := []byte(`{"userIDs":[{"userID":7,"restrictions":[{"slotNumber":3,"operation":"Read"}]}]}`)
	m, err := Load(raw)
	require.NoError(t, err)
	assert.Equal(t, types.OpRead, m.GetAllowedOperation(7, 3))
	assert.Equal(t, types.OpNone, m.GetAllowedOperation(7, 4))
	assert.Equal(t, types.OpNone, m.GetAllowedOperation(8, 3))
}

func TestCheckRejectsInsufficientPermission(t *testing.T) {
	raw := []byte(`{"userIDs":[{"userID":1,"restrictions":[{"slotNumber":1,"operation":"Read"}]}]}`)
	m, err := Load(raw)
	require.NoError(t, err)
	assert.NoError(t, m.Check(1, 1, types.OpRead))
	assert.Error(t, m.Check(1, 1, types.OpWrite))
}
