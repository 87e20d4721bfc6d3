package prefs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore()

	_, ok := s.Get(PathServerName)
	assert.False(t, ok)

	require.NoError(t, s.Set(PathServerName, "Lounge"))
	v, ok := s.Get(PathServerName)
	assert.True(t, ok)
	assert.Equal(t, "Lounge", v)
	assert.Equal(t, 1, s.Writes())
}

func TestBoolHelpers(t *testing.T) {
	s := NewMemoryStore()

	assert.False(t, GetBool(s, PathEnabled), "missing value reads as false")

	require.NoError(t, SetBool(s, PathEnabled, true))
	assert.True(t, GetBool(s, PathEnabled))

	require.NoError(t, s.Set(PathEnabled, "garbage"))
	assert.False(t, GetBool(s, PathEnabled))
}

func TestLevelDBStorePersists(t *testing.T) {
	dir := t.TempDir()
	logger := zaptest.NewLogger(t)

	s, err := OpenLevelDB(dir, logger)
	require.NoError(t, err)
	require.NoError(t, s.Set(PathCurrentRecordServer, "uuid:U1"))
	require.NoError(t, SetBool(s, PathPluginEPG, true))
	require.NoError(t, s.Close())

	reopened, err := OpenLevelDB(dir, logger)
	require.NoError(t, err)
	defer reopened.Close()

	v, ok := reopened.Get(PathCurrentRecordServer)
	assert.True(t, ok)
	assert.Equal(t, "uuid:U1", v)
	assert.True(t, GetBool(reopened, PathPluginEPG))

	_, ok = reopened.Get(PathServerUDN)
	assert.False(t, ok)
}

func TestLevelDBStoreAll(t *testing.T) {
	s, err := OpenMemLevelDB(zaptest.NewLogger(t))
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Set(PathServerName, "Den"))
	require.NoError(t, s.Set(PathServerUDN, "uuid:local"))
	require.NoError(t, s.Set(PathPluginEPG, "true"))

	all, err := s.All("/users/preferences/whpvr/")
	require.NoError(t, err)
	assert.Len(t, all, 2)
	assert.Equal(t, "Den", all[PathServerName])
}
