package devconfig

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return New(filepath.Join(t.TempDir(), "device.json"), Defaults(), zerolog.Nop())
}

func TestLoadMissingReturnsDefaults(t *testing.T) {
	s := newTestStore(t)
	require.Equal(t, Defaults(), s.Load())
	require.False(t, s.Current().Provisioned())
}

func TestLoadIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	c := Defaults()
	c.ManagedNetworkID = "shop-floor"
	c.ManagedNetworkSecret = "hunter22"
	require.NoError(t, s.Save(context.Background(), c))

	first := s.Load()
	second := s.Load()
	require.Equal(t, first, second)
	require.Equal(t, "shop-floor", second.ManagedNetworkID)
}

func TestLoadCorruptRecordFallsBack(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, os.WriteFile(s.Path(), []byte("{\"deviceLabel\":"), 0o600))
	require.Equal(t, Defaults(), s.Load())
}

func TestLoadPartialRecordKeepsDefaults(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, os.WriteFile(s.Path(), []byte(`{"deviceLabel":"pump-3"}`), 0o600))
	c := s.Load()
	require.Equal(t, "pump-3", c.DeviceLabel)
	require.True(t, c.FallbackEnabled)
	require.True(t, c.AccessProtected)
	require.Equal(t, DefaultAdminUser, c.AdminUser)
}

func TestSaveFailureLeavesRecordIntact(t *testing.T) {
	s := newTestStore(t)
	c := Defaults()
	c.DeviceLabel = "before"
	require.NoError(t, s.Save(context.Background(), c))
	s.Load()

	// a non-empty directory on the temp path cannot be opened for writing
	require.NoError(t, os.MkdirAll(filepath.Join(s.Path()+".tmp", "busy"), 0o755))

	c.DeviceLabel = "after"
	err := s.Save(context.Background(), c)
	require.Error(t, err)
	require.True(t, IsWriteFailure(err))
	require.Equal(t, "before", s.Current().DeviceLabel)

	require.NoError(t, os.RemoveAll(s.Path()+".tmp"))
	require.Equal(t, "before", s.Load().DeviceLabel)
}

func TestUpdateAbortsOnCallbackError(t *testing.T) {
	s := newTestStore(t)
	s.Load()
	_, err := s.Update(context.Background(), func(c *DeviceConfig) error {
		c.DeviceLabel = "never"
		return os.ErrInvalid
	})
	require.ErrorIs(t, err, os.ErrInvalid)
	require.Equal(t, DefaultDeviceLabel, s.Current().DeviceLabel)
	_, statErr := os.Stat(s.Path())
	require.True(t, os.IsNotExist(statErr))
}

func TestUpdatePersists(t *testing.T) {
	s := newTestStore(t)
	s.Load()
	got, err := s.Update(context.Background(), func(c *DeviceConfig) error {
		c.FallbackEnabled = false
		return nil
	})
	require.NoError(t, err)
	require.False(t, got.FallbackEnabled)

	reloaded := New(s.Path(), Defaults(), zerolog.Nop()).Load()
	require.False(t, reloaded.FallbackEnabled)
}
