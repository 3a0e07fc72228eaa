package firmware

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func newSlots(t *testing.T, slotSize int64, free uint64) *FileSlots {
	t.Helper()
	s := NewFileSlots(filepath.Join(t.TempDir(), "slots"), slotSize, zerolog.Nop())
	s.FreeSpace = func(string) (uint64, error) { return free, nil }
	return s
}

func TestFileSlotsDefaultsToSlotA(t *testing.T) {
	s := newSlots(t, 1<<20, 1<<30)
	info, err := s.Active()
	require.NoError(t, err)
	require.Equal(t, SlotA, info.Slot)
}

func TestFileSlotsMaxImageSize(t *testing.T) {
	s := newSlots(t, 1<<20, 1<<30)
	n, err := s.MaxImageSize()
	require.NoError(t, err)
	require.Equal(t, int64(1<<20), n)

	tight := newSlots(t, 1<<20, reserveHeadroom+1000)
	n, err = tight.MaxImageSize()
	require.NoError(t, err)
	require.Equal(t, int64(1000), n)

	full := newSlots(t, 1<<20, 10)
	n, err = full.MaxImageSize()
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestFileSlotsCommitSwitchesPointer(t *testing.T) {
	s := newSlots(t, 1<<20, 1<<30)
	c := NewController(s, Options{Logger: zerolog.Nop()})

	_, err := c.Begin(BeginOptions{Label: "v2"})
	require.NoError(t, err)
	data := image("new firmware body")
	require.NoError(t, c.WriteChunk(data[:5]))
	require.NoError(t, c.WriteChunk(data[5:]))
	out, err := c.Finish()
	require.NoError(t, err)

	info, err := s.Active()
	require.NoError(t, err)
	require.Equal(t, SlotB, info.Slot)
	require.Equal(t, "v2", info.Label)
	require.Equal(t, out.Digest, info.Digest)

	got, err := os.ReadFile(s.slotPath(SlotB))
	require.NoError(t, err)
	require.Equal(t, data, got)
}

func TestFileSlotsReleaseKeepsPointer(t *testing.T) {
	s := newSlots(t, 1<<20, 1<<30)
	r, err := s.Reserve(1024)
	require.NoError(t, err)
	_, err = r.Write(image("x"))
	require.NoError(t, err)

	_, err = s.Reserve(1024)
	require.Error(t, err, "second reservation must fail while one is open")

	require.NoError(t, r.Release())
	_, err = os.Stat(s.slotPath(SlotB))
	require.True(t, os.IsNotExist(err))

	info, _ := s.Active()
	require.Equal(t, SlotA, info.Slot)

	_, err = s.Reserve(1024)
	require.NoError(t, err)
}

func TestFileRegionShortWrite(t *testing.T) {
	s := newSlots(t, 1<<20, 1<<30)
	r, err := s.Reserve(4)
	require.NoError(t, err)
	n, err := r.Write([]byte("abcdef"))
	require.Equal(t, 4, n)
	require.ErrorIs(t, err, io.ErrShortWrite)

	rd, err := r.Contents()
	require.NoError(t, err)
	b, err := io.ReadAll(rd)
	require.NoError(t, err)
	require.Equal(t, "abcd", string(b))
}

func TestFileSlotsCorruptBootRecord(t *testing.T) {
	s := newSlots(t, 1<<20, 1<<30)
	require.NoError(t, os.MkdirAll(s.dir, 0o755))
	require.NoError(t, os.WriteFile(s.bootPath(), []byte("{nope"), 0o644))
	info, err := s.Active()
	require.NoError(t, err)
	require.Equal(t, SlotA, info.Slot)
}
