package firmware

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/disk"

	"nithronos/device/nosfw/internal/fsatomic"
)

const (
	SlotA = "a"
	SlotB = "b"

	// headroom left free on the data filesystem so config saves still fit
	reserveHeadroom = 256 << 10
)

// bootRecord is slots/boot.json, read by the boot script to pick a slot.
type bootRecord struct {
	Active      string    `json:"active"`
	Label       string    `json:"label,omitempty"`
	Digest      string    `json:"digest,omitempty"`
	Size        int64     `json:"size,omitempty"`
	CommittedAt time.Time `json:"committed_at,omitempty"`
}

// FileSlots keeps two image slots as files, a.img and b.img, and a boot
// pointer. New images always go to the slot the pointer does not name.
type FileSlots struct {
	dir      string
	slotSize int64
	log      zerolog.Logger
	// FreeSpace reports free bytes on the filesystem holding dir.
	FreeSpace func(dir string) (uint64, error)

	mu       sync.Mutex
	reserved bool
}

func NewFileSlots(dir string, slotSize int64, logger zerolog.Logger) *FileSlots {
	return &FileSlots{
		dir:       dir,
		slotSize:  slotSize,
		log:       logger.With().Str("component", "slots").Logger(),
		FreeSpace: diskFree,
	}
}

func diskFree(dir string) (uint64, error) {
	u, err := disk.Usage(dir)
	if err != nil {
		return 0, err
	}
	return u.Free, nil
}

func (s *FileSlots) bootPath() string { return filepath.Join(s.dir, "boot.json") }
func (s *FileSlots) slotPath(slot string) string { return filepath.Join(s.dir, slot+".img") }

func (s *FileSlots) readBoot() bootRecord {
	rec := bootRecord{Active: SlotA}
	if ok, err := fsatomic.LoadJSON(s.bootPath(), &rec); err != nil || !ok {
		if err != nil {
			s.log.Warn().Err(err).Msg("unreadable boot record; assuming slot a")
		}
		return bootRecord{Active: SlotA}
	}
	if rec.Active != SlotA && rec.Active != SlotB {
		rec.Active = SlotA
	}
	return rec
}

func other(slot string) string {
	if slot == SlotA {
		return SlotB
	}
	return SlotA
}

func (s *FileSlots) Active() (SlotInfo, error) {
	rec := s.readBoot()
	return SlotInfo{
		Slot:        rec.Active,
		Label:       rec.Label,
		Digest:      rec.Digest,
		Size:        rec.Size,
		CommittedAt: rec.CommittedAt,
	}, nil
}

// MaxImageSize is the slot size, capped by free space on the filesystem
// (counting the inactive slot's current file as reclaimable) minus headroom.
func (s *FileSlots) MaxImageSize() (int64, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return 0, err
	}
	free, err := s.FreeSpace(s.dir)
	if err != nil {
		return 0, fmt.Errorf("free space: %w", err)
	}
	avail := int64(free)
	if fi, err := os.Stat(s.slotPath(other(s.readBoot().Active))); err == nil {
		avail += fi.Size()
	}
	avail -= reserveHeadroom
	if avail < 0 {
		avail = 0
	}
	return min(avail, s.slotSize), nil
}

func (s *FileSlots) Reserve(size int64) (Region, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reserved {
		return nil, errors.New("slot already reserved")
	}
	if size <= 0 || size > s.slotSize {
		return nil, fmt.Errorf("cannot reserve %d bytes in a %d byte slot", size, s.slotSize)
	}
	target := other(s.readBoot().Active)
	path := s.slotPath(target)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	s.reserved = true
	return &fileRegion{slots: s, slot: target, path: path, f: f, limit: size}, nil
}

func (s *FileSlots) release() {
	s.mu.Lock()
	s.reserved = false
	s.mu.Unlock()
}

type fileRegion struct {
	slots   *FileSlots
	slot    string
	path    string
	f       *os.File
	limit   int64
	written int64
	done    bool
}

func (r *fileRegion) Size() int64 { return r.limit }

func (r *fileRegion) Write(p []byte) (int, error) {
	if r.done {
		return 0, os.ErrClosed
	}
	room := r.limit - r.written
	short := int64(len(p)) > room
	if short {
		p = p[:room]
	}
	n, err := r.f.Write(p)
	r.written += int64(n)
	if err == nil && short {
		err = io.ErrShortWrite
	}
	return n, err
}

func (r *fileRegion) Contents() (io.Reader, error) {
	if r.done {
		return nil, os.ErrClosed
	}
	if err := r.f.Sync(); err != nil {
		return nil, err
	}
	return io.NewSectionReader(r.f, 0, r.written), nil
}

// Commit flushes the slot and then atomically rewrites the boot pointer; a
// crash before the rename leaves the old pointer and so the old image.
func (r *fileRegion) Commit(info CommitInfo) error {
	if r.done {
		return os.ErrClosed
	}
	if err := r.f.Sync(); err != nil {
		return err
	}
	if err := r.f.Close(); err != nil {
		return err
	}
	r.done = true
	defer r.slots.release()
	rec := bootRecord{
		Active:      r.slot,
		Label:       info.Label,
		Digest:      info.Digest,
		Size:        info.Size,
		CommittedAt: time.Now().UTC(),
	}
	return fsatomic.WithLock(r.slots.bootPath(), func() error {
		return fsatomic.SaveJSON(context.Background(), r.slots.bootPath(), rec, 0o644)
	})
}

func (r *fileRegion) Release() error {
	if r.done {
		return nil
	}
	r.done = true
	defer r.slots.release()
	_ = r.f.Close()
	if err := os.Remove(r.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
