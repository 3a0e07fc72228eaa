package firmware

import (
	"io"
	"time"
)

// SlotInfo describes the image the bootloader will start.
type SlotInfo struct {
	Slot        string    `json:"slot"`
	Label       string    `json:"label,omitempty"`
	Digest      string    `json:"digest,omitempty"`
	Size        int64     `json:"size,omitempty"`
	CommittedAt time.Time `json:"committedAt,omitempty"`
}

// CommitInfo is recorded alongside the boot pointer.
type CommitInfo struct {
	Label  string
	Digest string
	Size   int64
}

// Flash is the firmware storage. Only the update controller touches it.
type Flash interface {
	// MaxImageSize is the largest region that can be safely reserved now.
	MaxImageSize() (int64, error)
	Reserve(size int64) (Region, error)
	Active() (SlotInfo, error)
}

// Region is a reserved area in the inactive slot. Write appends; a write
// that does not fit returns n < len(p).
type Region interface {
	io.Writer
	Size() int64
	// Contents reads back everything written so far.
	Contents() (io.Reader, error)
	// Commit makes the region the boot image. It is the only irreversible
	// step.
	Commit(info CommitInfo) error
	// Release discards the region without committing.
	Release() error
}
