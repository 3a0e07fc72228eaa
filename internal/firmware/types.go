// Package firmware receives a new image into the inactive slot, verifies it
// and switches the boot pointer, or discards it leaving the running image
// active.
package firmware

import (
	"errors"
	"fmt"
	"time"
)

type Status string

const (
	StatusIdle      Status = "idle"
	StatusReceiving Status = "receiving"
	StatusVerifying Status = "verifying"
	StatusCommitted Status = "committed"
	StatusAborted   Status = "aborted"
)

type Reason string

const (
	ReasonNoSpace          Reason = "no_space"
	ReasonWriteFailure     Reason = "write_failure"
	ReasonIntegrityFailure Reason = "integrity_failure"
	// ReasonCanceled is an operator abort.
	ReasonCanceled Reason = "canceled"
	// ReasonTransportLost is an upload whose connection dropped mid-stream.
	ReasonTransportLost Reason = "transport_lost"
)

// UpdateError reports why a session ended in StatusAborted.
type UpdateError struct {
	Reason Reason
	Err    error
}

func (e *UpdateError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("firmware update aborted (%s): %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("firmware update aborted (%s)", e.Reason)
}

func (e *UpdateError) Unwrap() error { return e.Err }

// ReasonOf extracts the abort reason from err, or "".
func ReasonOf(err error) Reason {
	var ue *UpdateError
	if errors.As(err, &ue) {
		return ue.Reason
	}
	return ""
}

var (
	// ErrIllegalTransition is returned for any call not allowed in the
	// current status. Nothing is changed.
	ErrIllegalTransition = errors.New("illegal firmware update transition")
	// ErrBusy is Begin while another session is open or a commit is pending
	// restart.
	ErrBusy = fmt.Errorf("%w: an update is already in progress", ErrIllegalTransition)
)

// BeginOptions describe an upload about to start.
type BeginOptions struct {
	Label string
	// DeclaredSize is the client's size hint; 0 when unknown. It is advisory.
	DeclaredSize int64
	// ExpectedDigest is an optional hex BLAKE3-256 of the whole image.
	ExpectedDigest string
}

// Session is the single active upload.
type Session struct {
	ID                 string    `json:"id"`
	Label              string    `json:"label,omitempty"`
	Status             Status    `json:"status"`
	BytesWritten       int64     `json:"bytesWritten"`
	DeclaredTotalSize  int64     `json:"declaredTotalSize,omitempty"`
	ReservedRegionSize int64     `json:"reservedRegionSize"`
	StartedAt          time.Time `json:"startedAt"`
}

// Outcome records how the most recent session ended.
type Outcome struct {
	SessionID    string    `json:"sessionId,omitempty"`
	Label        string    `json:"label,omitempty"`
	Status       Status    `json:"status"`
	Reason       Reason    `json:"reason,omitempty"`
	Detail       string    `json:"detail,omitempty"`
	BytesWritten int64     `json:"bytesWritten"`
	Digest       string    `json:"digest,omitempty"`
	At           time.Time `json:"at"`
}

// Snapshot is what status reporting reads.
type Snapshot struct {
	Status  Status    `json:"status"`
	Session *Session  `json:"session,omitempty"`
	Last    *Outcome  `json:"last,omitempty"`
	Running *SlotInfo `json:"running,omitempty"`
}
