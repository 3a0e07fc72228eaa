package firmware

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/zeebo/blake3"
	"go.uber.org/atomic"
)

type Options struct {
	Logger zerolog.Logger
	// OnCommitted runs after a successful commit, outside the controller
	// lock. The supervisor uses it to schedule the restart.
	OnCommitted func(Outcome)
	// OnOutcome runs after every terminal outcome, including failed Begins.
	OnOutcome func(Outcome)
	Now       func() time.Time
}

// Controller is the update state machine
//
//	idle -> receiving -> verifying -> committed | aborted -> idle
//
// with at most one session device-wide. After a commit it refuses new
// sessions until the process restarts.
type Controller struct {
	flash Flash
	opts  Options
	log   zerolog.Logger

	mu        sync.Mutex
	sess      *Session
	region    Region
	hasher    *blake3.Hasher
	first     byte
	expected  string
	committed bool
	last      *Outcome

	// progress mirrors sess.BytesWritten for lock-free readers
	progress atomic.Int64
}

func NewController(flash Flash, opts Options) *Controller {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Controller{
		flash: flash,
		opts:  opts,
		log:   opts.Logger.With().Str("component", "firmware").Logger(),
	}
}

// Begin opens a session. When no region can be reserved the attempt is
// recorded as aborted/no_space and the controller stays idle.
func (c *Controller) Begin(opts BeginOptions) (Session, error) {
	c.mu.Lock()
	if c.sess != nil || c.committed {
		c.mu.Unlock()
		return Session{}, ErrBusy
	}

	avail, err := c.flash.MaxImageSize()
	if err == nil && avail <= 0 {
		err = errors.New("no free space for an image")
	}
	if err == nil && opts.DeclaredSize > avail {
		err = fmt.Errorf("declared size %d exceeds %d available", opts.DeclaredSize, avail)
	}
	var region Region
	if err == nil {
		region, err = c.flash.Reserve(avail)
	}
	if err != nil {
		out := c.recordLocked(Outcome{
			Label:  opts.Label,
			Status: StatusAborted,
			Reason: ReasonNoSpace,
			Detail: err.Error(),
		})
		c.mu.Unlock()
		c.notify(out, false)
		return Session{}, &UpdateError{Reason: ReasonNoSpace, Err: err}
	}

	c.sess = &Session{
		ID:                 uuid.NewString(),
		Label:              opts.Label,
		Status:             StatusReceiving,
		DeclaredTotalSize:  opts.DeclaredSize,
		ReservedRegionSize: region.Size(),
		StartedAt:          c.opts.Now(),
	}
	c.region = region
	c.hasher = blake3.New()
	c.expected = opts.ExpectedDigest
	c.first = 0
	c.progress.Store(0)
	s := *c.sess
	c.mu.Unlock()

	c.log.Info().Str("session", s.ID).Str("label", s.Label).
		Int64("declared", s.DeclaredTotalSize).Int64("reserved", s.ReservedRegionSize).
		Msg("firmware update started")
	return s, nil
}

// WriteChunk appends p. A short write aborts the session with
// write_failure; nothing is written after it.
func (c *Controller) WriteChunk(p []byte) error {
	c.mu.Lock()
	if c.sess == nil || c.sess.Status != StatusReceiving {
		c.mu.Unlock()
		return ErrIllegalTransition
	}
	if len(p) == 0 {
		c.mu.Unlock()
		return nil
	}
	n, werr := c.region.Write(p)
	if n > 0 {
		if c.sess.BytesWritten == 0 {
			c.first = p[0]
		}
		_, _ = c.hasher.Write(p[:n])
		c.sess.BytesWritten += int64(n)
		c.progress.Store(c.sess.BytesWritten)
	}
	if n < len(p) {
		if werr == nil {
			werr = fmt.Errorf("short write: %d of %d bytes", n, len(p))
		}
		out := c.abortLocked(ReasonWriteFailure, werr)
		c.mu.Unlock()
		c.notify(out, false)
		return &UpdateError{Reason: ReasonWriteFailure, Err: werr}
	}
	c.mu.Unlock()
	return nil
}

// Finish verifies the received image and commits it. Verification failure
// aborts with integrity_failure and leaves the running image active. The
// image is re-read outside the lock so Status stays responsive; an Abort
// that lands meanwhile wins.
func (c *Controller) Finish() (Outcome, error) {
	c.mu.Lock()
	if c.sess == nil || c.sess.Status != StatusReceiving {
		c.mu.Unlock()
		return Outcome{}, ErrIllegalTransition
	}
	c.sess.Status = StatusVerifying
	sess := *c.sess
	region, sum, first, expected := c.region, c.hasher.Sum(nil), c.first, c.expected
	c.mu.Unlock()

	if sess.DeclaredTotalSize > 0 && sess.DeclaredTotalSize != sess.BytesWritten {
		c.log.Warn().Str("session", sess.ID).Int64("declared", sess.DeclaredTotalSize).
			Int64("written", sess.BytesWritten).Msg("received size differs from declared size")
	}
	digest, verr := verifyImage(region, sess.BytesWritten, sum, first, expected)

	c.mu.Lock()
	if c.sess == nil || c.sess.ID != sess.ID || c.sess.Status != StatusVerifying {
		c.mu.Unlock()
		return Outcome{}, ErrIllegalTransition
	}
	if verr != nil {
		out := c.abortLocked(ReasonIntegrityFailure, verr)
		c.mu.Unlock()
		c.notify(out, false)
		return out, &UpdateError{Reason: ReasonIntegrityFailure, Err: verr}
	}
	if err := c.region.Commit(CommitInfo{Label: sess.Label, Digest: digest, Size: sess.BytesWritten}); err != nil {
		out := c.abortLocked(ReasonWriteFailure, fmt.Errorf("commit: %w", err))
		c.mu.Unlock()
		c.notify(out, false)
		return out, &UpdateError{Reason: ReasonWriteFailure, Err: err}
	}

	c.sess.Status = StatusCommitted
	out := c.recordLocked(Outcome{
		SessionID:    sess.ID,
		Label:        sess.Label,
		Status:       StatusCommitted,
		BytesWritten: sess.BytesWritten,
		Digest:       digest,
	})
	c.committed = true
	c.sess = nil
	c.region = nil
	c.mu.Unlock()

	c.log.Info().Str("session", out.SessionID).Str("digest", digest).
		Int64("bytes", out.BytesWritten).Msg("firmware committed")
	c.notify(out, true)
	return out, nil
}

// Abort discards the open session. reason is normally ReasonCanceled or
// ReasonTransportLost.
func (c *Controller) Abort(reason Reason, cause error) error {
	c.mu.Lock()
	if c.sess == nil || (c.sess.Status != StatusReceiving && c.sess.Status != StatusVerifying) {
		c.mu.Unlock()
		return ErrIllegalTransition
	}
	out := c.abortLocked(reason, cause)
	c.mu.Unlock()
	c.notify(out, false)
	return nil
}

// Status returns the current snapshot.
func (c *Controller) Status() Snapshot {
	c.mu.Lock()
	snap := Snapshot{Status: StatusIdle}
	if c.sess != nil {
		s := *c.sess
		snap.Session = &s
		snap.Status = s.Status
	} else if c.committed {
		snap.Status = StatusCommitted
	}
	if c.last != nil {
		l := *c.last
		snap.Last = &l
	}
	c.mu.Unlock()

	if info, err := c.flash.Active(); err == nil {
		snap.Running = &info
	}
	return snap
}

// Progress returns bytes written in the open session without taking the
// controller lock.
func (c *Controller) Progress() int64 { return c.progress.Load() }

func (c *Controller) abortLocked(reason Reason, cause error) Outcome {
	sess := *c.sess
	c.sess.Status = StatusAborted
	if err := c.region.Release(); err != nil {
		c.log.Warn().Err(err).Str("session", sess.ID).Msg("release firmware region")
	}
	out := Outcome{
		SessionID:    sess.ID,
		Label:        sess.Label,
		Status:       StatusAborted,
		Reason:       reason,
		BytesWritten: sess.BytesWritten,
	}
	if cause != nil {
		out.Detail = cause.Error()
	}
	out = c.recordLocked(out)
	c.sess = nil
	c.region = nil
	c.hasher = nil
	c.progress.Store(0)
	c.log.Warn().Str("session", sess.ID).Str("reason", string(reason)).Str("detail", out.Detail).
		Int64("bytes", sess.BytesWritten).Msg("firmware update aborted")
	return out
}

func (c *Controller) recordLocked(out Outcome) Outcome {
	out.At = c.opts.Now()
	c.last = &out
	return out
}

func (c *Controller) notify(out Outcome, committed bool) {
	if c.opts.OnOutcome != nil {
		c.opts.OnOutcome(out)
	}
	if committed && c.opts.OnCommitted != nil {
		c.opts.OnCommitted(out)
	}
}
