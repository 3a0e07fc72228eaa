package firmware

import (
	"bytes"
	"errors"
	"io"
)

// memFlash is an in-memory Flash with failure knobs.
type memFlash struct {
	avail      int64
	availErr   error
	shortAfter int64 // accept at most this many bytes in total; 0 = no limit
	flipByte   bool  // corrupt the read-back
	commitErr  error
	// readBlock, when set, holds Contents until it is closed; reading is
	// closed once Contents has been entered.
	readBlock chan struct{}
	reading   chan struct{}

	active   SlotInfo
	region   *memRegion
	commits  int
	releases int
}

func newMemFlash(avail int64) *memFlash {
	return &memFlash{avail: avail, active: SlotInfo{Slot: SlotA, Label: "factory"}}
}

func (f *memFlash) MaxImageSize() (int64, error) { return f.avail, f.availErr }

func (f *memFlash) Reserve(size int64) (Region, error) {
	if size > f.avail {
		return nil, errors.New("too big")
	}
	f.region = &memRegion{f: f, limit: size}
	return f.region, nil
}

func (f *memFlash) Active() (SlotInfo, error) { return f.active, nil }

type memRegion struct {
	f     *memFlash
	limit int64
	buf   bytes.Buffer
}

func (r *memRegion) Size() int64 { return r.limit }

func (r *memRegion) Write(p []byte) (int, error) {
	limit := r.limit
	if r.f.shortAfter > 0 && r.f.shortAfter < limit {
		limit = r.f.shortAfter
	}
	room := limit - int64(r.buf.Len())
	if int64(len(p)) > room {
		r.buf.Write(p[:room])
		return int(room), nil
	}
	return r.buf.Write(p)
}

func (r *memRegion) Contents() (io.Reader, error) {
	if r.f.readBlock != nil {
		close(r.f.reading)
		<-r.f.readBlock
	}
	b := append([]byte(nil), r.buf.Bytes()...)
	if r.f.flipByte && len(b) > 1 {
		b[len(b)-1] ^= 0xff
	}
	return bytes.NewReader(b), nil
}

func (r *memRegion) Commit(info CommitInfo) error {
	if r.f.commitErr != nil {
		return r.f.commitErr
	}
	r.f.commits++
	r.f.active = SlotInfo{Slot: SlotB, Label: info.Label, Digest: info.Digest, Size: info.Size}
	return nil
}

func (r *memRegion) Release() error {
	r.f.releases++
	r.buf.Reset()
	return nil
}
