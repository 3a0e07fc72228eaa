package server

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"

	"nithronos/device/nosfw/internal/firmware"
	"nithronos/device/nosfw/pkg/httpx"
)

const uploadChunk = 32 << 10

type firmwareHandler struct {
	ctl     *firmware.Controller
	metrics *Metrics
}

// GET /api/firmware
func (h *firmwareHandler) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.ctl.Status())
}

// POST /api/firmware/abort
func (h *firmwareHandler) abort(w http.ResponseWriter, r *http.Request) {
	if err := h.ctl.Abort(firmware.ReasonCanceled, nil); err != nil {
		httpx.WriteTypedError(w, http.StatusConflict, "firmware.idle", "No firmware update in progress", 0)
		return
	}
	writeJSON(w, h.ctl.Status())
}

// transportReader remembers whether a read error came from the connection
// rather than from decoding.
type transportReader struct {
	r   io.Reader
	err error
}

func (t *transportReader) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if err != nil && err != io.EOF {
		t.err = err
	}
	return n, err
}

type uploadStream struct {
	body     io.Reader
	wire     *transportReader
	label    string
	declared int64
	closers  []io.Closer
}

func (u *uploadStream) Close() {
	for i := len(u.closers) - 1; i >= 0; i-- {
		_ = u.closers[i].Close()
	}
}

// openUpload accepts a raw body or a multipart form with a "firmware" part,
// either optionally gzip-compressed.
func openUpload(r *http.Request) (*uploadStream, error) {
	u := &uploadStream{wire: &transportReader{r: r.Body}, label: r.Header.Get("X-Firmware-Label")}
	if v := r.Header.Get("X-Firmware-Size"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			return nil, errors.New("invalid X-Firmware-Size")
		}
		u.declared = n
	}

	src := io.Reader(u.wire)
	gz := strings.EqualFold(r.Header.Get("Content-Encoding"), "gzip")
	mt, params, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mt == "multipart/form-data" {
		mr, err := newMultipart(u.wire, params["boundary"])
		if err != nil {
			return nil, err
		}
		part, err := firmwarePart(mr)
		if err != nil {
			return nil, err
		}
		u.closers = append(u.closers, part)
		src = part
		if u.label == "" {
			u.label = part.FileName()
		}
		gz = strings.EqualFold(part.Header.Get("Content-Encoding"), "gzip") ||
			strings.HasSuffix(strings.ToLower(part.FileName()), ".gz")
	} else if u.declared == 0 && !gz && r.ContentLength > 0 {
		u.declared = r.ContentLength
	}

	if gz {
		zr, err := gzip.NewReader(src)
		if err != nil {
			return nil, err
		}
		u.closers = append(u.closers, zr)
		src = zr
	}
	u.body = src
	return u, nil
}

// POST /api/firmware
func (h *firmwareHandler) upload(w http.ResponseWriter, r *http.Request) {
	up, err := openUpload(r)
	if err != nil {
		httpx.WriteTypedError(w, http.StatusBadRequest, "firmware.bad_request", err.Error(), 0)
		return
	}
	defer up.Close()

	sess, err := h.ctl.Begin(firmware.BeginOptions{
		Label:          up.label,
		DeclaredSize:   up.declared,
		ExpectedDigest: strings.ToLower(strings.TrimSpace(r.Header.Get("X-Firmware-Digest"))),
	})
	if err != nil {
		writeUpdateError(w, err)
		return
	}

	buf := make([]byte, uploadChunk)
	for {
		n, rerr := up.body.Read(buf)
		if n > 0 {
			if werr := h.ctl.WriteChunk(buf[:n]); werr != nil {
				writeUpdateError(w, werr)
				return
			}
			h.metrics.AddBytes(n)
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			reason := firmware.ReasonIntegrityFailure
			if up.wire.err != nil {
				reason = firmware.ReasonTransportLost
			}
			_ = h.ctl.Abort(reason, rerr)
			writeUpdateError(w, &firmware.UpdateError{Reason: reason, Err: rerr})
			return
		}
	}

	out, err := h.ctl.Finish()
	if err != nil {
		writeUpdateError(w, err)
		return
	}
	writeJSON(w, map[string]any{"session": sess.ID, "outcome": out, "restarting": true})
}

func writeUpdateError(w http.ResponseWriter, err error) {
	if errors.Is(err, firmware.ErrBusy) {
		httpx.WriteTypedError(w, http.StatusConflict, "firmware.busy", err.Error(), 0)
		return
	}
	if errors.Is(err, firmware.ErrIllegalTransition) {
		httpx.WriteTypedError(w, http.StatusConflict, "firmware.illegal_transition", err.Error(), 0)
		return
	}
	status := http.StatusInternalServerError
	switch firmware.ReasonOf(err) {
	case firmware.ReasonNoSpace:
		status = http.StatusInsufficientStorage
	case firmware.ReasonIntegrityFailure:
		status = http.StatusUnprocessableEntity
	case firmware.ReasonTransportLost:
		status = http.StatusBadRequest
	}
	httpx.WriteTypedError(w, status, "firmware."+string(firmware.ReasonOf(err)), err.Error(), 0)
}
