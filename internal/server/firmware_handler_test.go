package server

import (
	"bytes"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"

	"nithronos/device/nosfw/internal/firmware"
)

func testImage(n int) []byte {
	b := bytes.Repeat([]byte("nosfw"), n/5+1)[:n]
	b[0] = firmware.ImageMagic
	return b
}

func authed(req *http.Request) *http.Request {
	req.SetBasicAuth("admin", "longenough1")
	return req
}

func TestFirmwareUploadCommits(t *testing.T) {
	env := newTestEnv(t)
	env.provision(t, "longenough1")
	img := testImage(100 << 10)
	digest, _ := firmware.Digest(bytes.NewReader(img))

	req := authed(httptest.NewRequest(http.MethodPost, "/api/firmware", bytes.NewReader(img)))
	req.Header.Set("X-Firmware-Label", "v2")
	req.Header.Set("X-Firmware-Digest", digest)
	res := env.do(req)
	if res.Code != http.StatusOK {
		t.Fatalf("want 200, got %d %s", res.Code, res.Body.String())
	}
	info, _ := env.slots.Active()
	if info.Slot != firmware.SlotB || info.Label != "v2" || info.Digest != digest {
		t.Fatalf("boot pointer not switched: %+v", info)
	}
	if got := env.restarts(); len(got) != 1 {
		t.Fatalf("commit did not schedule a restart: %v", got)
	}

	// a second update waits for the restart
	res = env.do(authed(httptest.NewRequest(http.MethodPost, "/api/firmware", bytes.NewReader(img))))
	if res.Code != http.StatusConflict {
		t.Fatalf("want 409 after commit, got %d", res.Code)
	}
}

func TestFirmwareUploadGzip(t *testing.T) {
	env := newTestEnv(t)
	env.provision(t, "longenough1")
	img := testImage(64 << 10)
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, _ = zw.Write(img)
	_ = zw.Close()

	req := authed(httptest.NewRequest(http.MethodPost, "/api/firmware", &buf))
	req.Header.Set("Content-Encoding", "gzip")
	res := env.do(req)
	if res.Code != http.StatusOK {
		t.Fatalf("want 200, got %d %s", res.Code, res.Body.String())
	}
	info, _ := env.slots.Active()
	if info.Size != int64(len(img)) {
		t.Fatalf("want %d bytes committed, got %d", len(img), info.Size)
	}
}

func TestFirmwareUploadMultipart(t *testing.T) {
	env := newTestEnv(t)
	env.provision(t, "longenough1")
	img := testImage(10 << 10)
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("note", "ignored")
	fw, _ := mw.CreateFormFile("firmware", "nosfw-v3.bin")
	_, _ = fw.Write(img)
	_ = mw.Close()

	req := authed(httptest.NewRequest(http.MethodPost, "/api/firmware", &buf))
	req.Header.Set("Content-Type", mw.FormDataContentType())
	res := env.do(req)
	if res.Code != http.StatusOK {
		t.Fatalf("want 200, got %d %s", res.Code, res.Body.String())
	}
	info, _ := env.slots.Active()
	if info.Label != "nosfw-v3.bin" {
		t.Fatalf("label from file name: %+v", info)
	}
}

func TestFirmwareUploadIntegrityFailure(t *testing.T) {
	env := newTestEnv(t)
	env.provision(t, "longenough1")
	img := testImage(4 << 10)
	img[0] = 0x00

	res := env.do(authed(httptest.NewRequest(http.MethodPost, "/api/firmware", bytes.NewReader(img))))
	if res.Code != http.StatusUnprocessableEntity {
		t.Fatalf("want 422, got %d", res.Code)
	}
	if code := errorCode(t, res); code != "firmware.integrity_failure" {
		t.Fatalf("code %q", code)
	}
	info, _ := env.slots.Active()
	if info.Slot != firmware.SlotA {
		t.Fatalf("running slot changed: %+v", info)
	}
	if len(env.restarts()) != 0 {
		t.Fatalf("aborted update restarted the device")
	}
	if env.fw.Status().Status != firmware.StatusIdle {
		t.Fatalf("controller not idle after abort")
	}
}

type droppingReader struct {
	data []byte
	sent bool
}

func (d *droppingReader) Read(p []byte) (int, error) {
	if !d.sent {
		d.sent = true
		return copy(p, d.data), nil
	}
	return 0, io.ErrUnexpectedEOF
}

func TestFirmwareTransportLossIsObservable(t *testing.T) {
	env := newTestEnv(t)
	env.provision(t, "longenough1")

	body := &droppingReader{data: testImage(1 << 10)}
	res := env.do(authed(httptest.NewRequest(http.MethodPost, "/api/firmware", body)))
	if res.Code != http.StatusBadRequest {
		t.Fatalf("want 400, got %d", res.Code)
	}
	snap := env.fw.Status()
	if snap.Status != firmware.StatusIdle || snap.Last == nil {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if snap.Last.Status != firmware.StatusAborted || snap.Last.Reason != firmware.ReasonTransportLost {
		t.Fatalf("want aborted/transport_lost, got %+v", *snap.Last)
	}
	if snap.Last.BytesWritten != 1<<10 {
		t.Fatalf("partial write hidden: %d", snap.Last.BytesWritten)
	}
}

func TestFirmwareNoSpace(t *testing.T) {
	env := newTestEnv(t)
	env.provision(t, "longenough1")
	env.slots.FreeSpace = func(string) (uint64, error) { return 0, nil }

	res := env.do(authed(httptest.NewRequest(http.MethodPost, "/api/firmware", bytes.NewReader(testImage(16)))))
	if res.Code != http.StatusInsufficientStorage {
		t.Fatalf("want 507, got %d", res.Code)
	}
	if last := env.fw.Status().Last; last == nil || last.Reason != firmware.ReasonNoSpace {
		t.Fatalf("no_space not recorded: %+v", last)
	}
}

func TestFirmwareAbortWhenIdle(t *testing.T) {
	env := newTestEnv(t)
	env.provision(t, "longenough1")
	res := env.do(authed(httptest.NewRequest(http.MethodPost, "/api/firmware/abort", nil)))
	if res.Code != http.StatusConflict {
		t.Fatalf("want 409, got %d", res.Code)
	}
}

func TestFirmwareMetrics(t *testing.T) {
	env := newTestEnv(t)
	env.provision(t, "longenough1")
	img := testImage(2 << 10)
	img[0] = 0x01
	env.do(authed(httptest.NewRequest(http.MethodPost, "/api/firmware", bytes.NewReader(img))))

	res := env.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := res.Body.String()
	for _, want := range []string{
		`nosfw_firmware_outcomes_total{reason="integrity_failure",status="aborted"} 1`,
		"nosfw_firmware_bytes_received_total 2048",
		`nosfw_connectivity_mode{mode="disconnected"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics missing %q", want)
		}
	}
}

func TestFirmwareSessionBytesGauge(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.fw.Begin(firmware.BeginOptions{Label: "v2"}); err != nil {
		t.Fatal(err)
	}
	if err := env.fw.WriteChunk(testImage(512)); err != nil {
		t.Fatal(err)
	}
	scrape := func() string {
		return env.do(httptest.NewRequest(http.MethodGet, "/metrics", nil)).Body.String()
	}
	if body := scrape(); !strings.Contains(body, "nosfw_firmware_session_bytes 512") {
		t.Fatalf("open session not reported:\n%s", body)
	}
	if err := env.fw.Abort(firmware.ReasonCanceled, nil); err != nil {
		t.Fatal(err)
	}
	if body := scrape(); !strings.Contains(body, "nosfw_firmware_session_bytes 0") {
		t.Fatalf("gauge not reset after abort:\n%s", body)
	}
}
