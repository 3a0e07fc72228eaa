package firmware

import (
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/zeebo/blake3"
)

// ImageMagic is the first byte of every bootable image.
const ImageMagic byte = 0xE9

// verifyImage re-reads the region and checks it against what was streamed
// in: same digest, valid header byte, and the caller's digest if one was
// given.
func verifyImage(r Region, written int64, streamed []byte, first byte, expected string) (string, error) {
	if written == 0 {
		return "", errors.New("empty image")
	}
	if first != ImageMagic {
		return "", fmt.Errorf("bad image magic 0x%02x", first)
	}
	rd, err := r.Contents()
	if err != nil {
		return "", fmt.Errorf("read back: %w", err)
	}
	h := blake3.New()
	n, err := io.Copy(h, rd)
	if err != nil {
		return "", fmt.Errorf("read back: %w", err)
	}
	if n != written {
		return "", fmt.Errorf("read back %d bytes, wrote %d", n, written)
	}
	sum := h.Sum(nil)
	if subtle.ConstantTimeCompare(sum, streamed) != 1 {
		return "", errors.New("read-back digest differs from received data")
	}
	digest := hex.EncodeToString(sum)
	if expected != "" {
		want, err := hex.DecodeString(strings.TrimSpace(strings.ToLower(expected)))
		if err != nil {
			return "", fmt.Errorf("expected digest: %w", err)
		}
		if subtle.ConstantTimeCompare(sum, want) != 1 {
			return "", fmt.Errorf("digest %s does not match expected", digest)
		}
	}
	return digest, nil
}

// Digest returns the hex BLAKE3-256 of an image, as clients send it in
// X-Firmware-Digest.
func Digest(r io.Reader) (string, error) {
	h := blake3.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
