// Package hash stores the administrative credential as an Argon2id PHC string.
package hash

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Parameters sized for a small board: ~19 MiB and two passes.
const (
	defaultTime    uint32 = 2
	defaultMemory  uint32 = 19 * 1024
	defaultThreads uint8  = 1
	defaultSaltLen uint32 = 16
	defaultKeyLen  uint32 = 32
	phcAlg                = "argon2id"
	phcVersion            = 19
)

// HashPassword returns $argon2id$v=19$m=...,t=...,p=...$<salt>$<hash>.
func HashPassword(plain string) (string, error) {
	salt := make([]byte, defaultSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	sum := argon2.IDKey([]byte(plain), salt, defaultTime, defaultMemory, defaultThreads, defaultKeyLen)
	return fmt.Sprintf("$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		phcAlg, phcVersion, defaultMemory, defaultTime, defaultThreads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(sum),
	), nil
}

// IsHash reports whether stored looks like a PHC string this package wrote.
func IsHash(stored string) bool {
	return strings.HasPrefix(stored, "$"+phcAlg+"$")
}

// Verify checks plain against stored. Records written before hashing was
// introduced hold the secret verbatim; those are compared in constant time.
func Verify(stored, plain string) bool {
	if stored == "" {
		return false
	}
	if !IsHash(stored) {
		return subtle.ConstantTimeCompare([]byte(stored), []byte(plain)) == 1
	}
	params, salt, sum, err := parsePHC(stored)
	if err != nil {
		return false
	}
	calc := argon2.IDKey([]byte(plain), salt, params.time, params.memory, params.threads, uint32(len(sum)))
	return subtle.ConstantTimeCompare(calc, sum) == 1
}

type phcParams struct {
	time    uint32
	memory  uint32
	threads uint8
}

func parsePHC(phc string) (phcParams, []byte, []byte, error) {
	// "", alg, v=19, params, salt, hash
	parts := strings.Split(phc, "$")
	if len(parts) != 6 || parts[0] != "" {
		return phcParams{}, nil, nil, errors.New("invalid phc: parts")
	}
	if parts[1] != phcAlg {
		return phcParams{}, nil, nil, fmt.Errorf("unsupported alg: %s", parts[1])
	}
	if v, err := strconv.Atoi(strings.TrimPrefix(parts[2], "v=")); err != nil || v != phcVersion {
		return phcParams{}, nil, nil, fmt.Errorf("unsupported version: %s", parts[2])
	}
	var pp phcParams
	for _, kv := range strings.Split(parts[3], ",") {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		switch k {
		case "m":
			if n, err := strconv.ParseUint(v, 10, 32); err == nil {
				pp.memory = uint32(n)
			}
		case "t":
			if n, err := strconv.ParseUint(v, 10, 32); err == nil {
				pp.time = uint32(n)
			}
		case "p":
			if n, err := strconv.ParseUint(v, 10, 8); err == nil {
				pp.threads = uint8(n)
			}
		}
	}
	if pp.memory == 0 || pp.time == 0 || pp.threads == 0 {
		return phcParams{}, nil, nil, errors.New("invalid phc: params")
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil || len(salt) == 0 {
		return phcParams{}, nil, nil, errors.New("invalid phc: salt")
	}
	sum, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(sum) == 0 {
		return phcParams{}, nil, nil, errors.New("invalid phc: hash")
	}
	return pp, salt, sum, nil
}
