// Package shell runs external tools with a hard timeout.
package shell

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
	"time"
)

type Result struct {
	Stdout []byte
	Stderr []byte
	Code   int
}

// Output returns trimmed stdout.
func (r Result) Output() string { return strings.TrimSpace(string(r.Stdout)) }

var ErrTimeout = errors.New("command timed out")

// Runner is the signature of Run, so callers can substitute a fake.
type Runner func(ctx context.Context, timeout time.Duration, name string, args ...string) (Result, error)

func Run(ctx context.Context, timeout time.Duration, name string, args ...string) (Result, error) {
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(cctx, name, args...)
	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf

	err := cmd.Run()
	res := Result{Stdout: outBuf.Bytes(), Stderr: errBuf.Bytes(), Code: exitCode(err)}
	if errors.Is(cctx.Err(), context.DeadlineExceeded) {
		return res, ErrTimeout
	}
	if err != nil && len(errBuf.Bytes()) > 0 {
		return res, errors.Join(err, errors.New(strings.TrimSpace(errBuf.String())))
	}
	return res, err
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return ee.ExitCode()
	}
	return -1
}
