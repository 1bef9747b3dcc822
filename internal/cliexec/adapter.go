// Package cliexec is the shell-free adapter that invokes the tracker
// binary, capturing its stdout/stderr and optionally parsing JSON.
package cliexec

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"
)

// Adapter spawns the tracker binary with an argv array. No shell is
// involved; arguments are never interpolated into a command string.
type Adapter struct {
	// Bin is the tracker binary path or name (resolved via $PATH if not
	// absolute). Defaults to "bd".
	Bin string
	// DBPath, when non-empty, is injected into every invocation unless
	// the caller's args already specify a database flag.
	DBPath string
	// Env, when non-nil, is passed to the child in place of the
	// process environment.
	Env []string
	// Timeout bounds a single invocation; zero means no timeout.
	Timeout time.Duration
}

// New returns an Adapter defaulting Bin to "bd", overridable via the
// BD_BIN environment variable.
func New(dbPath string) *Adapter {
	bin := os.Getenv("BD_BIN")
	if bin == "" {
		bin = "bd"
	}
	return &Adapter{Bin: bin, DBPath: dbPath}
}

const dbFlag = "--db"

// Result carries the outcome of a single invocation.
type Result struct {
	Code   int
	Stdout []byte
	Stderr []byte
}

// hasDBFlag reports whether args already specify --db.
func hasDBFlag(args []string) bool {
	for _, a := range args {
		if a == dbFlag {
			return true
		}
	}
	return false
}

func (a *Adapter) fullArgv(args []string) []string {
	if a.DBPath == "" || hasDBFlag(args) {
		return args
	}
	full := make([]string, 0, len(args)+2)
	full = append(full, args...)
	full = append(full, dbFlag, a.DBPath)
	return full
}

// Run spawns the tracker binary with argv, returning its exit code and
// captured stdout/stderr. A spawn failure (binary not found, permission
// denied) is reported as code=127 with a descriptive stderr, per
// spec.md §4.1. A configured Timeout kills the child hard on expiry.
func (a *Adapter) Run(ctx context.Context, args []string) (Result, error) {
	if a.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, a.Bin, a.fullArgv(args)...)
	if a.Env != nil {
		cmd.Env = a.Env
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	setProcAttrs(cmd)
	cmd.Cancel = func() error {
		killProcessGroup(cmd)
		return nil
	}

	err := cmd.Run()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return Result{Code: exitErr.ExitCode(), Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}, nil
		}
		if ctx.Err() == context.DeadlineExceeded {
			killProcessGroup(cmd)
			return Result{Code: -1, Stdout: stdout.Bytes(), Stderr: []byte(fmt.Sprintf("%s: timed out", a.Bin))}, nil
		}
		return Result{Code: 127, Stderr: []byte(fmt.Sprintf("failed to spawn %s: %v", a.Bin, err))}, nil
	}

	return Result{Code: 0, Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}, nil
}

// JSONError describes a non-zero exit or unparseable JSON on a JSON
// command, per spec.md §4.1/§7 (tracker-failed).
type JSONError struct {
	ExitCode int
	Stderr   string
	// Invalid is set when the exit code was zero but stdout failed to
	// parse as JSON.
	Invalid bool
}

func (e *JSONError) Error() string {
	if e.Invalid {
		return "tracker produced invalid JSON"
	}
	return fmt.Sprintf("tracker exited %d: %s", e.ExitCode, e.Stderr)
}

// RunJSON runs args and parses stdout as JSON on success. Non-zero
// exits are reported via JSONError carrying the captured stderr and
// exit code. Invalid JSON on a zero exit is also a JSONError, with
// Invalid set, even though the exit code itself was zero.
func (a *Adapter) RunJSON(ctx context.Context, args []string, out any) error {
	res, err := a.Run(ctx, args)
	if err != nil {
		return err
	}
	if res.Code != 0 {
		return &JSONError{ExitCode: res.Code, Stderr: string(res.Stderr)}
	}
	if err := json.Unmarshal(res.Stdout, out); err != nil {
		return &JSONError{ExitCode: res.Code, Invalid: true}
	}
	return nil
}
