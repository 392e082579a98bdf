// Package pid keeps a single acquisition per host, so two runs never contend
// for the same instrument.
package pid

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"codeberg.org/mutker/daqlog/internal/errors"
	"codeberg.org/mutker/daqlog/internal/logger"
)

const (
	pidFile = "daqlog.pid"
)

// Path returns the PID file location.
func Path() string {
	return filepath.Join(os.TempDir(), pidFile)
}

// Write writes the current process ID to the PID file. It fails with
// ErrAlreadyRunning while another live process holds the file; a file left
// behind by a dead or unparsable process is replaced.
func Write() error {
	errFactory := errors.New()
	path := Path()

	if other, ok := holder(path); ok {
		return errFactory.WithData(errors.ErrAlreadyRunning, other)
	}

	err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o600)
	if err != nil {
		return errFactory.Wrap(errors.ErrInternal, err)
	}

	return nil
}

// holder returns the PID recorded at path if that process is alive.
func holder(path string) (int, bool) {
	bytes, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(bytes)))
	if err != nil || pid <= 0 {
		logger.Warn().Str("path", path).Msg("Replacing unreadable PID file")
		return 0, false
	}
	if pid == os.Getpid() {
		return 0, false
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return 0, false
	}
	if err := process.Signal(syscall.Signal(0)); err != nil {
		logger.Debug().Int("pid", pid).Msg("Replacing stale PID file")
		return 0, false
	}

	return pid, true
}

// Remove removes the PID file.
func Remove() error {
	errFactory := errors.New()

	if err := os.Remove(Path()); err != nil && !os.IsNotExist(err) {
		return errFactory.Wrap(errors.ErrInternal, err)
	}

	return nil
}
