//go:build windows

package state

import (
	"os"
	"path/filepath"
)

// Windows has no flock; exclusive create-mode open of the lock file is the
// best effort equivalent. Single-writer-per-task is still guaranteed within
// one process by the engine's sequential execution model.
type fileLock struct {
	f *os.File
}

func acquireLock(lockFile string) (*fileLock, error) {
	if err := os.MkdirAll(filepath.Dir(lockFile), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(lockFile, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}
	return &fileLock{f: f}, nil
}

func (l *fileLock) release() {
	if l == nil || l.f == nil {
		return
	}
	_ = l.f.Close()
}
