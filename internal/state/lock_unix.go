//go:build !windows

package state

import (
	"os"
	"path/filepath"
	"syscall"
)

// fileLock is an exclusive advisory lock guarding a task directory against
// concurrent writers. Acquisition blocks until the holder releases.
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
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX); err != nil {
		_ = f.Close()
		return nil, err
	}
	return &fileLock{f: f}, nil
}

func (l *fileLock) release() {
	if l == nil || l.f == nil {
		return
	}
	_ = syscall.Flock(int(l.f.Fd()), syscall.LOCK_UN)
	_ = l.f.Close()
}
