package profile

import (
	"errors"
	"fmt"
	"path"
	"time"

	"github.com/werf/lockgate"
	"github.com/werf/lockgate/pkg/file_locker"
)

var (
	ErrCannotLockDir         = errors.New("unable to create lock dir")
	ErrUnableToAcquireLock   = errors.New("cannot acquire lock")
	ErrUnableToLoadDueToLock = errors.New("cannot load profiles due to lock error")
)

type locked struct {
	locker   lockgate.Locker
	resource string
}

func newLocked(baseDir, resource string) (locked, error) {
	lockDir := path.Join(baseDir, ".awsome-broker-lock")
	locker, err := file_locker.NewFileLocker(lockDir)
	if err != nil {
		return locked{}, fmt.Errorf("%s: %s, %w", lockDir, err, ErrCannotLockDir)
	}
	return locked{locker: locker, resource: resource}, nil
}

func (l locked) ensureLock() (func(), error) {
	acquired, lock, err := l.locker.Acquire(l.resource, lockgate.AcquireOptions{Shared: false, Timeout: 1 * time.Minute})
	if err != nil {
		return nil, fmt.Errorf("%s, %w", err, ErrUnableToAcquireLock)
	}
	if !acquired {
		return nil, fmt.Errorf("%s, %w", l.resource, ErrUnableToLoadDueToLock)
	}
	return func() {
		_ = l.locker.Release(lock)
	}, nil
}
