// Package segment implements acquisition of a named, fixed-size,
// byte-addressable region of memory shared across processes, per the
// segment-acquisition interface a shared-memory hash table is built
// on top of: open an existing POSIX shared-memory object by name, or
// create it if absent, then map it read/write.
//
// On Linux, shm_open(3) is implemented by glibc as an open(2) against
// /dev/shm, so this package reproduces that behavior directly with
// golang.org/x/sys/unix rather than depending on cgo for a pthread-style
// binding that the rest of this retrieval pack never reaches for either.
package segment

import (
	"fmt"
	"path/filepath"

	"golang.org/x/sys/unix"
)

const shmDir = "/dev/shm"

// Segment is a process's handle onto one mapped shared-memory region.
type Segment struct {
	name string
	data []byte
}

// Open attaches to the named shared-memory object, creating it if it
// does not already exist, and maps size bytes of it read/write.
// Created reports whether this call is the one that created the
// object (the first attacher is responsible for initializing the
// service zone's mutex and relying on ftruncate's implicit zeroing of
// the rest).
func Open(name string, size int64) (seg *Segment, created bool, err error) {
	if size <= 0 {
		return nil, false, fmt.Errorf("segment: size must be positive, got %d", size)
	}

	path := filepath.Join(shmDir, name)

	fd, openErr := unix.Open(path, unix.O_RDWR, 0)
	if openErr != nil {
		if openErr != unix.ENOENT {
			return nil, false, fmt.Errorf("segment: open %s: %w", path, openErr)
		}

		fd, openErr = unix.Open(path, unix.O_RDWR|unix.O_CREAT, 0666)
		if openErr != nil {
			return nil, false, fmt.Errorf("segment: create %s: %w", path, openErr)
		}
		created = true
	}
	defer unix.Close(fd)

	if truncErr := unix.Ftruncate(fd, size); truncErr != nil {
		return nil, false, fmt.Errorf("segment: ftruncate %s to %d: %w", path, size, truncErr)
	}

	data, mmapErr := unix.Mmap(fd, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if mmapErr != nil {
		return nil, false, fmt.Errorf("segment: mmap %s: %w", path, mmapErr)
	}

	return &Segment{name: name, data: data}, created, nil
}

// Name returns the shared-memory object's name, as passed to Open.
func (s *Segment) Name() string {
	return s.name
}

// Data returns the mapped region. The returned slice aliases the
// mapping directly: writes through it are visible to every other
// process attached to the same name.
func (s *Segment) Data() []byte {
	return s.data
}

// Close unmaps the region. It does not unlink the underlying
// shared-memory object — per spec, the segment persists until
// explicitly unlinked, which this package leaves out of scope.
func (s *Segment) Close() error {
	if s.data == nil {
		return nil
	}
	err := unix.Munmap(s.data)
	s.data = nil
	if err != nil {
		return fmt.Errorf("segment: munmap %s: %w", s.name, err)
	}
	return nil
}

// Unlink removes the named shared-memory object from /dev/shm. It is
// not part of the normal attach/detach lifecycle — a segment persists
// until explicitly unlinked — but is useful for tests and operational
// cleanup tooling.
func Unlink(name string) error {
	path := filepath.Join(shmDir, name)
	if err := unix.Unlink(path); err != nil && err != unix.ENOENT {
		return fmt.Errorf("segment: unlink %s: %w", path, err)
	}
	return nil
}
