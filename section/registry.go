package section

import (
	"sync"

	qerrors "qatmgr-go/errors"
)

// Registry tracks section assignment to client processes. Mirrors the
// teacher's mutex-guarded Container state pattern: a single RWMutex
// protects the whole slice, and acquire/release are simple linear scans
// since the number of sections on a host is small (tens, not thousands).
type Registry struct {
	mu       sync.RWMutex
	sections []*Section
}

// NewRegistry wraps an already-built section list for acquire/release
// tracking.
func NewRegistry(sections []*Section) *Registry {
	return &Registry{sections: sections}
}

// Count returns the number of sections in the registry.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sections)
}

// Get returns a read-only snapshot of the section at index, or an error if
// out of range.
func (r *Registry) Get(index int) (Section, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if index < 0 || index >= len(r.sections) {
		return Section{}, qerrors.ErrInvalidIndex
	}
	return *r.sections[index], nil
}

// Acquire finds the first free section (AssignedPID == 0) and assigns it to
// pid. Returns the section index and its derived name, or an error if every
// section is held.
func (r *Registry) Acquire(pid int32) (index int, name string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, s := range r.sections {
		if s.AssignedPID == 0 {
			s.AssignedPID = pid
			return i, s.Name, nil
		}
	}
	return -1, "", qerrors.ErrNoSectionAvailable
}

// Release frees the section at index, provided both the caller's pid and
// the section name it believes it holds match.
func (r *Registry) Release(index int, pid int32, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if index < 0 || index >= len(r.sections) {
		return qerrors.ErrInvalidIndex
	}
	s := r.sections[index]
	if s.Name != name {
		return qerrors.ErrSectionNameMismatch
	}
	if s.AssignedPID != pid {
		return qerrors.ErrSectionNotAssigned
	}
	s.AssignedPID = 0
	return nil
}

// ReleaseAllForPID clears every section held by pid.
func (r *Registry) ReleaseAllForPID(pid int32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sections {
		if s.AssignedPID == pid {
			s.AssignedPID = 0
		}
	}
}
