package vcs

import (
	"fmt"
	"sync"
)

// Constructor makes a Backend for the repository at path. The repository
// need not exist yet.
type Constructor func(path string, opts Options) (Backend, error)

var (
	registryMutex sync.RWMutex
	registry      = map[Type]Constructor{}
)

// Register makes a backend available to Open. Implementation packages call
// it from init:
//
//	func init() {
//	    vcs.Register(vcs.TypeGit, open)
//	}
//
// A nil constructor or a second registration for t panics.
func Register(t Type, c Constructor) {
	registryMutex.Lock()
	defer registryMutex.Unlock()
	switch {
	case c == nil:
		panic(fmt.Sprintf("vcs: nil constructor for %s", t))
	case registry[t] != nil:
		panic(fmt.Sprintf("vcs: %s registered twice", t))
	}
	registry[t] = c
}

// IsRegistered reports whether Open can make a t backend.
func IsRegistered(t Type) bool {
	registryMutex.RLock()
	defer registryMutex.RUnlock()
	return registry[t] != nil
}

// Open makes a t backend for path; callers bootstrap it with Exists, Init
// and Clone.
func Open(t Type, path string, opts Options) (Backend, error) {
	registryMutex.RLock()
	c := registry[t]
	registryMutex.RUnlock()
	if c == nil {
		return nil, fmt.Errorf("vcs: no %s backend: %w", t, ErrVCSNotAvailable)
	}
	return c(path, opts)
}
