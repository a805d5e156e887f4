package vcs

import (
	"errors"
	"testing"
)

func withCleanRegistry(t *testing.T) {
	t.Helper()
	registryMutex.Lock()
	saved := registry
	registry = make(map[Type]Constructor)
	registryMutex.Unlock()
	t.Cleanup(func() {
		registryMutex.Lock()
		registry = saved
		registryMutex.Unlock()
	})
}

func TestRegister(t *testing.T) {
	withCleanRegistry(t)

	Register(TypeGit, func(path string, opts Options) (Backend, error) {
		return nil, nil
	})
	if !IsRegistered(TypeGit) {
		t.Error("IsRegistered(git) = false after Register")
	}
}

func TestRegisterPanicsOnNil(t *testing.T) {
	withCleanRegistry(t)

	defer func() {
		if recover() == nil {
			t.Error("Register(nil) should panic")
		}
	}()
	Register(TypeGit, nil)
}

func TestRegisterPanicsOnDuplicate(t *testing.T) {
	withCleanRegistry(t)

	c := func(path string, opts Options) (Backend, error) { return nil, nil }
	Register(TypeGit, c)

	defer func() {
		if recover() == nil {
			t.Error("duplicate Register should panic")
		}
	}()
	Register(TypeGit, c)
}

func TestOpenUnregistered(t *testing.T) {
	withCleanRegistry(t)

	_, err := Open(TypeGit, t.TempDir(), Options{})
	if !errors.Is(err, ErrVCSNotAvailable) {
		t.Errorf("Open() error = %v, want ErrVCSNotAvailable", err)
	}
}
