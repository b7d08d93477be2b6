package platform

import (
	"errors"
	"io/fs"
	"os"
	"slices"
	"sync"
)

var deferred struct {
	mu    sync.Mutex
	paths []string
}

// RemoveOrDefer removes path. If removal is denied, the path is queued and
// retried by the next SweepDeferred call; the returned error reports the
// failure but the caller need not act on it.
func RemoveOrDefer(path string) error {
	err := os.Remove(path)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	deferred.mu.Lock()
	if !slices.Contains(deferred.paths, path) {
		deferred.paths = append(deferred.paths, path)
	}
	deferred.mu.Unlock()
	return err
}

// SweepDeferred retries every queued removal and returns the paths that
// still could not be removed.
func SweepDeferred() []string {
	deferred.mu.Lock()
	paths := deferred.paths
	deferred.paths = nil
	deferred.mu.Unlock()

	var remaining []string
	for _, path := range paths {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			remaining = append(remaining, path)
		}
	}
	if len(remaining) > 0 {
		deferred.mu.Lock()
		deferred.paths = append(deferred.paths, remaining...)
		deferred.mu.Unlock()
	}
	return remaining
}

// Deferred returns the paths currently queued for removal.
func Deferred() []string {
	deferred.mu.Lock()
	defer deferred.mu.Unlock()
	return slices.Clone(deferred.paths)
}
