package xray

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"VKSaver/logger"

	"github.com/fsnotify/fsnotify"
)

// WaitForBinary blocks until path exists and is executable or ctx is done.
// The parent directory must already exist.
func WaitForBinary(ctx context.Context, path string) error {
	if checkBinary(path) == nil {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	// the binary may have appeared between the first check and Add
	if checkBinary(path) == nil {
		return nil
	}

	target := filepath.Clean(path)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return errors.New("watcher closed")
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Chmod|fsnotify.Rename) == 0 {
				continue
			}
			if checkBinary(path) == nil {
				logger.Info("[WaitForBinary] xray binary appeared", logger.String("path", path))
				return nil
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return errors.New("watcher closed")
			}
			logger.Warn("[WaitForBinary] watcher error", logger.ErrorField(err))
		}
	}
}
