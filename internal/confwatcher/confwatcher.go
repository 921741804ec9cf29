// Package confwatcher contains a watcher of the job file and of its inputs.
package confwatcher

import (
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const (
	minInterval    = 1 * time.Second
	additionalWait = 10 * time.Millisecond
)

// ConfWatcher notifies when the job file or one of the input files changes.
type ConfWatcher struct {
	FilePath string
	// input files. Missing ones are ignored.
	Inputs []string

	inner *fsnotify.Watcher
	// absolute path -> resolved path
	watched map[string]string

	terminate chan struct{}
	signal    chan struct{}
	done      chan struct{}
}

// Initialize initializes a ConfWatcher.
func (w *ConfWatcher) Initialize() error {
	if _, err := os.Stat(w.FilePath); err != nil {
		return err
	}

	var err error
	w.inner, err = fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	w.watched = make(map[string]string)
	dirs := make(map[string]struct{})

	for _, p := range append([]string{w.FilePath}, w.Inputs...) {
		// use absolute paths to support Darwin
		abs, err := filepath.Abs(p)
		if err != nil {
			continue
		}

		if p != w.FilePath {
			if _, err := os.Stat(abs); err != nil {
				continue
			}
		}

		w.watched[abs], _ = filepath.EvalSymlinks(abs)
		dirs[filepath.Dir(abs)] = struct{}{}
	}

	for dir := range dirs {
		err = w.inner.Add(dir)
		if err != nil {
			w.inner.Close() //nolint:errcheck
			return err
		}
	}

	w.terminate = make(chan struct{})
	w.signal = make(chan struct{})
	w.done = make(chan struct{})

	go w.run()

	return nil
}

// Close closes a ConfWatcher.
func (w *ConfWatcher) Close() {
	close(w.terminate)
	<-w.done
}

// changed returns whether the event refers to a watched file.
func (w *ConfWatcher) changed(event fsnotify.Event) bool {
	eventPath, _ := filepath.Abs(event.Name)
	eventPath, _ = filepath.EvalSymlinks(eventPath)

	ret := false

	for abs, previous := range w.watched {
		current, _ := filepath.EvalSymlinks(abs)

		switch {
		case current == "":
			// file was removed; wait for a write event
			w.watched[abs] = ""

		case current != previous:
			// symlink was replaced
			w.watched[abs] = current
			ret = true

		case eventPath == current &&
			((event.Op&fsnotify.Write) == fsnotify.Write ||
				(event.Op&fsnotify.Create) == fsnotify.Create):
			ret = true
		}
	}

	return ret
}

func (w *ConfWatcher) run() {
	defer close(w.done)

	var lastCalled time.Time

outer:
	for {
		select {
		case event := <-w.inner.Events:
			if time.Since(lastCalled) < minInterval {
				continue
			}

			if !w.changed(event) {
				continue
			}

			// wait some additional time to allow the writer to complete its job
			time.Sleep(additionalWait)
			lastCalled = time.Now()

			select {
			case w.signal <- struct{}{}:
			case <-w.terminate:
				break outer
			}

		case <-w.inner.Errors:
			break outer

		case <-w.terminate:
			break outer
		}
	}

	close(w.signal)
	w.inner.Close() //nolint:errcheck
}

// Watch returns a channel that is called after a watched file has changed.
func (w *ConfWatcher) Watch() chan struct{} {
	return w.signal
}
