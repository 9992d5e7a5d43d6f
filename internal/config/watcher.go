package config

import (
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"selfserve/internal/logger"
)

// FileWatcher monitors a single file for changes and invokes a callback on modification.
type FileWatcher struct {
	path     string
	watcher  *fsnotify.Watcher
	onChange func()

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	done     chan struct{}
}

// NewFileWatcher creates a watcher that calls onChange when the file is written or replaced.
func NewFileWatcher(path string, onChange func()) (*FileWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &FileWatcher{
		path:     path,
		watcher:  w,
		onChange: onChange,
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}, nil
}

// Start begins watching. The parent directory is watched so that editors
// replacing the file by rename are noticed.
func (fw *FileWatcher) Start() error {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	if fw.running {
		return nil
	}

	if err := fw.watcher.Add(filepath.Dir(fw.path)); err != nil {
		return err
	}
	fw.running = true

	log := logger.WithComponent("file-watcher")
	log.Info().Str("path", fw.path).Msg("Started watching file")

	go fw.watch()
	return nil
}

// Stop stops watching and waits for the watch goroutine to exit. A watcher
// that was never started only releases its fsnotify handle.
func (fw *FileWatcher) Stop() error {
	fw.mu.Lock()
	if !fw.running {
		fw.mu.Unlock()
		return fw.watcher.Close()
	}
	fw.running = false
	fw.mu.Unlock()

	close(fw.stopChan)
	err := fw.watcher.Close()
	<-fw.done
	return err
}

func (fw *FileWatcher) watch() {
	defer close(fw.done)

	log := logger.WithComponent("file-watcher")
	filename := filepath.Base(fw.path)

	for {
		select {
		case <-fw.stopChan:
			log.Info().Str("path", fw.path).Msg("File watcher stopped")
			return

		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != filename {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				log.Info().
					Str("path", fw.path).
					Str("event", event.Op.String()).
					Msg("File changed, reloading")
				if fw.onChange != nil {
					fw.onChange()
				}
			}

		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			log.Error().Err(err).Str("path", fw.path).Msg("File watcher error")
		}
	}
}

// IsRunning returns whether the watcher is currently running.
func (fw *FileWatcher) IsRunning() bool {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	return fw.running
}

// NewLoggingWatcher reloads the configuration file on change and passes
// its Logging section, with paths resolved against baseDir, to callback.
// Invalid files are logged and ignored.
func NewLoggingWatcher(path, baseDir string, callback func(logger.Config)) (*FileWatcher, error) {
	return NewFileWatcher(path, func() {
		log := logger.WithComponent("config-watcher")
		cfg, err := Load(path)
		if err != nil {
			log.Error().Err(err).Msg("Failed to reload configuration")
			return
		}
		cfg.ResolvePaths(baseDir)
		if callback != nil {
			callback(cfg.Logging)
		}
	})
}
