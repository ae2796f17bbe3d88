package jsonfile

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/patric-chuzhbe/flylink/internal/localstore"
	"github.com/patric-chuzhbe/flylink/internal/logger"
)

const (
	journalSuffix = ".changes"

	// maxJournalSize is the size past which the next publish starts the journal over.
	maxJournalSize = 64 << 10

	DefaultPollInterval = time.Second
)

// Journal is the change bus of processes sharing one storage file. Changes
// are appended as JSON lines to a journal next to the document; subscribers
// follow it through file system notifications, with a periodic poll as a
// fallback.
type Journal struct {
	mu           sync.Mutex
	fileName     string
	pollInterval time.Duration
}

type JournalOption func(*Journal)

func WithPollInterval(interval time.Duration) JournalOption {
	return func(j *Journal) {
		j.pollInterval = interval
	}
}

// NewJournal returns the journal paired with the storage file storageFile.
func NewJournal(storageFile string, opts ...JournalOption) *Journal {
	j := &Journal{
		fileName:     storageFile + journalSuffix,
		pollInterval: DefaultPollInterval,
	}
	for _, opt := range opts {
		opt(j)
	}

	return j
}

// FileName returns the path of the journal.
func (j *Journal) FileName() string {
	return j.fileName
}

func (j *Journal) Publish(_ context.Context, change localstore.Change) error {
	line, err := json.Marshal(change)
	if err != nil {
		return fmt.Errorf("error marshaling change: %w", err)
	}
	line = append(line, '\n')

	j.mu.Lock()
	defer j.mu.Unlock()

	if info, err := os.Stat(j.fileName); err == nil && info.Size() > maxJournalSize {
		if err := os.Truncate(j.fileName, 0); err != nil {
			return fmt.Errorf("error truncating journal: %w", err)
		}
	}

	file, err := os.OpenFile(j.fileName, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("error opening journal: %w", err)
	}
	if _, err := file.Write(line); err != nil {
		file.Close()
		return fmt.Errorf("error writing journal: %w", err)
	}

	return file.Close()
}

// Subscribe follows changes appended after the call.
func (j *Journal) Subscribe(ctx context.Context) (<-chan localstore.Change, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Log.Warnw("file notifications unavailable, polling the journal", "error", err)
	} else if err := watcher.Add(filepath.Dir(j.fileName)); err != nil {
		logger.Log.Warnw("unable to watch the journal directory, polling instead", "error", err)
		watcher.Close()
		watcher = nil
	}

	offset := int64(0)
	if info, err := os.Stat(j.fileName); err == nil {
		offset = info.Size()
	}

	out := make(chan localstore.Change)
	go j.follow(ctx, watcher, offset, out)

	return out, nil
}

func (j *Journal) follow(ctx context.Context, watcher *fsnotify.Watcher, offset int64, out chan<- localstore.Change) {
	defer close(out)

	var (
		events <-chan fsnotify.Event
		errs   <-chan error
	)
	if watcher != nil {
		defer watcher.Close()
		events = watcher.Events
		errs = watcher.Errors
	}

	ticker := time.NewTicker(j.pollInterval)
	defer ticker.Stop()

	journal := filepath.Clean(j.fileName)
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if filepath.Clean(event.Name) != journal {
				continue
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			logger.Log.Debugw("journal watcher error", "error", err)
			continue
		case <-ticker.C:
		}

		var changes []localstore.Change
		changes, offset = j.readFrom(offset)
		for _, change := range changes {
			select {
			case out <- change:
			case <-ctx.Done():
				return
			}
		}
	}
}

// readFrom returns the complete lines written after offset and the offset
// following the last of them. A journal shorter than offset was started over.
func (j *Journal) readFrom(offset int64) ([]localstore.Change, int64) {
	file, err := os.Open(j.fileName)
	if err != nil {
		return nil, offset
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, offset
	}
	if info.Size() < offset {
		offset = 0
	}
	if info.Size() == offset {
		return nil, offset
	}
	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		return nil, offset
	}

	var changes []localstore.Change
	reader := bufio.NewReader(file)
	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			break
		}
		offset += int64(len(line))

		var change localstore.Change
		if err := json.Unmarshal(line, &change); err != nil {
			logger.Log.Debugw("skipping malformed journal line", "error", err)
			continue
		}
		changes = append(changes, change)
	}

	return changes, offset
}
