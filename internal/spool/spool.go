// Package spool ingests mutations dropped as JSON files into a spool
// directory.
//
// Sibling processes that cannot link the engine directly (editor
// plugins, capture scripts) record offline mutations by writing one file
// per mutation into the spool directory. The watcher:
// 1. Watches the directory for new *.json files
// 2. Debounces rapid writes so partially written files settle
// 3. Parses and enqueues each mutation
// 4. Removes the file once durably queued
//
// A file that cannot be parsed is renamed to *.rejected and left in
// place for inspection; ingestion never drops a mutation silently.
package spool

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/checklisthq/syncd/internal/record"
)

// File is the on-disk format of one spooled mutation.
type File struct {
	Kind       string          `json:"kind"`
	EntityType string          `json:"entity_type"`
	EntityID   string          `json:"entity_id"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// Enqueuer is the slice of the engine the watcher needs.
type Enqueuer interface {
	EnqueueMutation(ctx context.Context, kind record.Kind, entityType record.EntityType, entityID string, payload json.RawMessage) (int64, error)
}

// Config holds configuration for the watcher.
type Config struct {
	// Dir is the spool directory. Created if missing.
	Dir string

	// DebounceInterval is how long a file must sit unchanged before it
	// is ingested. Batches rapid writes together.
	DebounceInterval time.Duration

	// Logger for watcher activity.
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig(dir string) *Config {
	return &Config{
		Dir:              dir,
		DebounceInterval: 200 * time.Millisecond,
		Logger:           log.New(os.Stderr, "[spool] ", log.LstdFlags),
	}
}

// Watcher ingests spooled mutation files into the queue.
type Watcher struct {
	enqueuer Enqueuer
	config   *Config

	watcher *fsnotify.Watcher

	pendingMu sync.Mutex
	pending   map[string]time.Time // filepath -> last event time
}

// New creates a spool watcher. Use Run() to start ingesting.
func New(enqueuer Enqueuer, config *Config) (*Watcher, error) {
	if enqueuer == nil {
		return nil, fmt.Errorf("enqueuer cannot be nil")
	}
	if config == nil || config.Dir == "" {
		return nil, fmt.Errorf("spool directory cannot be empty")
	}
	if config.DebounceInterval == 0 {
		config.DebounceInterval = 200 * time.Millisecond
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[spool] ", log.LstdFlags)
	}

	if err := os.MkdirAll(config.Dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create spool directory: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	return &Watcher{
		enqueuer: enqueuer,
		config:   config,
		watcher:  watcher,
		pending:  make(map[string]time.Time),
	}, nil
}

// Run ingests existing and newly arriving spool files until ctx is
// cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	if err := w.watcher.Add(w.config.Dir); err != nil {
		return fmt.Errorf("failed to watch spool directory: %w", err)
	}

	// Sweep files that arrived while we weren't watching.
	if err := w.sweep(ctx); err != nil {
		return fmt.Errorf("initial spool sweep failed: %w", err)
	}

	w.config.Logger.Printf("Watching spool directory: %s", w.config.Dir)

	ticker := time.NewTicker(w.config.DebounceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}

			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if !strings.HasSuffix(event.Name, ".json") {
				continue
			}

			w.pendingMu.Lock()
			w.pending[event.Name] = time.Now()
			w.pendingMu.Unlock()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.config.Logger.Printf("Watcher error: %v", err)

		case <-ticker.C:
			w.ingestSettled(ctx)
		}
	}
}

// sweep enqueues every spool file already present in the directory.
func (w *Watcher) sweep(ctx context.Context) error {
	entries, err := os.ReadDir(w.config.Dir)
	if err != nil {
		return fmt.Errorf("failed to read spool directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		w.ingest(ctx, filepath.Join(w.config.Dir, entry.Name()))
	}

	return nil
}

// ingestSettled processes files whose last write is old enough.
func (w *Watcher) ingestSettled(ctx context.Context) {
	now := time.Now()

	w.pendingMu.Lock()
	var ready []string
	for path, lastEvent := range w.pending {
		if now.Sub(lastEvent) >= w.config.DebounceInterval {
			ready = append(ready, path)
			delete(w.pending, path)
		}
	}
	w.pendingMu.Unlock()

	for _, path := range ready {
		w.ingest(ctx, path)
	}
}

// ingest parses, enqueues and removes a single spool file.
func (w *Watcher) ingest(ctx context.Context, path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return
		}
		w.config.Logger.Printf("Error reading spool file %s: %v", path, err)
		return
	}

	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		w.reject(path, fmt.Errorf("invalid JSON: %w", err))
		return
	}

	kind, err := record.ParseKind(f.Kind)
	if err != nil {
		w.reject(path, err)
		return
	}

	entityType, err := record.ParseEntityType(f.EntityType)
	if err != nil {
		w.reject(path, err)
		return
	}

	id, err := w.enqueuer.EnqueueMutation(ctx, kind, entityType, f.EntityID, f.Payload)
	if err != nil {
		// Storage exhaustion or validation failure. Leave the file in
		// place so nothing is lost; validation problems are marked.
		if verr := record.Validate(kind, f.EntityID, f.Payload); verr != nil {
			w.reject(path, verr)
			return
		}
		w.config.Logger.Printf("Error enqueueing spool file %s: %v", path, err)
		return
	}

	if err := os.Remove(path); err != nil {
		w.config.Logger.Printf("Warning: failed to remove ingested spool file %s: %v", path, err)
	}

	w.config.Logger.Printf("Ingested %s as mutation %d", filepath.Base(path), id)
}

// reject renames an unusable spool file so it stops being retried but
// remains available for inspection.
func (w *Watcher) reject(path string, cause error) {
	w.config.Logger.Printf("Rejecting spool file %s: %v", path, cause)
	if err := os.Rename(path, path+".rejected"); err != nil {
		w.config.Logger.Printf("Warning: failed to rename rejected spool file %s: %v", path, err)
	}
}
