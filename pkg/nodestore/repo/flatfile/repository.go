// Package flatfile implements nodestore.NodeRepository as a whole-store
// snapshot file. The file is YAML or JSON depending on its extension, is
// rewritten atomically after every mutation, can be backed up on a timer,
// and is reloaded when another process changes it.
package flatfile

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/tendant/nodestore/pkg/nodestore"
	"github.com/tendant/nodestore/pkg/nodestore/repo/memory"
)

const (
	defaultBackupRetain = 5
	backupTimeLayout    = "20060102-150405.000000000"
)

// Config describes the snapshot file and its maintenance.
type Config struct {
	// Path of the snapshot; .yaml, .yml and .json are supported.
	Path string
	// BackupInterval enables periodic copies of the snapshot when positive.
	BackupInterval time.Duration
	// BackupDir defaults to the snapshot's directory.
	BackupDir string
	// BackupRetain is the number of backups kept, 5 by default.
	BackupRetain int
	Logger       nodestore.Logger
}

type snapshot struct {
	Nodes []*nodestore.Node `json:"nodes" yaml:"nodes"`
}

// Repository keeps the nodes in memory and mirrors them to a file
type Repository struct {
	cfg    Config
	format string
	mem    *memory.Repository
	logger nodestore.Logger

	// mu serializes mutations with the file write that follows them.
	mu     sync.Mutex
	digest [sha256.Size]byte

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

var _ nodestore.NodeRepository = (*Repository)(nil)

// Open loads the snapshot at cfg.Path, creating it when missing, and
// starts the backup loop if configured.
func Open(cfg Config) (*Repository, error) {
	if cfg.Path == "" {
		return nil, errors.New("flatfile path is required")
	}
	format, err := formatOf(cfg.Path)
	if err != nil {
		return nil, err
	}
	if cfg.BackupDir == "" {
		cfg.BackupDir = filepath.Dir(cfg.Path)
	}
	if cfg.BackupRetain <= 0 {
		cfg.BackupRetain = defaultBackupRetain
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	r := &Repository{
		cfg:    cfg,
		format: format,
		mem:    memory.New(),
		logger: logger,
		stop:   make(chan struct{}),
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create snapshot directory: %w", err)
	}
	if err := r.load(); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		if err := r.persist(); err != nil {
			return nil, err
		}
	}

	if cfg.BackupInterval > 0 {
		r.wg.Add(1)
		go r.backupLoop()
	}
	return r, nil
}

// Close stops the background goroutines.
func (r *Repository) Close() error {
	r.stopOnce.Do(func() { close(r.stop) })
	r.wg.Wait()
	return nil
}

func formatOf(path string) (string, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		return "yaml", nil
	case ".json":
		return "json", nil
	default:
		return "", fmt.Errorf("unsupported snapshot extension %q", ext)
	}
}

func (r *Repository) encode(nodes []*nodestore.Node) ([]byte, error) {
	snap := snapshot{Nodes: nodes}
	if r.format == "yaml" {
		return yaml.Marshal(snap)
	}
	return json.MarshalIndent(snap, "", "  ")
}

func (r *Repository) decode(data []byte) ([]*nodestore.Node, error) {
	var snap snapshot
	var err error
	if r.format == "yaml" {
		err = yaml.Unmarshal(data, &snap)
	} else {
		err = json.Unmarshal(data, &snap)
	}
	if err != nil {
		return nil, fmt.Errorf("parsing snapshot %s: %w", r.cfg.Path, err)
	}
	for _, n := range snap.Nodes {
		n.Normalize()
	}
	return snap.Nodes, nil
}

// load replaces the in-memory state with the file content.
func (r *Repository) load() error {
	data, err := os.ReadFile(r.cfg.Path)
	if err != nil {
		return err
	}
	nodes, err := r.decode(data)
	if err != nil {
		return err
	}
	r.mem.Restore(nodes)
	r.digest = sha256.Sum256(data)
	return nil
}

// persist writes the current state through a temporary file and a rename.
func (r *Repository) persist() error {
	data, err := r.encode(r.mem.Snapshot())
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(r.cfg.Path), ".snapshot-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close snapshot: %w", err)
	}
	if err := os.Rename(tmpPath, r.cfg.Path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace snapshot: %w", err)
	}
	r.digest = sha256.Sum256(data)
	return nil
}

func (r *Repository) Add(ctx context.Context, node *nodestore.Node) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.mem.Add(ctx, node); err != nil {
		return err
	}
	if err := r.persist(); err != nil {
		_ = r.mem.Delete(ctx, node.UUID)
		return err
	}
	return nil
}

func (r *Repository) Update(ctx context.Context, node *nodestore.Node) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	previous, err := r.mem.GetByID(ctx, node.UUID)
	if err != nil {
		return err
	}
	if err := r.mem.Update(ctx, node); err != nil {
		return err
	}
	if err := r.persist(); err != nil {
		_ = r.mem.Update(ctx, previous)
		return err
	}
	return nil
}

func (r *Repository) Delete(ctx context.Context, uuid string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	previous, err := r.mem.GetByID(ctx, uuid)
	if err != nil {
		return err
	}
	if err := r.mem.Delete(ctx, uuid); err != nil {
		return err
	}
	if err := r.persist(); err != nil {
		_ = r.mem.Add(ctx, previous)
		return err
	}
	return nil
}

func (r *Repository) GetByID(ctx context.Context, uuid string) (*nodestore.Node, error) {
	return r.mem.GetByID(ctx, uuid)
}

func (r *Repository) GetByFID(ctx context.Context, fid string) (*nodestore.Node, error) {
	return r.mem.GetByFID(ctx, fid)
}

func (r *Repository) Filter(ctx context.Context, filters nodestore.Filters, pageSize, pageToken int) (*nodestore.NodeFilterResult, error) {
	return r.mem.Filter(ctx, filters, pageSize, pageToken)
}

// Reload re-reads the snapshot when its content differs from what this
// repository last wrote or loaded. It reports whether state changed.
func (r *Repository) Reload() (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := os.ReadFile(r.cfg.Path)
	if err != nil {
		return false, err
	}
	if sha256.Sum256(data) == r.digest {
		return false, nil
	}
	nodes, err := r.decode(data)
	if err != nil {
		return false, err
	}
	r.mem.Restore(nodes)
	r.digest = sha256.Sum256(data)
	return true, nil
}

// Watch reloads the snapshot whenever another writer replaces it, until
// ctx is cancelled or the repository is closed. onReload, if set, is called
// after each successful reload.
func (r *Repository) Watch(ctx context.Context, onReload func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	// The directory is watched since atomic replacement swaps the inode.
	if err := watcher.Add(filepath.Dir(r.cfg.Path)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(r.cfg.Path), err)
	}

	target := filepath.Clean(r.cfg.Path)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case <-r.stop:
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target || !event.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
					continue
				}
				changed, err := r.Reload()
				if err != nil {
					r.logger.Warnf("Ignoring unreadable snapshot %s: %v", target, err)
					continue
				}
				if changed {
					r.logger.Infof("Reloaded snapshot %s with %d nodes", target, r.mem.Len())
					if onReload != nil {
						onReload()
					}
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				r.logger.Errorf("Snapshot watcher error: %v", err)
			}
		}
	}()
	return nil
}

// Backup copies the current snapshot next to the configured backups and
// prunes the oldest ones beyond BackupRetain. It returns the new file.
func (r *Repository) Backup() (string, error) {
	r.mu.Lock()
	data, err := os.ReadFile(r.cfg.Path)
	r.mu.Unlock()
	if err != nil {
		return "", fmt.Errorf("reading snapshot for backup: %w", err)
	}

	if err := os.MkdirAll(r.cfg.BackupDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create backup directory: %w", err)
	}
	base := filepath.Base(r.cfg.Path)
	name := filepath.Join(r.cfg.BackupDir, fmt.Sprintf("%s.%s.bak", base, time.Now().UTC().Format(backupTimeLayout)))
	if err := os.WriteFile(name, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write backup: %w", err)
	}

	if err := r.prune(base); err != nil {
		return name, err
	}
	return name, nil
}

// Backups lists existing backups, oldest first.
func (r *Repository) Backups() ([]string, error) {
	return r.list(filepath.Base(r.cfg.Path))
}

func (r *Repository) list(base string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(r.cfg.BackupDir, base+".*.bak"))
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)
	return matches, nil
}

func (r *Repository) prune(base string) error {
	backups, err := r.list(base)
	if err != nil {
		return err
	}
	var errs []error
	for len(backups) > r.cfg.BackupRetain {
		if err := os.Remove(backups[0]); err != nil {
			errs = append(errs, err)
		}
		backups = backups[1:]
	}
	return errors.Join(errs...)
}

func (r *Repository) backupLoop() {
	defer r.wg.Done()
	ticker := time.NewTicker(r.cfg.BackupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			name, err := r.Backup()
			if err != nil {
				r.logger.Errorf("Snapshot backup failed: %v", err)
				continue
			}
			r.logger.Debugf("Wrote snapshot backup %s", name)
		}
	}
}

// Equal reports whether the file on disk matches the in-memory state.
func (r *Repository) Equal() (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := os.ReadFile(r.cfg.Path)
	if err != nil {
		return false, err
	}
	want, err := r.encode(r.mem.Snapshot())
	if err != nil {
		return false, err
	}
	return bytes.Equal(data, want), nil
}
