package backup

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"task-tracker/internal/metrics"
	"task-tracker/internal/repository/sqlite"
	"task-tracker/internal/storage"
)

const (
	snapshotSuffix     = ".db"
	snapshotTimeLayout = "20060102T150405Z"
)

// Manager periodically snapshots the database and ships the copy to object storage.
type Manager interface {
	Start(ctx context.Context) error
	Shutdown()
	RunOnce(ctx context.Context) (string, error)
}

type Config struct {
	Bucket    string
	KeyPrefix string
	Interval  time.Duration
	// Retain is how many snapshots to keep remotely; zero or less keeps all.
	Retain  int
	TempDir string
	Logger  *logrus.Logger
}

type manager struct {
	cfg     Config
	db      *sql.DB
	storage storage.Service
	now     func() time.Time

	wg     sync.WaitGroup
	mu     sync.Mutex
	cancel context.CancelFunc
}

func NewManager(cfg Config, db *sql.DB, store storage.Service) Manager {
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if cfg.TempDir == "" {
		cfg.TempDir = os.TempDir()
	}
	cfg.KeyPrefix = strings.Trim(cfg.KeyPrefix, "/")
	return &manager{
		cfg:     cfg,
		db:      db,
		storage: store,
		now:     time.Now,
	}
}

// Start launches the periodic loop. With a zero interval it does nothing.
func (m *manager) Start(ctx context.Context) error {
	if m.cfg.Bucket == "" {
		return fmt.Errorf("backup bucket is required")
	}
	if m.cfg.Interval <= 0 {
		m.cfg.Logger.Info("periodic backups disabled")
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return fmt.Errorf("backup manager already started")
	}
	loopCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	m.wg.Add(1)
	go m.loop(loopCtx)
	m.cfg.Logger.Infof("backup manager started, interval %s", m.cfg.Interval)
	return nil
}

func (m *manager) Shutdown() {
	m.mu.Lock()
	cancel := m.cancel
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	m.wg.Wait()
	m.cfg.Logger.Info("backup manager stopped")
}

func (m *manager) loop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.RunOnce(ctx); err != nil && ctx.Err() == nil {
				m.cfg.Logger.Errorf("backup failed: %v", err)
			}
		}
	}
}

// RunOnce snapshots the database, uploads it and prunes old snapshots. It
// returns the location of the uploaded object.
func (m *manager) RunOnce(ctx context.Context) (location string, err error) {
	defer func() { metrics.RecordBackup(err) }()

	if m.cfg.Bucket == "" {
		return "", fmt.Errorf("backup bucket is required")
	}

	name := fmt.Sprintf("%s-%s%s", m.now().UTC().Format(snapshotTimeLayout), uuid.NewString(), snapshotSuffix)
	local := filepath.Join(m.cfg.TempDir, name)
	defer os.Remove(local)

	logger := m.cfg.Logger.WithField("snapshot", name)
	if err := sqlite.Snapshot(ctx, m.db, local); err != nil {
		return "", err
	}

	key := name
	if m.cfg.KeyPrefix != "" {
		key = m.cfg.KeyPrefix + "/" + name
	}
	location, err = m.storage.UploadFile(ctx, local, storage.UploadOptions{
		Bucket: m.cfg.Bucket,
		Key:    key,
		ProgressCallback: func(done, total int64) {
			logger.Debugf("upload %d/%d bytes", done, total)
		},
	})
	if err != nil {
		return "", err
	}
	logger.Infof("uploaded backup to %s", location)

	if err := m.prune(ctx, key); err != nil {
		logger.Warnf("prune backups: %v", err)
	}
	return location, nil
}

// prune deletes the oldest snapshots beyond Retain. Only keys this manager
// could have written are considered, and current is never deleted.
func (m *manager) prune(ctx context.Context, current string) error {
	if m.cfg.Retain <= 0 {
		return nil
	}

	prefix := ""
	if m.cfg.KeyPrefix != "" {
		prefix = m.cfg.KeyPrefix + "/"
	}
	objects, err := m.storage.ListObjects(ctx, m.cfg.Bucket, prefix)
	if err != nil {
		return err
	}

	var keys []string
	for _, obj := range objects {
		name, ok := strings.CutPrefix(obj.Key, prefix)
		if !ok || obj.Key == current || !isSnapshotName(name) {
			continue
		}
		keys = append(keys, obj.Key)
	}
	// the fresh upload always counts toward Retain
	retain := m.cfg.Retain - 1
	if len(keys) <= retain {
		return nil
	}

	// timestamped names sort chronologically
	sort.Strings(keys)
	stale := keys[:len(keys)-retain]
	if err := m.storage.DeleteObjects(ctx, m.cfg.Bucket, stale); err != nil {
		return err
	}
	m.cfg.Logger.Infof("pruned %d old backups", len(stale))
	return nil
}

// isSnapshotName reports whether name has the <timestamp>-<uuid>.db shape
// produced by RunOnce, with no further path segments.
func isSnapshotName(name string) bool {
	base, ok := strings.CutSuffix(name, snapshotSuffix)
	if !ok {
		return false
	}
	ts, id, ok := strings.Cut(base, "-")
	if !ok || len(id) != 36 {
		return false
	}
	if _, err := time.Parse(snapshotTimeLayout, ts); err != nil {
		return false
	}
	_, err := uuid.Parse(id)
	return err == nil
}
