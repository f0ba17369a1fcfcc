// Package storage keeps published workflow versions, the active version of
// each workflow and finished run results in badger.
package storage

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v3"

	"github.com/eleven-am/weft/internal/domain"
	"github.com/eleven-am/weft/internal/ports"
	"github.com/eleven-am/weft/internal/xjson"
)

const (
	storageComponent = "storage"
	gcInterval       = 5 * time.Minute
	gcDiscardRatio   = 0.5
)

type Adapter struct {
	db     *badger.DB
	runTTL time.Duration
	logger *slog.Logger
	now    func() time.Time

	stop      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

var _ ports.StoragePort = (*Adapter)(nil)

type Option func(*Adapter)

func WithClock(now func() time.Time) Option {
	return func(a *Adapter) {
		a.now = now
	}
}

// NewAdapter opens the store under dataDir. An empty dataDir keeps
// everything in memory for the life of the process.
func NewAdapter(dataDir string, config domain.StorageConfig, logger *slog.Logger, opts ...Option) (*Adapter, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", storageComponent)

	var badgerOpts badger.Options
	if dataDir == "" {
		badgerOpts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(dataDir, 0755); err != nil {
			return nil, storageError("open", dataDir, err)
		}
		badgerOpts = badger.DefaultOptions(dataDir)
	}
	badgerOpts.Logger = &badgerLogger{logger: logger.With("component", "badger")}

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, storageError("open", dataDir, err)
	}

	a := &Adapter{
		db:     db,
		runTTL: config.RunTTL,
		logger: logger,
		now:    time.Now,
		stop:   make(chan struct{}),
	}
	if a.runTTL <= 0 {
		a.runTTL = domain.DefaultStorageConfig().RunTTL
	}
	for _, opt := range opts {
		opt(a)
	}

	if dataDir != "" {
		a.wg.Add(1)
		go a.runGarbageCollection()
	}

	logger.Debug("storage opened", "data_dir", dataDir, "in_memory", dataDir == "", "run_ttl", a.runTTL)
	return a, nil
}

func storageError(operation, key string, cause error) error {
	return domain.NewResourceError(fmt.Sprintf("storage %s failed", operation), cause,
		domain.WithComponent(storageComponent),
		domain.WithOperation(operation),
		domain.WithDetail("key", key),
	)
}

func notFound(operation, key string) error {
	return domain.NewTerminalError(fmt.Sprintf("%s not found", key), domain.ErrNotFound,
		domain.WithComponent(storageComponent),
		domain.WithOperation(operation),
	)
}

func (a *Adapter) PutVersion(workflowID, hash string, graph *domain.Graph) error {
	if workflowID == "" || hash == "" || graph == nil {
		return domain.NewConfigurationError("workflow id, hash and graph are required", domain.ErrInvalidInput,
			domain.WithComponent(storageComponent),
			domain.WithOperation("put_version"),
		)
	}

	key := domain.WorkflowVersionKey(workflowID, hash)
	record := ports.WorkflowVersion{
		WorkflowID:  workflowID,
		Hash:        hash,
		Graph:       graph,
		PublishedAt: a.now().UTC(),
	}
	data, err := xjson.Marshal(record)
	if err != nil {
		return storageError("put_version", key, err)
	}

	written := false
	err = a.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(key))
		if err == nil {
			return nil
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		written = true
		return txn.Set([]byte(key), data)
	})
	if err != nil {
		return storageError("put_version", key, err)
	}

	if written {
		a.logger.Info("version published", "workflow_id", workflowID, "hash", hash, "nodes", len(graph.Nodes))
	} else {
		a.logger.Debug("version already published", "workflow_id", workflowID, "hash", hash)
	}
	return nil
}

func (a *Adapter) GetVersion(workflowID, hash string) (*ports.WorkflowVersion, error) {
	key := domain.WorkflowVersionKey(workflowID, hash)
	var version ports.WorkflowVersion
	if err := a.get("get_version", key, &version); err != nil {
		return nil, err
	}
	return &version, nil
}

// ListVersions returns a workflow's versions, oldest first.
func (a *Adapter) ListVersions(workflowID string) ([]ports.WorkflowVersion, error) {
	prefix := []byte(domain.WorkflowVersionsPrefix(workflowID))
	var versions []ports.WorkflowVersion

	err := a.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var version ports.WorkflowVersion
			err := it.Item().Value(func(val []byte) error {
				return xjson.Unmarshal(val, &version)
			})
			if err != nil {
				return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
			}
			versions = append(versions, version)
		}
		return nil
	})
	if err != nil {
		return nil, storageError("list_versions", string(prefix), err)
	}

	sort.SliceStable(versions, func(i, j int) bool {
		return versions[i].PublishedAt.Before(versions[j].PublishedAt)
	})
	return versions, nil
}

// SetActive points a workflow at a version that has already been
// published.
func (a *Adapter) SetActive(workflowID, hash string) error {
	versionKey := domain.WorkflowVersionKey(workflowID, hash)
	activeKey := domain.WorkflowActiveKey(workflowID)

	err := a.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get([]byte(versionKey)); err != nil {
			return err
		}
		return txn.Set([]byte(activeKey), []byte(hash))
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return notFound("set_active", versionKey)
	}
	if err != nil {
		return storageError("set_active", activeKey, err)
	}

	a.logger.Info("active version set", "workflow_id", workflowID, "hash", hash)
	return nil
}

func (a *Adapter) Active(workflowID string) (string, error) {
	key := domain.WorkflowActiveKey(workflowID)
	var hash string

	err := a.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		value, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		hash = string(value)
		return nil
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", notFound("active", key)
	}
	if err != nil {
		return "", storageError("active", key, err)
	}
	return hash, nil
}

// SaveRun archives a finished run. Runs expire after the configured TTL.
func (a *Adapter) SaveRun(result *domain.RunResult) error {
	if result == nil || result.RunID == "" {
		return domain.NewConfigurationError("run result needs a run id", domain.ErrInvalidInput,
			domain.WithComponent(storageComponent),
			domain.WithOperation("save_run"),
		)
	}

	key := domain.RunResultKey(result.RunID)
	data, err := xjson.Marshal(result)
	if err != nil {
		return storageError("save_run", key, err)
	}

	err = a.db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(badger.NewEntry([]byte(key), data).WithTTL(a.runTTL))
	})
	if err != nil {
		return storageError("save_run", key, err)
	}

	a.logger.Debug("run saved", "run_id", result.RunID, "status", result.Status, "bytes", len(data))
	return nil
}

func (a *Adapter) GetRun(runID string) (*domain.RunResult, error) {
	var result domain.RunResult
	if err := a.get("get_run", domain.RunResultKey(runID), &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (a *Adapter) get(operation, key string, out interface{}) error {
	err := a.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return xjson.Unmarshal(val, out)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return notFound(operation, key)
	}
	if err != nil {
		return storageError(operation, key, err)
	}
	return nil
}

func (a *Adapter) Close() error {
	var err error
	a.closeOnce.Do(func() {
		close(a.stop)
		a.wg.Wait()
		if closeErr := a.db.Close(); closeErr != nil {
			a.logger.Error("failed to close database", "error", closeErr)
			err = storageError("close", "", closeErr)
		}
	})
	return err
}

func (a *Adapter) runGarbageCollection() {
	defer a.wg.Done()
	ticker := time.NewTicker(gcInterval)
	defer ticker.Stop()

	for {
		select {
		case <-a.stop:
			return
		case <-ticker.C:
			lsm, vlog := a.db.Size()
			a.logger.Debug("running garbage collection", "lsm_size", lsm, "vlog_size", vlog)

			err := a.db.RunValueLogGC(gcDiscardRatio)
			if err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				a.logger.Error("garbage collection failed", "error", err)
			}
		}
	}
}

type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(f string, v ...interface{}) {
	l.logger.Error(fmt.Sprintf(f, v...))
}

func (l *badgerLogger) Warningf(f string, v ...interface{}) {
	l.logger.Warn(fmt.Sprintf(f, v...))
}

func (l *badgerLogger) Infof(f string, v ...interface{}) {
	l.logger.Debug(fmt.Sprintf(f, v...))
}

func (l *badgerLogger) Debugf(f string, v ...interface{}) {
	l.logger.Debug(fmt.Sprintf(f, v...))
}
