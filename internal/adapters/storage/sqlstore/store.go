// Package sqlstore keeps published versions, active pointers and run
// results in a SQL database. Postgres (lib/pq) and SQLite (modernc) are
// supported.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/eleven-am/weft/internal/domain"
	"github.com/eleven-am/weft/internal/ports"
	"github.com/eleven-am/weft/internal/xjson"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"

	storeComponent = "sqlstore"
	purgeInterval  = 10 * time.Minute
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS weft_versions (
		workflow_id TEXT NOT NULL,
		hash TEXT NOT NULL,
		graph TEXT NOT NULL,
		published_at BIGINT NOT NULL,
		PRIMARY KEY (workflow_id, hash)
	)`,
	`CREATE TABLE IF NOT EXISTS weft_active (
		workflow_id TEXT PRIMARY KEY,
		hash TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS weft_runs (
		run_id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		result TEXT NOT NULL,
		expires_at BIGINT NOT NULL
	)`,
}

type Store struct {
	db     *sql.DB
	driver string
	runTTL time.Duration
	logger *slog.Logger
	now    func() time.Time

	stop      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

var _ ports.StoragePort = (*Store)(nil)

type Option func(*Store)

func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// Open connects to dsn with driver, creates the tables if needed and starts
// the expired-run purge loop.
func Open(driver, dsn string, config domain.StorageConfig, logger *slog.Logger, opts ...Option) (*Store, error) {
	if driver != DriverPostgres && driver != DriverSQLite {
		return nil, domain.NewConfigurationError(fmt.Sprintf("unsupported sql driver %q", driver), domain.ErrInvalidInput,
			domain.WithComponent(storeComponent),
		)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, storeError("open", driver, err)
	}
	if driver == DriverSQLite {
		db.SetMaxOpenConns(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, storeError("ping", driver, err)
	}

	s, err := New(db, driver, config, logger, opts...)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	s.wg.Add(1)
	go s.runPurge()
	return s, nil
}

// New wraps an open database and creates the tables. The caller's db is
// closed by Close.
func New(db *sql.DB, driver string, config domain.StorageConfig, logger *slog.Logger, opts ...Option) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Store{
		db:     db,
		driver: driver,
		runTTL: config.RunTTL,
		logger: logger.With("component", storeComponent, "driver", driver),
		now:    time.Now,
		stop:   make(chan struct{}),
	}
	if s.runTTL <= 0 {
		s.runTTL = domain.DefaultStorageConfig().RunTTL
	}
	for _, opt := range opts {
		opt(s)
	}

	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return nil, storeError("migrate", driver, err)
		}
	}

	s.logger.Debug("sql store ready", "run_ttl", s.runTTL)
	return s, nil
}

func storeError(operation, key string, cause error) error {
	return domain.NewResourceError(fmt.Sprintf("storage %s failed", operation), cause,
		domain.WithComponent(storeComponent),
		domain.WithOperation(operation),
		domain.WithDetail("key", key),
	)
}

func notFound(operation, key string) error {
	return domain.NewTerminalError(fmt.Sprintf("%s not found", key), domain.ErrNotFound,
		domain.WithComponent(storeComponent),
		domain.WithOperation(operation),
	)
}

// rebind rewrites ? placeholders to $n for postgres.
func (s *Store) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *Store) PutVersion(workflowID, hash string, graph *domain.Graph) error {
	if workflowID == "" || hash == "" || graph == nil {
		return domain.NewConfigurationError("workflow id, hash and graph are required", domain.ErrInvalidInput,
			domain.WithComponent(storeComponent),
			domain.WithOperation("put_version"),
		)
	}

	key := domain.WorkflowVersionKey(workflowID, hash)
	data, err := xjson.Marshal(graph)
	if err != nil {
		return storeError("put_version", key, err)
	}

	res, err := s.db.Exec(s.rebind(
		`INSERT INTO weft_versions (workflow_id, hash, graph, published_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (workflow_id, hash) DO NOTHING`),
		workflowID, hash, string(data), s.now().UTC().UnixNano())
	if err != nil {
		return storeError("put_version", key, err)
	}

	if written, _ := res.RowsAffected(); written > 0 {
		s.logger.Info("version published", "workflow_id", workflowID, "hash", hash, "nodes", len(graph.Nodes))
	} else {
		s.logger.Debug("version already published", "workflow_id", workflowID, "hash", hash)
	}
	return nil
}

func (s *Store) GetVersion(workflowID, hash string) (*ports.WorkflowVersion, error) {
	key := domain.WorkflowVersionKey(workflowID, hash)

	var graph string
	var publishedAt int64
	err := s.db.QueryRow(s.rebind(
		`SELECT graph, published_at FROM weft_versions WHERE workflow_id = ? AND hash = ?`),
		workflowID, hash).Scan(&graph, &publishedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("get_version", key)
	}
	if err != nil {
		return nil, storeError("get_version", key, err)
	}

	version := &ports.WorkflowVersion{
		WorkflowID:  workflowID,
		Hash:        hash,
		Graph:       &domain.Graph{},
		PublishedAt: time.Unix(0, publishedAt).UTC(),
	}
	if err := xjson.Unmarshal([]byte(graph), version.Graph); err != nil {
		return nil, storeError("get_version", key, err)
	}
	return version, nil
}

// ListVersions returns a workflow's versions, oldest first.
func (s *Store) ListVersions(workflowID string) ([]ports.WorkflowVersion, error) {
	prefix := domain.WorkflowVersionsPrefix(workflowID)

	rows, err := s.db.Query(s.rebind(
		`SELECT hash, graph, published_at FROM weft_versions WHERE workflow_id = ? ORDER BY published_at, hash`),
		workflowID)
	if err != nil {
		return nil, storeError("list_versions", prefix, err)
	}
	defer rows.Close()

	var versions []ports.WorkflowVersion
	for rows.Next() {
		var hash, graph string
		var publishedAt int64
		if err := rows.Scan(&hash, &graph, &publishedAt); err != nil {
			return nil, storeError("list_versions", prefix, err)
		}
		version := ports.WorkflowVersion{
			WorkflowID:  workflowID,
			Hash:        hash,
			Graph:       &domain.Graph{},
			PublishedAt: time.Unix(0, publishedAt).UTC(),
		}
		if err := xjson.Unmarshal([]byte(graph), version.Graph); err != nil {
			return nil, storeError("list_versions", prefix, fmt.Errorf("decode %s: %w", hash, err))
		}
		versions = append(versions, version)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("list_versions", prefix, err)
	}
	return versions, nil
}

// SetActive points a workflow at a version that has already been
// published.
func (s *Store) SetActive(workflowID, hash string) error {
	versionKey := domain.WorkflowVersionKey(workflowID, hash)
	activeKey := domain.WorkflowActiveKey(workflowID)

	tx, err := s.db.Begin()
	if err != nil {
		return storeError("set_active", activeKey, err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	err = tx.QueryRow(s.rebind(
		`SELECT 1 FROM weft_versions WHERE workflow_id = ? AND hash = ?`),
		workflowID, hash).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return notFound("set_active", versionKey)
	}
	if err != nil {
		return storeError("set_active", activeKey, err)
	}

	if _, err := tx.Exec(s.rebind(
		`INSERT INTO weft_active (workflow_id, hash) VALUES (?, ?)
		ON CONFLICT (workflow_id) DO UPDATE SET hash = excluded.hash`),
		workflowID, hash); err != nil {
		return storeError("set_active", activeKey, err)
	}
	if err := tx.Commit(); err != nil {
		return storeError("set_active", activeKey, err)
	}

	s.logger.Info("active version set", "workflow_id", workflowID, "hash", hash)
	return nil
}

func (s *Store) Active(workflowID string) (string, error) {
	key := domain.WorkflowActiveKey(workflowID)

	var hash string
	err := s.db.QueryRow(s.rebind(`SELECT hash FROM weft_active WHERE workflow_id = ?`), workflowID).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", notFound("active", key)
	}
	if err != nil {
		return "", storeError("active", key, err)
	}
	return hash, nil
}

// SaveRun archives a finished run. Runs expire after the configured TTL.
func (s *Store) SaveRun(result *domain.RunResult) error {
	if result == nil || result.RunID == "" {
		return domain.NewConfigurationError("run result needs a run id", domain.ErrInvalidInput,
			domain.WithComponent(storeComponent),
			domain.WithOperation("save_run"),
		)
	}

	key := domain.RunResultKey(result.RunID)
	data, err := xjson.Marshal(result)
	if err != nil {
		return storeError("save_run", key, err)
	}

	expiresAt := s.now().Add(s.runTTL).UnixNano()
	if _, err := s.db.Exec(s.rebind(
		`INSERT INTO weft_runs (run_id, status, result, expires_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (run_id) DO UPDATE SET status = excluded.status, result = excluded.result, expires_at = excluded.expires_at`),
		result.RunID, string(result.Status), string(data), expiresAt); err != nil {
		return storeError("save_run", key, err)
	}

	s.logger.Debug("run saved", "run_id", result.RunID, "status", result.Status, "bytes", len(data))
	return nil
}

func (s *Store) GetRun(runID string) (*domain.RunResult, error) {
	key := domain.RunResultKey(runID)

	var data string
	err := s.db.QueryRow(s.rebind(
		`SELECT result FROM weft_runs WHERE run_id = ? AND expires_at > ?`),
		runID, s.now().UnixNano()).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("get_run", key)
	}
	if err != nil {
		return nil, storeError("get_run", key, err)
	}

	var result domain.RunResult
	if err := xjson.Unmarshal([]byte(data), &result); err != nil {
		return nil, storeError("get_run", key, err)
	}
	return &result, nil
}

// PurgeExpired deletes archived runs past their TTL and reports how many
// were removed.
func (s *Store) PurgeExpired() (int64, error) {
	res, err := s.db.Exec(s.rebind(`DELETE FROM weft_runs WHERE expires_at <= ?`), s.now().UnixNano())
	if err != nil {
		return 0, storeError("purge", domain.RunResultPrefix, err)
	}
	removed, _ := res.RowsAffected()
	return removed, nil
}

func (s *Store) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.stop)
		s.wg.Wait()
		if closeErr := s.db.Close(); closeErr != nil {
			s.logger.Error("failed to close database", "error", closeErr)
			err = storeError("close", s.driver, closeErr)
		}
	})
	return err
}

func (s *Store) runPurge() {
	defer s.wg.Done()
	ticker := time.NewTicker(purgeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			removed, err := s.PurgeExpired()
			if err != nil {
				s.logger.Error("purge failed", "error", err)
				continue
			}
			if removed > 0 {
				s.logger.Debug("expired runs purged", "removed", removed)
			}
		}
	}
}
