// Package sqlstore is a persistent job store on PostgreSQL or SQLite.
// Times are stored as unix milliseconds so both dialects share one schema.
package sqlstore

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/djlord-it/schedbench/internal/domain"
	"github.com/djlord-it/schedbench/internal/store"
)

//go:embed schema.sql
var schemaSQL string

// DefaultTablePrefix matches the conventional Quartz table names.
const DefaultTablePrefix = "qrtz_"

type Config struct {
	Driver         string
	URL            string
	TablePrefix    string
	MaxConnections int
}

type Store struct {
	db      *sql.DB
	dialect Dialect
	prefix  string
	clock   func() time.Time
}

// Open connects to the configured database and creates the schema if needed.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	dialect, err := ParseDialect(cfg.Driver)
	if err != nil {
		return nil, err
	}
	if cfg.URL == "" {
		return nil, errors.New("sqlstore: data source url is required")
	}

	db, err := sql.Open(dialect.driverName(), cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open: %w", err)
	}
	if dialect == DialectSQLite {
		// SQLite prefers a single writer.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	} else if cfg.MaxConnections > 0 {
		db.SetMaxOpenConns(cfg.MaxConnections)
		db.SetMaxIdleConns(cfg.MaxConnections)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlstore: ping: %w", err)
	}

	s := New(db, dialect, cfg.TablePrefix)
	if dialect == DialectSQLite {
		_, _ = db.ExecContext(ctx, "PRAGMA journal_mode = WAL")
		_, _ = db.ExecContext(ctx, "PRAGMA busy_timeout = 5000")
	}
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an existing connection. The schema is not created.
func New(db *sql.DB, dialect Dialect, prefix string) *Store {
	if prefix == "" {
		prefix = DefaultTablePrefix
	}
	return &Store{db: db, dialect: dialect, prefix: prefix, clock: time.Now}
}

// WithClock overrides the time source used to stamp acquisition records.
func (s *Store) WithClock(clock func() time.Time) *Store {
	s.clock = clock
	return s
}

// Migrate creates the tables and indexes if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, s.withPrefix(schemaSQL)); err != nil {
		return fmt.Errorf("sqlstore: migrate: %w", err)
	}
	return nil
}

func (s *Store) withPrefix(query string) string {
	return strings.ReplaceAll(query, "{prefix}", s.prefix)
}

// q resolves the table prefix and placeholders for the store's dialect.
func (s *Store) q(query string) string {
	return s.dialect.rebind(s.withPrefix(query))
}

// PingContext verifies the database connection is alive.
func (s *Store) PingContext(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) StoreJobAndTrigger(ctx context.Context, job domain.JobDetail, trig domain.Trigger, replace bool) error {
	data, err := encodeJobData(job.Data)
	if err != nil {
		return err
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if replace {
			if _, err := tx.ExecContext(ctx, s.q(queryDeleteJob), job.Key.Group, job.Key.Name); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, s.q(queryDeleteTrigger), trig.Key.Group, trig.Key.Name); err != nil {
				return err
			}
		}
		_, err := tx.ExecContext(ctx, s.q(queryInsertJob),
			job.Key.Group,
			job.Key.Name,
			job.JobType,
			job.Description,
			job.RequestsRecovery,
			job.Durable,
			data,
		)
		if err != nil {
			if isDuplicateKeyError(err) {
				return store.ErrObjectAlreadyExists
			}
			return err
		}
		return s.insertTrigger(ctx, tx, trig)
	})
}

func (s *Store) StoreTrigger(ctx context.Context, trig domain.Trigger, replace bool) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var one int
		err := tx.QueryRowContext(ctx, s.q(queryJobExists), trig.JobKey.Group, trig.JobKey.Name).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrJobNotFound
		}
		if err != nil {
			return err
		}
		if replace {
			if _, err := tx.ExecContext(ctx, s.q(queryDeleteTrigger), trig.Key.Group, trig.Key.Name); err != nil {
				return err
			}
		}
		return s.insertTrigger(ctx, tx, trig)
	})
}

func (s *Store) insertTrigger(ctx context.Context, tx *sql.Tx, t domain.Trigger) error {
	_, err := tx.ExecContext(ctx, s.q(queryInsertTrigger),
		t.Key.Group,
		t.Key.Name,
		t.JobKey.Group,
		t.JobKey.Name,
		t.Description,
		toMillis(t.StartAt),
		nullMillis(t.EndAt),
		t.CronExpression,
		t.Timezone,
		t.RepeatCount,
		t.RepeatInterval.Milliseconds(),
		t.TimesTriggered,
		t.Priority,
		int(t.MisfireInstruction),
		nullMillis(t.NextFireTime),
		nullMillis(t.PreviousFireTime),
		string(t.State),
		t.Recovering,
	)
	if isDuplicateKeyError(err) {
		return store.ErrObjectAlreadyExists
	}
	return err
}

func (s *Store) updateTrigger(ctx context.Context, tx *sql.Tx, t domain.Trigger) error {
	_, err := tx.ExecContext(ctx, s.q(queryUpdateTrigger),
		t.JobKey.Group,
		t.JobKey.Name,
		t.Description,
		toMillis(t.StartAt),
		nullMillis(t.EndAt),
		t.CronExpression,
		t.Timezone,
		t.RepeatCount,
		t.RepeatInterval.Milliseconds(),
		t.TimesTriggered,
		t.Priority,
		int(t.MisfireInstruction),
		nullMillis(t.NextFireTime),
		nullMillis(t.PreviousFireTime),
		string(t.State),
		t.Recovering,
		t.Key.Group,
		t.Key.Name,
	)
	return err
}

// ClearAllSchedulingData removes every job, trigger and fired record.
// Instance check-ins are kept.
func (s *Store) ClearAllSchedulingData(ctx context.Context) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, query := range []string{queryClearFired, queryClearTriggers, queryClearJobs} {
			if _, err := tx.ExecContext(ctx, s.q(query)); err != nil {
				return err
			}
		}
		return nil
	})
}

// AcquireNextTriggers claims up to maxCount waiting triggers due by
// noLaterThan. On postgres, rows locked by another instance are skipped.
func (s *Store) AcquireNextTriggers(ctx context.Context, instanceID string, noLaterThan time.Time, maxCount int) ([]domain.Trigger, error) {
	if maxCount <= 0 {
		maxCount = 1
	}
	var acquired []domain.Trigger
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, s.q(querySelectDueTriggers)+s.dialect.lockClause(), toMillis(noLaterThan), maxCount)
		if err != nil {
			return err
		}
		due, err := scanTriggers(rows)
		if err != nil {
			return err
		}

		now := s.clock().UTC()
		for _, t := range due {
			res, err := tx.ExecContext(ctx, s.q(queryMarkAcquired), t.Key.Group, t.Key.Name)
			if err != nil {
				return err
			}
			if n, err := res.RowsAffected(); err != nil {
				return err
			} else if n == 0 {
				continue
			}
			t.State = domain.TriggerStateAcquired
			rec := domain.FiredTrigger{
				ID:          uuid.New(),
				InstanceID:  instanceID,
				TriggerKey:  t.Key,
				JobKey:      t.JobKey,
				FiredAt:     now,
				ScheduledAt: *t.NextFireTime,
				Priority:    t.Priority,
				State:       domain.FiredStateAcquired,
			}
			if err := s.insertFired(ctx, tx, rec); err != nil {
				return err
			}
			acquired = append(acquired, t)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return acquired, nil
}

func (s *Store) insertFired(ctx context.Context, tx *sql.Tx, rec domain.FiredTrigger) error {
	_, err := tx.ExecContext(ctx, s.q(queryInsertFired),
		rec.ID.String(),
		rec.InstanceID,
		rec.TriggerKey.Group,
		rec.TriggerKey.Name,
		rec.JobKey.Group,
		rec.JobKey.Name,
		toMillis(rec.FiredAt),
		toMillis(rec.ScheduledAt),
		rec.Priority,
		string(rec.State),
		rec.RequestsRecovery,
	)
	return err
}

func (s *Store) ReleaseAcquiredTrigger(ctx context.Context, instanceID string, trig domain.Trigger) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, s.q(queryDeleteAcquiredRecords), instanceID, trig.Key.Group, trig.Key.Name); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, s.q(queryReleaseTrigger), nullMillis(trig.NextFireTime), trig.Key.Group, trig.Key.Name)
		return err
	})
}

func (s *Store) RemoveTrigger(ctx context.Context, key domain.TriggerKey) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		t, err := s.getTrigger(ctx, tx, key)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, s.q(queryDeleteAcquiredRecordsForTrigger), key.Group, key.Name); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, s.q(queryDeleteTrigger), key.Group, key.Name); err != nil {
			return err
		}
		return s.deleteOrphanJob(ctx, tx, t.JobKey)
	})
}

func (s *Store) getTrigger(ctx context.Context, tx *sql.Tx, key domain.TriggerKey) (domain.Trigger, error) {
	t, err := scanTrigger(tx.QueryRowContext(ctx, s.q(queryGetTrigger)+s.dialect.rowLock(), key.Group, key.Name))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Trigger{}, store.ErrTriggerNotFound
	}
	return t, err
}

func (s *Store) deleteOrphanJob(ctx context.Context, tx *sql.Tx, key domain.JobKey) error {
	_, err := tx.ExecContext(ctx, s.q(queryDeleteOrphanJob), key.Group, key.Name, false, key.Group, key.Name)
	return err
}

// TriggerFired moves the acquisition record to executing and persists the
// advanced trigger. It fails with store.ErrTriggerNotFound if the trigger
// is no longer acquired.
func (s *Store) TriggerFired(ctx context.Context, instanceID string, trig domain.Trigger, scheduledAt, firedAt time.Time) (domain.FiredTrigger, domain.JobDetail, error) {
	var (
		rec domain.FiredTrigger
		job domain.JobDetail
	)
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		cur, err := s.getTrigger(ctx, tx, trig.Key)
		if err != nil {
			return err
		}
		if cur.State != domain.TriggerStateAcquired {
			return store.ErrTriggerNotFound
		}
		job, err = s.getJob(ctx, tx, cur.JobKey)
		if err != nil {
			return err
		}

		rec = domain.FiredTrigger{
			InstanceID:       instanceID,
			TriggerKey:       trig.Key,
			JobKey:           cur.JobKey,
			FiredAt:          firedAt,
			ScheduledAt:      scheduledAt,
			Priority:         cur.Priority,
			State:            domain.FiredStateExecuting,
			RequestsRecovery: job.RequestsRecovery,
		}

		var entryID string
		err = tx.QueryRowContext(ctx, s.q(queryFindAcquiredRecord), instanceID, trig.Key.Group, trig.Key.Name).Scan(&entryID)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			rec.ID = uuid.New()
			if err := s.insertFired(ctx, tx, rec); err != nil {
				return err
			}
		case err != nil:
			return err
		default:
			if rec.ID, err = uuid.Parse(entryID); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, s.q(queryMarkExecuting), toMillis(firedAt), toMillis(scheduledAt), job.RequestsRecovery, entryID); err != nil {
				return err
			}
		}

		next := trig.Clone()
		if next.NextFireTime == nil {
			next.State = domain.TriggerStateComplete
		} else {
			next.State = domain.TriggerStateWaiting
		}
		return s.updateTrigger(ctx, tx, next)
	})
	if err != nil {
		return domain.FiredTrigger{}, domain.JobDetail{}, err
	}
	return rec, job, nil
}

func (s *Store) TriggeredJobComplete(ctx context.Context, rec domain.FiredTrigger) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, s.q(queryDeleteFired), rec.ID.String()); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, s.q(queryDeleteCompleteTrigger), rec.TriggerKey.Group, rec.TriggerKey.Name); err != nil {
			return err
		}
		return s.deleteOrphanJob(ctx, tx, rec.JobKey)
	})
}

func (s *Store) FiredTriggers(ctx context.Context, instanceID string) ([]domain.FiredTrigger, error) {
	rows, err := s.db.QueryContext(ctx, s.q(queryListFired), instanceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.FiredTrigger
	for rows.Next() {
		var (
			rec     domain.FiredTrigger
			entryID string
			state   string
			firedMs int64
			schedMs int64
		)
		err := rows.Scan(
			&entryID,
			&rec.InstanceID,
			&rec.TriggerKey.Group,
			&rec.TriggerKey.Name,
			&rec.JobKey.Group,
			&rec.JobKey.Name,
			&firedMs,
			&schedMs,
			&rec.Priority,
			&state,
			&rec.RequestsRecovery,
		)
		if err != nil {
			return nil, err
		}
		if rec.ID, err = uuid.Parse(entryID); err != nil {
			return nil, err
		}
		rec.FiredAt = fromMillis(firedMs)
		rec.ScheduledAt = fromMillis(schedMs)
		rec.State = domain.FiredState(state)
		result = append(result, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (s *Store) ReleaseFiredTrigger(ctx context.Context, rec domain.FiredTrigger) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, s.q(queryDeleteFired), rec.ID.String()); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, s.q(queryResetAcquiredTrigger), rec.TriggerKey.Group, rec.TriggerKey.Name)
		return err
	})
}

func (s *Store) ListTriggers(ctx context.Context) ([]domain.Trigger, error) {
	rows, err := s.db.QueryContext(ctx, s.q(queryListTriggers))
	if err != nil {
		return nil, err
	}
	result, err := scanTriggers(rows)
	if err != nil {
		return nil, err
	}
	sortTriggers(result)
	return result, nil
}

func (s *Store) GetJob(ctx context.Context, key domain.JobKey) (domain.JobDetail, error) {
	return s.getJob(ctx, s.db, key)
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) getJob(ctx context.Context, db queryRower, key domain.JobKey) (domain.JobDetail, error) {
	var (
		job  domain.JobDetail
		data string
	)
	err := db.QueryRowContext(ctx, s.q(queryGetJob), key.Group, key.Name).Scan(
		&job.Key.Group,
		&job.Key.Name,
		&job.JobType,
		&job.Description,
		&job.RequestsRecovery,
		&job.Durable,
		&data,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.JobDetail{}, store.ErrJobNotFound
	}
	if err != nil {
		return domain.JobDetail{}, err
	}
	if job.Data, err = decodeJobData(data); err != nil {
		return domain.JobDetail{}, err
	}
	return job, nil
}

func (s *Store) Checkin(ctx context.Context, inst domain.SchedulerInstance) error {
	_, err := s.db.ExecContext(ctx, s.q(queryUpsertInstance),
		inst.InstanceID,
		toMillis(inst.LastCheckin),
		inst.CheckinInterval.Milliseconds(),
	)
	return err
}

func (s *Store) Instances(ctx context.Context) ([]domain.SchedulerInstance, error) {
	rows, err := s.db.QueryContext(ctx, s.q(queryListInstances))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.SchedulerInstance
	for rows.Next() {
		var (
			inst       domain.SchedulerInstance
			checkinMs  int64
			intervalMs int64
		)
		if err := rows.Scan(&inst.InstanceID, &checkinMs, &intervalMs); err != nil {
			return nil, err
		}
		inst.LastCheckin = fromMillis(checkinMs)
		inst.CheckinInterval = time.Duration(intervalMs) * time.Millisecond
		result = append(result, inst)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (s *Store) RemoveInstance(ctx context.Context, instanceID string) error {
	_, err := s.db.ExecContext(ctx, s.q(queryDeleteInstance), instanceID)
	return err
}

// Compile-time interface assertion
var _ store.JobStore = (*Store)(nil)
