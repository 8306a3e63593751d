package capacity

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/farellandr/gigboard/internal/models"
	"github.com/farellandr/gigboard/internal/occurrence"
)

// pgLockNotAvailable is SQLSTATE lock_not_available, raised when
// lock_timeout expires.
const pgLockNotAvailable = "55P03"

// keyLocks is a per-occurrence mutex that honours context deadlines. Entries
// are dropped once nobody holds or waits on them.
type keyLocks struct {
	mu    sync.Mutex
	locks map[occurrence.Key]*keyLock
}

type keyLock struct {
	ch   chan struct{}
	refs int
}

func newKeyLocks() *keyLocks {
	return &keyLocks{locks: make(map[occurrence.Key]*keyLock)}
}

func (l *keyLocks) acquire(ctx context.Context, k occurrence.Key) (func(), error) {
	l.mu.Lock()
	kl, ok := l.locks[k]
	if !ok {
		kl = &keyLock{ch: make(chan struct{}, 1)}
		l.locks[k] = kl
	}
	kl.refs++
	l.mu.Unlock()

	select {
	case kl.ch <- struct{}{}:
		return func() {
			<-kl.ch
			l.done(k, kl)
		}, nil
	case <-ctx.Done():
		l.done(k, kl)
		return nil, ErrLockTimeout
	}
}

func (l *keyLocks) done(k occurrence.Key, kl *keyLock) {
	l.mu.Lock()
	kl.refs--
	if kl.refs == 0 {
		delete(l.locks, k)
	}
	l.mu.Unlock()
}

// withOccurrenceLock runs fn in a transaction holding the lock for key. Inside
// fn only tx may touch the database.
func (c *Controller) withOccurrenceLock(ctx context.Context, key occurrence.Key, fn func(tx *gorm.DB) error) error {
	lockCtx, cancel := context.WithTimeout(ctx, c.lockTimeout)
	release, err := c.locks.acquire(lockCtx, key)
	cancel()
	if err != nil {
		return err
	}
	defer release()

	err = c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockRow(tx, key, c.lockTimeout); err != nil {
			return err
		}
		return fn(tx)
	})
	return translateLockError(err)
}

// lockRow takes the row lock on the occurrence marker. Postgres gets a real
// FOR UPDATE bounded by lock_timeout; other dialects rely on the in-process
// lock and their own write serialization.
func lockRow(tx *gorm.DB, key occurrence.Key, timeout time.Duration) error {
	postgres := tx.Dialector.Name() == "postgres"
	if postgres {
		if err := tx.Exec(fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", timeout.Milliseconds())).Error; err != nil {
			return fmt.Errorf("set lock timeout: %w", err)
		}
	}

	marker := models.OccurrenceLock{EventID: key.EventID, DateKey: key.DateKey}
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&marker).Error; err != nil {
		return fmt.Errorf("create occurrence lock: %w", err)
	}

	q := tx
	if postgres {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	if err := q.Where("event_id = ? AND date_key = ?", key.EventID, key.DateKey).First(&marker).Error; err != nil {
		return fmt.Errorf("lock occurrence: %w", err)
	}
	return nil
}

func translateLockError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgLockNotAvailable {
		return ErrLockTimeout
	}
	return err
}
