package ledger

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/cockroachdb/pebble"
	"go.uber.org/zap"
)

// PebbleLedger is the embedded backend: a Pebble store with one key per
// lowercased address. Atomicity comes from a per-address mutex around the
// read-modify-write; Pebble itself only guarantees single-key durability.
type PebbleLedger struct {
	db     *pebble.DB
	logger *zap.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// OpenPebble opens or creates a Pebble store at path.
func OpenPebble(path string, logger *zap.Logger) (*PebbleLedger, error) {
	if parent := filepath.Dir(path); parent != "." {
		if err := os.MkdirAll(parent, 0o755); err != nil {
			return nil, &StorageError{Backend: "pebble", Err: err}
		}
	}

	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, &StorageError{Backend: "pebble", Err: err}
	}

	logger.Info("pebble store opened", zap.String("path", path))

	return &PebbleLedger{
		db:     db,
		logger: logger,
		locks:  make(map[string]*sync.Mutex),
	}, nil
}

// lockFor returns the mutex guarding one address key, creating it on first
// use. Lock instances are never removed; the working set is one entry per
// distinct caller.
func (l *PebbleLedger) lockFor(key string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()

	lock, ok := l.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		l.locks[key] = lock
	}
	return lock
}

func (l *PebbleLedger) Get(ctx context.Context, address string) (UserRecord, bool, error) {
	return l.get(strings.ToLower(address))
}

func (l *PebbleLedger) get(key string) (UserRecord, bool, error) {
	value, closer, err := l.db.Get([]byte(key))
	if errors.Is(err, pebble.ErrNotFound) {
		return UserRecord{}, false, nil
	}
	if err != nil {
		return UserRecord{}, false, &StorageError{Backend: "pebble", Err: err}
	}
	defer closer.Close()

	record, err := DecodeRecord(value)
	if err != nil {
		return UserRecord{}, false, err
	}
	return record, true, nil
}

func (l *PebbleLedger) put(key string, record UserRecord) error {
	if err := l.db.Set([]byte(key), EncodeRecord(record), pebble.Sync); err != nil {
		return &StorageError{Backend: "pebble", Err: err}
	}
	return nil
}

func (l *PebbleLedger) Credit(ctx context.Context, address string, amount uint64) (uint64, error) {
	key := strings.ToLower(address)

	lock := l.lockFor(key)
	lock.Lock()
	defer lock.Unlock()

	record, _, err := l.get(key)
	if err != nil {
		return 0, err
	}

	record.Balance += amount
	if err := l.put(key, record); err != nil {
		return 0, err
	}

	l.logger.Info("balance added",
		zap.String("address", key),
		zap.Uint64("added", amount),
		zap.Uint64("new_balance", record.Balance),
	)

	return record.Balance, nil
}

func (l *PebbleLedger) Debit(ctx context.Context, address string, amount uint64, timestamp uint64) (uint64, error) {
	key := strings.ToLower(address)

	lock := l.lockFor(key)
	lock.Lock()
	defer lock.Unlock()

	record, _, err := l.get(key)
	if err != nil {
		return 0, err
	}

	if record.Balance < amount {
		return 0, &InsufficientBalanceError{Has: record.Balance, Need: amount}
	}

	record.Balance -= amount
	record.LatestTimestamp = timestamp
	if err := l.put(key, record); err != nil {
		return 0, err
	}

	l.logger.Debug("balance deducted",
		zap.String("address", key),
		zap.Uint64("deducted", amount),
		zap.Uint64("remaining", record.Balance),
	)

	return record.Balance, nil
}

func (l *PebbleLedger) Close() error {
	return l.db.Close()
}
