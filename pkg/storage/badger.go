package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dgraph-io/badger/v4"

	"github.com/captian-latiao/NestStupidHome-sub000/pkg/household"
)

// Key prefixes for BadgerDB storage organization
// Using single-byte prefixes for efficiency
const (
	prefixHousehold  = byte(0x01) // household:id -> JSON(Household)
	prefixCredential = byte(0x02) // credential:householdID -> JSON(Credential)
)

// BadgerEngine provides persistent storage using BadgerDB.
//
// Key Structure:
//   - Households: 0x01 + householdID -> JSON(Household)
//   - Credentials: 0x02 + householdID -> JSON(Credential)
//
// Example:
//
//	engine, err := storage.NewBadgerEngine("/path/to/data")
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer engine.Close()
//
//	engine.PutHousehold(ctx, household.New("", "Home", now))
type BadgerEngine struct {
	db     *badger.DB
	mu     sync.RWMutex // Protects closed
	closed bool
}

// BadgerOptions configures the BadgerDB engine.
type BadgerOptions struct {
	// DataDir is the directory for storing data files.
	// Required unless InMemory is set.
	DataDir string

	// InMemory runs BadgerDB in memory-only mode.
	// Useful for testing. Data is not persisted.
	InMemory bool

	// SyncWrites forces fsync after each write.
	// Slower but more durable.
	SyncWrites bool

	// Logger receives BadgerDB internal logging.
	// If nil, BadgerDB logging is discarded.
	Logger *slog.Logger

	// LowMemory enables memory-constrained settings.
	// Household records are small, so this is the default in config.
	LowMemory bool
}

// NewBadgerEngine creates a new persistent storage engine with default settings.
//
// The directory is created if it doesn't exist. Safe for concurrent use
// from multiple goroutines.
func NewBadgerEngine(dataDir string) (*BadgerEngine, error) {
	return NewBadgerEngineWithOptions(BadgerOptions{
		DataDir: dataDir,
	})
}

// NewBadgerEngineWithOptions creates a BadgerEngine with custom configuration.
//
// Configuration Trade-offs:
//   - SyncWrites=true: Slower writes but every refill survives a power cut
//   - LowMemory=true: Less RAM, fine for a handful of households
//   - InMemory=true: Fastest but data lost on shutdown
func NewBadgerEngineWithOptions(opts BadgerOptions) (*BadgerEngine, error) {
	badgerOpts := badger.DefaultOptions(opts.DataDir)

	if opts.InMemory {
		badgerOpts = badgerOpts.WithInMemory(true).WithDir("").WithValueDir("")
	}

	if opts.SyncWrites {
		badgerOpts = badgerOpts.WithSyncWrites(true)
	}

	if opts.Logger != nil {
		badgerOpts = badgerOpts.WithLogger(NewBadgerLogger(opts.Logger))
	} else {
		// Use a quiet logger by default
		badgerOpts = badgerOpts.WithLogger(nil)
	}

	if opts.LowMemory {
		badgerOpts = badgerOpts.
			WithMemTableSize(16 << 20).     // 16MB instead of 64MB
			WithValueLogFileSize(64 << 20). // 64MB instead of 1GB
			WithNumMemtables(2).            // 2 instead of 5
			WithNumLevelZeroTables(2).      // 2 instead of 5
			WithNumLevelZeroTablesStall(4). // 4 instead of 15
			WithBlockCacheSize(32 << 20).   // 32MB block cache
			WithIndexCacheSize(16 << 20)    // 16MB index cache
	}

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB: %w", err)
	}

	return &BadgerEngine{db: db}, nil
}

// NewBadgerEngineInMemory creates an in-memory BadgerDB for testing.
//
// Data is not persisted and is lost when the engine is closed.
func NewBadgerEngineInMemory() (*BadgerEngine, error) {
	return NewBadgerEngineWithOptions(BadgerOptions{
		InMemory: true,
	})
}

// ============================================================================
// Key encoding helpers
// ============================================================================

func householdKey(id string) []byte {
	return append([]byte{prefixHousehold}, []byte(id)...)
}

func credentialKey(householdID string) []byte {
	return append([]byte{prefixCredential}, []byte(householdID)...)
}

func (b *BadgerEngine) checkOpen() error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrStorageClosed
	}
	return nil
}

// ============================================================================
// Household Operations
// ============================================================================

// GetHousehold retrieves a household record by ID.
func (b *BadgerEngine) GetHousehold(ctx context.Context, id string) (household.Household, error) {
	if id == "" {
		return household.Household{}, ErrInvalidID
	}
	if err := b.checkOpen(); err != nil {
		return household.Household{}, err
	}
	if err := ctx.Err(); err != nil {
		return household.Household{}, err
	}

	var h household.Household
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(householdKey(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}

		return item.Value(func(val []byte) error {
			var decodeErr error
			h, decodeErr = decodeHousehold(val)
			return decodeErr
		})
	})
	return h, err
}

// PutHousehold stores a household record, replacing any previous one.
func (b *BadgerEngine) PutHousehold(ctx context.Context, h household.Household) error {
	if h.ID == "" {
		return ErrInvalidID
	}
	if err := b.checkOpen(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := encodeHousehold(h)
	if err != nil {
		return err
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(householdKey(h.ID), data)
	})
}

// DeleteHousehold removes a household record and its credential.
func (b *BadgerEngine) DeleteHousehold(ctx context.Context, id string) error {
	if id == "" {
		return ErrInvalidID
	}
	if err := b.checkOpen(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	return b.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(householdKey(id)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrNotFound
			}
			return err
		}
		if err := txn.Delete(householdKey(id)); err != nil {
			return err
		}
		return txn.Delete(credentialKey(id))
	})
}

// ListHouseholds returns every stored household ID in key order.
func (b *BadgerEngine) ListHouseholds(ctx context.Context) ([]string, error) {
	if err := b.checkOpen(); err != nil {
		return nil, err
	}

	var ids []string
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte{prefixHousehold}
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			key := it.Item().Key()
			ids = append(ids, string(key[1:]))
		}
		return nil
	})
	return ids, err
}

// ============================================================================
// Credential Operations
// ============================================================================

// GetCredential retrieves the credential of a household.
func (b *BadgerEngine) GetCredential(ctx context.Context, householdID string) (Credential, error) {
	if householdID == "" {
		return Credential{}, ErrInvalidID
	}
	if err := b.checkOpen(); err != nil {
		return Credential{}, err
	}
	if err := ctx.Err(); err != nil {
		return Credential{}, err
	}

	var c Credential
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(credentialKey(householdID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			var decodeErr error
			c, decodeErr = decodeCredential(val)
			return decodeErr
		})
	})
	return c, err
}

// PutCredential stores a credential, replacing any previous one.
func (b *BadgerEngine) PutCredential(ctx context.Context, c Credential) error {
	if c.HouseholdID == "" {
		return ErrInvalidID
	}
	if err := b.checkOpen(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := encodeCredential(c)
	if err != nil {
		return err
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(credentialKey(c.HouseholdID), data)
	})
}

// ============================================================================
// Maintenance
// ============================================================================

// Close closes the BadgerDB database.
func (b *BadgerEngine) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}

	b.closed = true
	return b.db.Close()
}

// Sync forces a sync of all data to disk.
func (b *BadgerEngine) Sync() error {
	if err := b.checkOpen(); err != nil {
		return err
	}
	return b.db.Sync()
}

// RunGC runs garbage collection on the BadgerDB value log.
// Should be called periodically for long-running applications.
// badger.ErrNoRewrite means there was nothing to collect and an in-memory
// database has no value log; neither is reported.
func (b *BadgerEngine) RunGC() error {
	if err := b.checkOpen(); err != nil {
		return err
	}
	err := b.db.RunValueLogGC(0.5)
	if errors.Is(err, badger.ErrNoRewrite) || errors.Is(err, badger.ErrGCInMemoryMode) {
		return nil
	}
	return err
}

// Size returns the approximate size of the database in bytes.
func (b *BadgerEngine) Size() (lsm, vlog int64) {
	if b.checkOpen() != nil {
		return 0, 0
	}
	return b.db.Size()
}

// Verify BadgerEngine implements Engine interface
var _ Engine = (*BadgerEngine)(nil)
