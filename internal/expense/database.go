package expense

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.etcd.io/bbolt"
)

const (
	expensesBucket     = "expenses"
	fingerprintsBucket = "fingerprints"
	originsBucket      = "origins"
	syncStateBucket    = "sync_state"
)

// Store is the persistence boundary the pipeline writes through
type Store interface {
	// InsertIfAbsent assigns an id and stores the record unless its
	// fingerprint or origin id is already present. Check and insert are one
	// atomic step. Returns ErrDuplicateExpense or ErrAlreadyProcessed.
	InsertIfAbsent(record *ExpenseRecord) (*ExpenseRecord, error)
	// OriginProcessed reports whether a record with originID exists
	OriginProcessed(originID string) (bool, error)
}

// DB defines the full set of database operations
type DB interface {
	Store
	// GetExpense retrieves an expense by id
	GetExpense(id uint64) (*ExpenseRecord, error)
	// ListExpenses returns all expenses ordered by date
	ListExpenses() ([]*ExpenseRecord, error)
	// QueryByMonth returns the expenses dated within a calendar month
	QueryByMonth(year int, month time.Month) ([]*ExpenseRecord, error)
	// QueryByVendor returns the expenses of a vendor, case-insensitively
	QueryByVendor(vendor string) ([]*ExpenseRecord, error)
	// QueryByCategory returns the expenses of a category, case-insensitively
	QueryByCategory(category string) ([]*ExpenseRecord, error)
	// GetSyncState returns the sync state stored under name
	GetSyncState(name string) (*SyncState, error)
	// SaveSyncState stores the sync state under name
	SaveSyncState(name string, state *SyncState) error
	// Close closes the database connection
	Close() error
}

// BoltDB implements the DB interface using BoltDB. Bolt allows a single
// read-write transaction at a time, which makes InsertIfAbsent a
// compare-and-insert without further locking.
type BoltDB struct {
	db *bbolt.DB
}

// NewBoltDB creates a new BoltDB instance
func NewBoltDB(path string) (*BoltDB, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{expensesBucket, fingerprintsBucket, originsBucket, syncStateBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltDB{db: db}, nil
}

func itob(id uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, id)
	return b
}

// InsertIfAbsent stores the record unless it is a duplicate
func (b *BoltDB) InsertIfAbsent(record *ExpenseRecord) (*ExpenseRecord, error) {
	if record.fingerprint == "" {
		return nil, fmt.Errorf("record has no fingerprint")
	}

	var stored *ExpenseRecord
	err := b.db.Update(func(tx *bbolt.Tx) error {
		expenses := tx.Bucket([]byte(expensesBucket))
		fingerprints := tx.Bucket([]byte(fingerprintsBucket))
		origins := tx.Bucket([]byte(originsBucket))

		if record.OriginID != "" && origins.Get([]byte(record.OriginID)) != nil {
			return ErrAlreadyProcessed
		}
		if fingerprints.Get([]byte(record.fingerprint)) != nil {
			return ErrDuplicateExpense
		}

		id, err := expenses.NextSequence()
		if err != nil {
			return fmt.Errorf("allocating id: %w", err)
		}
		rec := *record
		rec.ID = id

		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshaling expense: %w", err)
		}
		if err := expenses.Put(itob(id), data); err != nil {
			return err
		}
		if err := fingerprints.Put([]byte(rec.fingerprint), itob(id)); err != nil {
			return err
		}
		if rec.OriginID != "" {
			if err := origins.Put([]byte(rec.OriginID), itob(id)); err != nil {
				return err
			}
		}
		stored = &rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stored, nil
}

// OriginProcessed reports whether an expense was imported from originID
func (b *BoltDB) OriginProcessed(originID string) (bool, error) {
	var found bool
	err := b.db.View(func(tx *bbolt.Tx) error {
		found = tx.Bucket([]byte(originsBucket)).Get([]byte(originID)) != nil
		return nil
	})
	return found, err
}

// GetExpense retrieves an expense by id
func (b *BoltDB) GetExpense(id uint64) (*ExpenseRecord, error) {
	var record *ExpenseRecord
	err := b.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(expensesBucket)).Get(itob(id))
		if data == nil {
			return fmt.Errorf("%w: %d", ErrNotFound, id)
		}
		var err error
		record, err = unmarshalRecord(data)
		return err
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

// ListExpenses returns all expenses
func (b *BoltDB) ListExpenses() ([]*ExpenseRecord, error) {
	return b.filter(func(*ExpenseRecord) bool { return true })
}

// QueryByMonth returns the expenses dated within the given month
func (b *BoltDB) QueryByMonth(year int, month time.Month) ([]*ExpenseRecord, error) {
	return b.filter(func(r *ExpenseRecord) bool {
		return r.Date.Year() == year && r.Date.Month() == month
	})
}

// QueryByVendor returns the expenses of one vendor
func (b *BoltDB) QueryByVendor(vendor string) ([]*ExpenseRecord, error) {
	vendor = strings.TrimSpace(vendor)
	return b.filter(func(r *ExpenseRecord) bool {
		return strings.EqualFold(r.Vendor, vendor)
	})
}

// QueryByCategory returns the expenses of one category
func (b *BoltDB) QueryByCategory(category string) ([]*ExpenseRecord, error) {
	category = strings.TrimSpace(category)
	return b.filter(func(r *ExpenseRecord) bool {
		return strings.EqualFold(r.Category, category)
	})
}

func (b *BoltDB) filter(keep func(*ExpenseRecord) bool) ([]*ExpenseRecord, error) {
	records := make([]*ExpenseRecord, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(expensesBucket)).ForEach(func(k, v []byte) error {
			record, err := unmarshalRecord(v)
			if err != nil {
				return fmt.Errorf("unmarshaling expense: %w", err)
			}
			if keep(record) {
				records = append(records, record)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Date.Before(records[j].Date)
	})
	return records, nil
}

// GetSyncState returns the stored sync state, or a zero state
func (b *BoltDB) GetSyncState(name string) (*SyncState, error) {
	state := &SyncState{}
	err := b.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(syncStateBucket)).Get([]byte(name))
		if data == nil {
			return nil
		}
		return json.Unmarshal(data, state)
	})
	if err != nil {
		return nil, fmt.Errorf("reading sync state: %w", err)
	}
	return state, nil
}

// SaveSyncState stores the sync state under name
func (b *BoltDB) SaveSyncState(name string, state *SyncState) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		data, err := json.Marshal(state)
		if err != nil {
			return fmt.Errorf("marshaling sync state: %w", err)
		}
		return tx.Bucket([]byte(syncStateBucket)).Put([]byte(name), data)
	})
}

// Close closes the database connection
func (b *BoltDB) Close() error {
	return b.db.Close()
}
