package archive

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/oplogtail/oplogtail"
)

var (
	OperationsBucket = []byte("operations")
	StatsBucket      = []byte("stats")
)

// Store is a write-only archive of captured operations backed by bbolt. It
// implements the stream handler interface so it can be attached directly to a
// running capture.
type Store struct {
	db *bolt.DB
}

// Entry is the archived form of one operation. Payload documents are stored
// as extended JSON.
type Entry struct {
	Kind      string    `json:"kind"`
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Namespace string    `json:"namespace,omitempty"`
	Message   string    `json:"message,omitempty"`
	Document  string    `json:"document,omitempty"`
	Query     string    `json:"query,omitempty"`
	Update    string    `json:"update,omitempty"`
	Command   string    `json:"command,omitempty"`
}

func New(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{OperationsBucket, StatsBucket} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// HandleOperation archives one operation and bumps the per-kind counter.
func (s *Store) HandleOperation(op oplogtail.Operation) error {
	entry := entryFor(op)

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal archive entry: %w", err)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		ops := tx.Bucket(OperationsBucket)

		key := fmt.Sprintf("%020d:%d", entry.Timestamp.UnixNano(), entry.ID)
		if err := ops.Put([]byte(key), data); err != nil {
			return err
		}

		stats := tx.Bucket(StatsBucket)
		count := uint64(0)
		if raw := stats.Get([]byte(entry.Kind)); raw != nil {
			count, _ = strconv.ParseUint(string(raw), 10, 64)
		}
		return stats.Put([]byte(entry.Kind), []byte(strconv.FormatUint(count+1, 10)))
	})
}

func entryFor(op oplogtail.Operation) Entry {
	switch op := op.(type) {
	case oplogtail.Noop:
		return Entry{
			Kind:      string(op.Kind()),
			ID:        op.ID,
			Timestamp: op.Timestamp,
			Message:   op.Message,
		}
	case oplogtail.Insert:
		return Entry{
			Kind:      string(op.Kind()),
			ID:        op.ID,
			Timestamp: op.Timestamp,
			Namespace: op.Namespace,
			Document:  op.Document.String(),
		}
	case oplogtail.Update:
		return Entry{
			Kind:      string(op.Kind()),
			ID:        op.ID,
			Timestamp: op.Timestamp,
			Namespace: op.Namespace,
			Query:     op.Query.String(),
			Update:    op.Update.String(),
		}
	case oplogtail.Delete:
		return Entry{
			Kind:      string(op.Kind()),
			ID:        op.ID,
			Timestamp: op.Timestamp,
			Namespace: op.Namespace,
			Query:     op.Query.String(),
		}
	case oplogtail.Command:
		return Entry{
			Kind:      string(op.Kind()),
			ID:        op.ID,
			Timestamp: op.Timestamp,
			Namespace: op.Namespace,
			Command:   op.Command.String(),
		}
	}
	return Entry{Kind: string(op.Kind())}
}

// Counts returns the number of archived operations per kind.
func (s *Store) Counts() (map[string]uint64, error) {
	counts := make(map[string]uint64)

	err := s.db.View(func(tx *bolt.Tx) error {
		stats := tx.Bucket(StatsBucket)
		return stats.ForEach(func(k, v []byte) error {
			count, err := strconv.ParseUint(string(v), 10, 64)
			if err != nil {
				return fmt.Errorf("corrupt counter for %s: %w", k, err)
			}
			counts[string(k)] = count
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	return counts, nil
}

// LastEntry returns the most recently archived operation.
func (s *Store) LastEntry() (*Entry, error) {
	var entry *Entry

	err := s.db.View(func(tx *bolt.Tx) error {
		cursor := tx.Bucket(OperationsBucket).Cursor()

		k, v := cursor.Last()
		if k == nil {
			return nil
		}

		var e Entry
		if err := json.Unmarshal(v, &e); err != nil {
			return fmt.Errorf("corrupt archive entry: %w", err)
		}
		entry = &e
		return nil
	})
	if err != nil {
		return nil, err
	}

	if entry == nil {
		return nil, fmt.Errorf("archive is empty")
	}

	return entry, nil
}
