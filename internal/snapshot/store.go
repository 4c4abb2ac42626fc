// Package snapshot persists the last known good backend data so the console
// can keep showing something while the backend is unreachable.
package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/foxzi/discador/internal/campaigns"
	"github.com/foxzi/discador/internal/monitor"
)

var (
	bucketSnapshots = []byte("snapshots")

	keyCampaigns = []byte("campaigns")
	keyCalls     = []byte("calls")
)

// ErrNotFound is returned when nothing was saved yet
var ErrNotFound = errors.New("snapshot not found")

// record wraps a saved payload with its save time
type record struct {
	SavedAt time.Time       `json:"saved_at"`
	Data    json.RawMessage `json:"data"`
}

// Store is a bbolt backed snapshot store
type Store struct {
	db   *bolt.DB
	path string
}

// Open opens or creates the store at path
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{
		Timeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketSnapshots); err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", bucketSnapshots, err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db, path: path}, nil
}

// DB returns the underlying database for components sharing the file
func (s *Store) DB() *bolt.DB {
	return s.db
}

// Path returns the database file path
func (s *Store) Path() string {
	return s.path
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) put(key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	rec, err := json.Marshal(record{SavedAt: time.Now().UTC(), Data: data})
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSnapshots).Put(key, rec)
	})
}

func (s *Store) get(key []byte, v any) (time.Time, error) {
	var rec record
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketSnapshots).Get(key)
		if data == nil {
			return ErrNotFound
		}
		return json.Unmarshal(data, &rec)
	})
	if err != nil {
		return time.Time{}, err
	}
	if err := json.Unmarshal(rec.Data, v); err != nil {
		return time.Time{}, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return rec.SavedAt, nil
}

// SaveCampaigns stores the campaign list
func (s *Store) SaveCampaigns(list []campaigns.Campaign) error {
	return s.put(keyCampaigns, list)
}

// LoadCampaigns returns the last saved campaign list and when it was saved
func (s *Store) LoadCampaigns() ([]campaigns.Campaign, time.Time, error) {
	var list []campaigns.Campaign
	savedAt, err := s.get(keyCampaigns, &list)
	if err != nil {
		return nil, time.Time{}, err
	}
	return list, savedAt, nil
}

// SaveCalls stores the call monitor view
func (s *Store) SaveCalls(snap monitor.Snapshot) error {
	return s.put(keyCalls, snap)
}

// LoadCalls returns the last saved call view
func (s *Store) LoadCalls() (monitor.Snapshot, error) {
	var snap monitor.Snapshot
	if _, err := s.get(keyCalls, &snap); err != nil {
		return monitor.Snapshot{}, err
	}
	snap.Stale = true
	return snap, nil
}
