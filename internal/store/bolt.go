package store

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketTrends = []byte("trends")
	bucketRuns   = []byte("runs")
)

// BoltStore implements Store using BoltDB.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens or creates a BoltDB database.
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}

	// Create buckets
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketTrends, bucketRuns} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}

	return &BoltStore{db: db}, nil
}

func (s *BoltStore) SaveTrend(tr *Trend) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTrends)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketTrends)
		}
		data, err := json.Marshal(tr)
		if err != nil {
			return err
		}
		return b.Put([]byte(tr.ID), data)
	})
}

func (s *BoltStore) GetTrend(id string) (*Trend, error) {
	var tr Trend
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTrends)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketTrends)
		}
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("trend %s: %w", id, ErrNotFound)
		}
		return json.Unmarshal(data, &tr)
	})
	if err != nil {
		return nil, err
	}
	return &tr, nil
}

func (s *BoltStore) DeleteTrend(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTrends)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketTrends)
		}
		return b.Delete([]byte(id))
	})
}

func (s *BoltStore) ListTrends() ([]*Trend, error) {
	var trends []*Trend
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTrends)
		if b == nil {
			return nil // no bucket = no trends
		}
		trends = make([]*Trend, 0, b.Stats().KeyN)
		return b.ForEach(func(k, v []byte) error {
			var tr Trend
			if err := json.Unmarshal(v, &tr); err != nil {
				return err
			}
			trends = append(trends, &tr)
			return nil
		})
	})
	return trends, err
}

func (s *BoltStore) SaveRun(rec *RunRecord) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRuns)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketRuns)
		}
		if rec.ID == "" {
			seq, err := b.NextSequence()
			if err != nil {
				return err
			}
			rec.ID = fmt.Sprintf("run_%08d", seq)
		}
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return b.Put([]byte(rec.ID), data)
	})
}

func (s *BoltStore) ListRuns() ([]*RunRecord, error) {
	var runs []*RunRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRuns)
		if b == nil {
			return nil
		}
		runs = make([]*RunRecord, 0, b.Stats().KeyN)
		return b.ForEach(func(k, v []byte) error {
			var rec RunRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			runs = append(runs, &rec)
			return nil
		})
	})
	return runs, err
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
