package checkout

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"
)

// Store keeps snapshots of attempts awaiting external payment, keyed by
// payment session id, so the return-URL path can restore them.
type Store interface {
	Save(s Session) error
	Load(paymentSessionID string) (*Session, error)
	Delete(paymentSessionID string) error
}

var ErrSnapshotNotFound = errors.New("checkout snapshot not found")

var bucketSessions = []byte("checkout_sessions")

type BoltStore struct {
	db *bolt.DB
}

func OpenBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open checkout store: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketSessions)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create bucket %s: %w", bucketSessions, err)
	}
	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

func (s *BoltStore) Save(session Session) error {
	if session.PaymentSessionID == "" {
		return errors.New("snapshot has no payment session id")
	}
	data, err := json.Marshal(session)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSessions).Put([]byte(session.PaymentSessionID), data)
	})
}

func (s *BoltStore) Load(paymentSessionID string) (*Session, error) {
	var session Session
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketSessions).Get([]byte(paymentSessionID))
		if data == nil {
			return ErrSnapshotNotFound
		}
		return json.Unmarshal(data, &session)
	})
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (s *BoltStore) Delete(paymentSessionID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSessions).Delete([]byte(paymentSessionID))
	})
}

// List returns every stored snapshot, most recent first.
func (s *BoltStore) List() ([]Session, error) {
	var sessions []Session
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSessions).ForEach(func(_, v []byte) error {
			var session Session
			if err := json.Unmarshal(v, &session); err != nil {
				return err
			}
			sessions = append(sessions, session)
			return nil
		})
	})
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].UpdatedAt.After(sessions[j].UpdatedAt) })
	return sessions, err
}
