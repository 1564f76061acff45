package identity

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

var bucketAccounts = []byte("accounts")

// BoltStore is the default account Store, one BoltDB file keyed by username.
// It is kept in a separate file from chat data so credentials and chat
// artifacts stay disjoint.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (or creates) the accounts DB file.
func NewBoltStore(path string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, e := tx.CreateBucketIfNotExists(bucketAccounts)
		return e
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the underlying DB file.
func (s *BoltStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Create inserts a new account; ErrExists if the username is taken.
func (s *BoltStore) Create(ctx context.Context, a Account) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	enc, err := json.Marshal(a)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAccounts)
		if b.Get([]byte(a.Username)) != nil {
			return ErrExists
		}
		return b.Put([]byte(a.Username), enc)
	})
}

// Get returns the account for a username; ErrNotFound if absent.
func (s *BoltStore) Get(ctx context.Context, username string) (Account, error) {
	if err := ctx.Err(); err != nil {
		return Account{}, err
	}

	var a Account
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketAccounts).Get([]byte(username))
		if v == nil {
			return ErrNotFound
		}
		return json.Unmarshal(v, &a)
	})
	if err != nil {
		return Account{}, err
	}
	return a, nil
}

// SetAutoLoginToken replaces the stored token for a username.
func (s *BoltStore) SetAutoLoginToken(ctx context.Context, username, token string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAccounts)
		v := b.Get([]byte(username))
		if v == nil {
			return ErrNotFound
		}

		var a Account
		if err := json.Unmarshal(v, &a); err != nil {
			return err
		}
		a.AutoLoginToken = token

		enc, err := json.Marshal(a)
		if err != nil {
			return err
		}
		return b.Put([]byte(username), enc)
	})
}

// FindByAutoLoginToken scans for the account holding token.
// A full-bucket scan is fine at this scale; accounts are few and auto-login
// is a once-per-connection event.
func (s *BoltStore) FindByAutoLoginToken(ctx context.Context, token string) (Account, error) {
	if err := ctx.Err(); err != nil {
		return Account{}, err
	}
	if token == "" {
		return Account{}, ErrNotFound
	}

	var (
		found Account
		ok    bool
	)
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAccounts).ForEach(func(_, v []byte) error {
			if ok {
				return nil
			}
			var a Account
			if e := json.Unmarshal(v, &a); e != nil {
				// Skip malformed entries instead of failing the whole scan.
				return nil
			}
			if a.AutoLoginToken == token {
				found = a
				ok = true
			}
			return nil
		})
	})
	if err != nil {
		return Account{}, err
	}
	if !ok {
		return Account{}, ErrNotFound
	}
	return found, nil
}
