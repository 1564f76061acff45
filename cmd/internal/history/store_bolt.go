package history

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

// Bucket names inside the single conversation DB file.
// Distinct logical datasets are kept in separate buckets:
//   - chat_meta:    user -> JSON map of chatID -> ChatMeta
//   - display_logs: user/chatID -> JSON []DisplayMessage
//   - model_logs:   user/chatID -> JSON []ModelTurn
var (
	bucketMeta    = []byte("chat_meta")
	bucketDisplay = []byte("display_logs")
	bucketModel   = []byte("model_logs")
)

// BoltStore is the default durable Store, backed by a single BoltDB file.
//
// Atomicity model:
//   - Every Save*/Delete* runs inside one bolt Update transaction, so
//     SaveLogs and DeleteChat are atomic by construction: either both
//     artifacts land on disk or neither does.
//
// Ownership model:
//   - BoltStore owns the DB handle; Close closes it.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (or creates) the conversation DB file and ensures the
// buckets exist.
func NewBoltStore(path string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketMeta, bucketDisplay, bucketModel} {
			if _, e := tx.CreateBucketIfNotExists(name); e != nil {
				return e
			}
		}
		return nil
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

func logBoltKey(user, chatID string) []byte { return []byte(user + "/" + chatID) }

// LoadMeta returns the user's conversation metadata map (empty if absent).
func (s *BoltStore) LoadMeta(ctx context.Context, user string) (map[string]ChatMeta, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := map[string]ChatMeta{}
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketMeta).Get([]byte(user))
		if len(v) == 0 {
			return nil
		}
		return json.Unmarshal(v, &out)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SaveMeta replaces the user's conversation metadata map.
func (s *BoltStore) SaveMeta(ctx context.Context, user string, meta map[string]ChatMeta) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if meta == nil {
		meta = map[string]ChatMeta{}
	}

	enc, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMeta).Put([]byte(user), enc)
	})
}

// LoadDisplay returns the display log (empty if absent).
func (s *BoltStore) LoadDisplay(ctx context.Context, user, chatID string) ([]DisplayMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out []DisplayMessage
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketDisplay).Get(logBoltKey(user, chatID))
		if len(v) == 0 {
			return nil
		}
		return json.Unmarshal(v, &out)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SaveDisplay replaces the display log.
func (s *BoltStore) SaveDisplay(ctx context.Context, user, chatID string, msgs []DisplayMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	enc, err := json.Marshal(msgs)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketDisplay).Put(logBoltKey(user, chatID), enc)
	})
}

// LoadModel returns the model-native log (empty if absent).
func (s *BoltStore) LoadModel(ctx context.Context, user, chatID string) ([]ModelTurn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out []ModelTurn
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketModel).Get(logBoltKey(user, chatID))
		if len(v) == 0 {
			return nil
		}
		return json.Unmarshal(v, &out)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SaveModel replaces the model-native log.
func (s *BoltStore) SaveModel(ctx context.Context, user, chatID string, turns []ModelTurn) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	enc, err := json.Marshal(turns)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketModel).Put(logBoltKey(user, chatID), enc)
	})
}

// SaveLogs persists both logs inside one Update transaction.
func (s *BoltStore) SaveLogs(ctx context.Context, user, chatID string, msgs []DisplayMessage, turns []ModelTurn) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	encMsgs, err := json.Marshal(msgs)
	if err != nil {
		return err
	}
	encTurns, err := json.Marshal(turns)
	if err != nil {
		return err
	}

	key := logBoltKey(user, chatID)
	return s.db.Update(func(tx *bolt.Tx) error {
		if e := tx.Bucket(bucketDisplay).Put(key, encMsgs); e != nil {
			return e
		}
		return tx.Bucket(bucketModel).Put(key, encTurns)
	})
}

// DeleteChat removes both logs and the metadata entry inside one transaction.
func (s *BoltStore) DeleteChat(ctx context.Context, user, chatID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	key := logBoltKey(user, chatID)
	return s.db.Update(func(tx *bolt.Tx) error {
		if e := tx.Bucket(bucketDisplay).Delete(key); e != nil {
			return e
		}
		if e := tx.Bucket(bucketModel).Delete(key); e != nil {
			return e
		}

		metaBucket := tx.Bucket(bucketMeta)
		v := metaBucket.Get([]byte(user))
		if len(v) == 0 {
			return nil
		}

		meta := map[string]ChatMeta{}
		if e := json.Unmarshal(v, &meta); e != nil {
			// Malformed metadata must not make deletion impossible.
			return errors.Join(e, metaBucket.Delete([]byte(user)))
		}
		if _, ok := meta[chatID]; !ok {
			return nil
		}
		delete(meta, chatID)

		enc, e := json.Marshal(meta)
		if e != nil {
			return e
		}
		return metaBucket.Put([]byte(user), enc)
	})
}
