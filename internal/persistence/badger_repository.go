package persistence

import (
	"encoding/json"
	"errors"

	"github.com/dgraph-io/badger/v3"

	"confluence-trade-bot-go/internal/models"
)

type badgerRepository struct {
	db  *badger.DB
	key []byte
}

// NewBadgerRepository opens a BadgerDB-backed session repository at dbPath.
func NewBadgerRepository(dbPath string) (SessionRepository, error) {
	opts := badger.DefaultOptions(dbPath)
	// Badger's own logger is noisy; errors still surface from DB operations.
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}

	return &badgerRepository{
		db:  db,
		key: []byte("session_state"),
	}, nil
}

func (r *badgerRepository) SaveSession(state *models.SessionState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return r.db.Update(func(txn *badger.Txn) error {
		return txn.Set(r.key, data)
	})
}

func (r *badgerRepository) LoadSession() (*models.SessionState, error) {
	var state models.SessionState

	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(r.key)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if len(val) == 0 {
				return errors.New("session state value is empty")
			}
			return json.Unmarshal(val, &state)
		})
	})

	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &state, nil
}

func (r *badgerRepository) Close() error {
	return r.db.Close()
}
