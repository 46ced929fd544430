package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"peer-chat/contract"
	"peer-chat/domain"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
)

var _ contract.Directory = (*DirectoryRepository)(nil)

// DirectoryRepository is a service directory persisted in BadgerDB.
//
// Registrations live under "svc:{capability}:{registered_at_padded}:{peer}" so a
// prefix scan returns peers in registration order. A reverse index
// "reg:{peer}:{capability}" points at the registration key and makes
// Register idempotent and Deregister a prefix delete.
// With a non-zero ttl, entries expire unless registered again.
type DirectoryRepository struct {
	db  *badger.DB
	log *slog.Logger
	ttl time.Duration
	now func() time.Time

	mu   sync.Mutex
	last int64
}

func NewDirectoryRepository(db *badger.DB, log *slog.Logger, ttl time.Duration) *DirectoryRepository {
	return &DirectoryRepository{db: db, log: log, ttl: ttl, now: time.Now}
}

// stamp is a strictly increasing registration time so two registrations in
// the same clock tick keep their order.
func (r *DirectoryRepository) stamp() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	at := r.now().UnixNano()
	if at <= r.last {
		at = r.last + 1
	}
	r.last = at
	return at
}

func registrationKey(capability string, at int64, peer domain.PeerID) []byte {
	return []byte(fmt.Sprintf("svc:%s:%019d:%s", capability, at, peer))
}

func indexKey(peer domain.PeerID, capability string) []byte {
	return []byte(fmt.Sprintf("reg:%s:%s", peer, capability))
}

func (r *DirectoryRepository) entry(key, value []byte) *badger.Entry {
	e := badger.NewEntry(key, value)
	if r.ttl > 0 {
		e = e.WithTTL(r.ttl)
	}
	return e
}

// Register stores the registration once. Registering again keeps the
// original position and only extends the ttl.
func (r *DirectoryRepository) Register(_ context.Context, self domain.PeerID, capability string) error {
	return r.db.Update(func(txn *badger.Txn) error {
		idx := indexKey(self, capability)

		var key []byte
		item, err := txn.Get(idx)
		switch {
		case err == nil:
			key, err = item.ValueCopy(nil)
			if err != nil {
				return err
			}
		case errors.Is(err, badger.ErrKeyNotFound):
			key = registrationKey(capability, r.stamp(), self)
		default:
			return err
		}

		registration := domain.Registration{
			Peer:         self,
			Capability:   capability,
			Service:      domain.ServiceName(self),
			RegisteredAt: r.now().UnixNano(),
		}
		if existing, err := txn.Get(key); err == nil {
			_ = existing.Value(func(val []byte) error {
				return json.Unmarshal(val, &registration)
			})
		}
		bytes, err := json.Marshal(registration)
		if err != nil {
			return err
		}
		if err = txn.SetEntry(r.entry(key, bytes)); err != nil {
			return err
		}
		return txn.SetEntry(r.entry(idx, key))
	})
}

func (r *DirectoryRepository) Lookup(ctx context.Context, capability string) ([]domain.PeerID, error) {
	var peers []domain.PeerID
	err := r.db.View(func(txn *badger.Txn) error {
		prefix := []byte(fmt.Sprintf("svc:%s:", capability))
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			err := it.Item().Value(func(val []byte) error {
				var registration domain.Registration
				if err := json.Unmarshal(val, &registration); err != nil {
					return err
				}
				peers = append(peers, registration.Peer)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return peers, nil
}

// Deregister removes every registration of self.
func (r *DirectoryRepository) Deregister(_ context.Context, self domain.PeerID) error {
	return r.db.Update(func(txn *badger.Txn) error {
		prefix := []byte(fmt.Sprintf("reg:%s:", self))
		var toDelete [][]byte

		it := txn.NewIterator(badger.DefaultIteratorOptions)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			key, err := item.ValueCopy(nil)
			if err != nil {
				it.Close()
				return err
			}
			toDelete = append(toDelete, item.KeyCopy(nil), key)
		}
		it.Close()

		for _, key := range toDelete {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		r.log.Debug("Deregistered", "peer", self, "keys", len(toDelete))
		return nil
	})
}
