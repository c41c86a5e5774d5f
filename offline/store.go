// Package offline keeps orders that could not reach the server in a local
// bbolt file until they are replayed.
package offline

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"booth-pos/models"
	"booth-pos/utils"
)

// DefaultSyncedRetention bounds how long confirmations stay in the cache.
const DefaultSyncedRetention = time.Hour

var (
	bucketPending   = []byte("pending_orders")
	bucketByCreated = []byte("pending_by_created")
	bucketSynced    = []byte("synced_orders")
	bucketBySynced  = []byte("synced_by_synced")
	bucketMenu      = []byte("menu_cache")
)

var menuKey = []byte("available")

var ErrNotFound = errors.New("offline record not found")

// PendingOrder is a submission waiting for the server. ID is a temporary
// TEMP- identifier and doubles as the idempotency key on replay.
type PendingOrder struct {
	ID         string                    `json:"id"`
	Request    models.CreateOrderRequest `json:"order_data"`
	CreatedAt  time.Time                 `json:"created_at"`
	RetryCount int                       `json:"retry_count"`
	LastError  string                    `json:"last_error,omitempty"`
}

// SyncedOrder is a replayed order kept briefly for confirmation display.
type SyncedOrder struct {
	ID       string       `json:"id"`
	Order    models.Order `json:"order"`
	SyncedAt time.Time    `json:"synced_at"`
}

type Store struct {
	db *bolt.DB
}

func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open offline store: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketPending, bucketByCreated, bucketSynced, bucketBySynced, bucketMenu} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// NewTempID returns TEMP-<unix millis>-<6 random chars>.
func NewTempID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:6]
	return utils.TempIDPrefix + strconv.FormatInt(now.UnixMilli(), 10) + "-" + suffix
}

// indexKey sorts by time first; the id suffix keeps equal timestamps apart.
func indexKey(t time.Time, id string) []byte {
	key := make([]byte, 8, 8+len(id))
	binary.BigEndian.PutUint64(key, uint64(t.UnixNano()))
	return append(key, id...)
}

func keyTime(key []byte) time.Time {
	return time.Unix(0, int64(binary.BigEndian.Uint64(key[:8])))
}

func (s *Store) SavePending(ctx context.Context, id string, req models.CreateOrderRequest, now time.Time) (*PendingOrder, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p := &PendingOrder{ID: id, Request: req, CreatedAt: now}
	err := s.db.Update(func(tx *bolt.Tx) error {
		return putPending(tx, p)
	})
	if err != nil {
		return nil, fmt.Errorf("save pending order %s: %w", id, err)
	}
	return p, nil
}

func putPending(tx *bolt.Tx, p *PendingOrder) error {
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	if err := tx.Bucket(bucketPending).Put([]byte(p.ID), data); err != nil {
		return err
	}
	return tx.Bucket(bucketByCreated).Put(indexKey(p.CreatedAt, p.ID), []byte(p.ID))
}

// ListPending returns pending orders oldest first.
func (s *Store) ListPending(ctx context.Context) ([]PendingOrder, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []PendingOrder
	err := s.db.View(func(tx *bolt.Tx) error {
		pending := tx.Bucket(bucketPending)
		c := tx.Bucket(bucketByCreated).Cursor()
		for k, id := c.First(); k != nil; k, id = c.Next() {
			data := pending.Get(id)
			if data == nil {
				continue
			}
			var p PendingOrder
			if err := json.Unmarshal(data, &p); err != nil {
				return fmt.Errorf("decode pending order %s: %w", id, err)
			}
			out = append(out, p)
		}
		return nil
	})
	return out, err
}

func (s *Store) GetPending(ctx context.Context, id string) (*PendingOrder, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var p *PendingOrder
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		p, err = getPending(tx, id)
		return err
	})
	return p, err
}

func getPending(tx *bolt.Tx, id string) (*PendingOrder, error) {
	data := tx.Bucket(bucketPending).Get([]byte(id))
	if data == nil {
		return nil, ErrNotFound
	}
	var p PendingOrder
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode pending order %s: %w", id, err)
	}
	return &p, nil
}

// UpdatePending rewrites an existing record, e.g. after a failed replay.
func (s *Store) UpdatePending(ctx context.Context, p *PendingOrder) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		old, err := getPending(tx, p.ID)
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketByCreated).Delete(indexKey(old.CreatedAt, old.ID)); err != nil {
			return err
		}
		return putPending(tx, p)
	})
}

func (s *Store) RemovePending(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return deletePending(tx, id)
	})
}

func deletePending(tx *bolt.Tx, id string) error {
	old, err := getPending(tx, id)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := tx.Bucket(bucketByCreated).Delete(indexKey(old.CreatedAt, old.ID)); err != nil {
		return err
	}
	return tx.Bucket(bucketPending).Delete([]byte(id))
}

func (s *Store) CountPending(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	n := 0
	err := s.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(bucketPending).Stats().KeyN
		return nil
	})
	return n, err
}

func (s *Store) HasPending(ctx context.Context) (bool, error) {
	n, err := s.CountPending(ctx)
	return n > 0, err
}

// MarkSynced deletes the pending record under its temporary ID and stores
// the server's order under the real ID, in one transaction.
func (s *Store) MarkSynced(ctx context.Context, tempID string, order *models.Order, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	synced := SyncedOrder{ID: order.ID, Order: *order, SyncedAt: now}
	data, err := json.Marshal(synced)
	if err != nil {
		return fmt.Errorf("encode synced order: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := deletePending(tx, tempID); err != nil {
			return err
		}
		b := tx.Bucket(bucketSynced)
		if prev := b.Get([]byte(order.ID)); prev != nil {
			var old SyncedOrder
			if json.Unmarshal(prev, &old) == nil {
				_ = tx.Bucket(bucketBySynced).Delete(indexKey(old.SyncedAt, old.ID))
			}
		}
		if err := b.Put([]byte(order.ID), data); err != nil {
			return err
		}
		return tx.Bucket(bucketBySynced).Put(indexKey(now, order.ID), []byte(order.ID))
	})
}

func (s *Store) GetSynced(ctx context.Context, id string) (*SyncedOrder, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out *SyncedOrder
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketSynced).Get([]byte(id))
		if data == nil {
			return ErrNotFound
		}
		out = &SyncedOrder{}
		return json.Unmarshal(data, out)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// CleanupSynced drops synced records older than cutoff and returns how many
// were removed.
func (s *Store) CleanupSynced(ctx context.Context, cutoff time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	removed := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		synced := tx.Bucket(bucketSynced)
		index := tx.Bucket(bucketBySynced)

		var stale [][]byte
		c := index.Cursor()
		for k, _ := c.First(); k != nil && keyTime(k).Before(cutoff); k, _ = c.Next() {
			stale = append(stale, append([]byte(nil), k...))
		}
		for _, k := range stale {
			if err := synced.Delete(k[8:]); err != nil {
				return err
			}
			if err := index.Delete(k); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	return removed, err
}

// SaveMenu caches the last menu seen so carts can be built offline.
func (s *Store) SaveMenu(ctx context.Context, items []models.MenuItem) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("encode menu: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMenu).Put(menuKey, data)
	})
}

func (s *Store) LoadMenu(ctx context.Context) ([]models.MenuItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var items []models.MenuItem
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketMenu).Get(menuKey)
		if data == nil {
			return ErrNotFound
		}
		return json.Unmarshal(data, &items)
	})
	return items, err
}
