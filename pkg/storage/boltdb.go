package storage

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/tallyhq/tally/pkg/types"
)

// BoltStore implements Store using BoltDB. Keys are 8-byte big-endian
// ticket numbers, so bucket iteration order is ticket-number order;
// values are JSON ticket rows. One bucket per ledger period.
type BoltStore struct {
	db     *bolt.DB
	bucket []byte
}

// NewBoltStore opens (or creates) the ledger database under dataDir and
// ensures the current period's bucket exists.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "tally.db")

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	bucket := []byte(PeriodTable(time.Now()))
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create bucket %s: %w", bucket, err)
	}

	return &BoltStore{db: db, bucket: bucket}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func (s *BoltStore) Ping(ctx context.Context) error {
	return s.db.View(func(tx *bolt.Tx) error {
		if tx.Bucket(s.bucket) == nil {
			return fmt.Errorf("%w: bucket %s missing", ErrUnavailable, s.bucket)
		}
		return nil
	})
}

func (s *BoltStore) NextTicketNumber(ctx context.Context) (int, error) {
	next := 1
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(s.bucket).Cursor()
		if k, _ := c.Last(); k != nil {
			next = ticketKeyNumber(k) + 1
		}
		return nil
	})
	return next, err
}

func (s *BoltStore) TicketsFor(ctx context.Context, username string) ([]types.Ticket, error) {
	username = types.NormalizeUsername(username)
	var tickets []types.Ticket
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(s.bucket).ForEach(func(k, v []byte) error {
			var t types.Ticket
			if err := json.Unmarshal(v, &t); err != nil {
				return err
			}
			if t.Username == username {
				tickets = append(tickets, t)
			}
			return nil
		})
	})
	return tickets, err
}

func (s *BoltStore) Allocate(ctx context.Context, username string, start, count int) error {
	username = types.NormalizeUsername(username)
	now := time.Now().UTC()
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(s.bucket)
		for i := 0; i < count; i++ {
			number := start + i
			key := ticketKey(number)
			if b.Get(key) != nil {
				return fmt.Errorf("%w: %d", ErrDuplicateTicket, number)
			}
			data, err := json.Marshal(types.Ticket{
				Number:    number,
				Username:  username,
				IsValid:   true,
				CreatedAt: now,
			})
			if err != nil {
				return err
			}
			if err := b.Put(key, data); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStore) InvalidateLowestValid(ctx context.Context, username string) (bool, error) {
	username = types.NormalizeUsername(username)
	flipped := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(s.bucket)
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var t types.Ticket
			if err := json.Unmarshal(v, &t); err != nil {
				return err
			}
			if t.Username != username || !t.IsValid {
				continue
			}
			t.IsValid = false
			data, err := json.Marshal(t)
			if err != nil {
				return err
			}
			if err := b.Put(k, data); err != nil {
				return err
			}
			flipped = true
			return nil
		}
		return nil
	})
	return flipped, err
}

func (s *BoltStore) InvalidateTickets(ctx context.Context, username string, numbers []int) error {
	username = types.NormalizeUsername(username)
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(s.bucket)
		for _, number := range numbers {
			key := ticketKey(number)
			v := b.Get(key)
			if v == nil {
				return fmt.Errorf("ticket %d not found", number)
			}
			var t types.Ticket
			if err := json.Unmarshal(v, &t); err != nil {
				return err
			}
			if t.Username != username {
				return fmt.Errorf("ticket %d belongs to %s, not %s", number, t.Username, username)
			}
			t.IsValid = false
			data, err := json.Marshal(t)
			if err != nil {
				return err
			}
			if err := b.Put(key, data); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStore) InvalidateAll(ctx context.Context, username string) error {
	username = types.NormalizeUsername(username)
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(s.bucket)
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var t types.Ticket
			if err := json.Unmarshal(v, &t); err != nil {
				return err
			}
			if t.Username != username || !t.IsValid {
				continue
			}
			t.IsValid = false
			data, err := json.Marshal(t)
			if err != nil {
				return err
			}
			if err := b.Put(k, data); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStore) UsersWithValidTickets(ctx context.Context) (map[string]struct{}, error) {
	users := make(map[string]struct{})
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(s.bucket).ForEach(func(k, v []byte) error {
			var t types.Ticket
			if err := json.Unmarshal(v, &t); err != nil {
				return err
			}
			if t.IsValid {
				users[t.Username] = struct{}{}
			}
			return nil
		})
	})
	return users, err
}

func (s *BoltStore) AllValidTickets(ctx context.Context) (map[string][]int, error) {
	tickets := make(map[string][]int)
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(s.bucket).ForEach(func(k, v []byte) error {
			var t types.Ticket
			if err := json.Unmarshal(v, &t); err != nil {
				return err
			}
			if t.IsValid {
				tickets[t.Username] = append(tickets[t.Username], t.Number)
			}
			return nil
		})
	})
	return tickets, err
}

func ticketKey(number int) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, uint64(number))
	return key
}

func ticketKeyNumber(key []byte) int {
	return int(binary.BigEndian.Uint64(key))
}
