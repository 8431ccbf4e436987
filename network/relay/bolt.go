package relay

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"claimbridge/core/bridge"
)

var (
	bucketPending = []byte("pending")
	bucketTickets = []byte("tickets")
	bucketDead    = []byte("deadletter")
)

// BoltInbox persists the inbox in a bbolt file so envelopes survive restarts.
// Pending entries are keyed by a local arrival counter; the tickets bucket
// maps each ticket seen to that key.
type BoltInbox struct {
	db *bbolt.DB
}

func OpenBoltInbox(path string) (*BoltInbox, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketPending, bucketTickets, bucketDead} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &BoltInbox{db: db}, nil
}

func (b *BoltInbox) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}

func (b *BoltInbox) Put(env bridge.Envelope) (bool, error) {
	raw, err := env.MarshalBinary()
	if err != nil {
		return false, err
	}
	added := false
	err = b.db.Update(func(tx *bbolt.Tx) error {
		tickets := tx.Bucket(bucketTickets)
		if tickets.Get([]byte(env.Ticket)) != nil {
			return nil
		}
		pending := tx.Bucket(bucketPending)
		seq, err := pending.NextSequence()
		if err != nil {
			return err
		}
		key := seqKey(seq)
		if err := pending.Put(key, raw); err != nil {
			return err
		}
		added = true
		return tickets.Put([]byte(env.Ticket), key)
	})
	return added, err
}

func (b *BoltInbox) Pending(limit int) ([]bridge.Envelope, error) {
	var out []bridge.Envelope
	err := b.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketPending).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if limit > 0 && len(out) >= limit {
				break
			}
			var env bridge.Envelope
			if err := env.UnmarshalBinary(v); err != nil {
				return fmt.Errorf("inbox entry %x: %w", k, err)
			}
			out = append(out, env)
		}
		return nil
	})
	return out, err
}

func (b *BoltInbox) Remove(ticket string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return removePending(tx, ticket)
	})
}

func (b *BoltInbox) DeadLetter(env bridge.Envelope, reason string, at uint64) error {
	raw, err := json.Marshal(DeadLetter{Envelope: env, Reason: reason, At: at})
	if err != nil {
		return err
	}
	return b.db.Update(func(tx *bbolt.Tx) error {
		if err := removePending(tx, env.Ticket); err != nil {
			return err
		}
		return tx.Bucket(bucketDead).Put([]byte(env.Ticket), raw)
	})
}

func (b *BoltInbox) DeadLetters() ([]DeadLetter, error) {
	var out []DeadLetter
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketDead).ForEach(func(k, v []byte) error {
			var dl DeadLetter
			if err := json.Unmarshal(v, &dl); err != nil {
				return fmt.Errorf("dead letter %s: %w", k, err)
			}
			out = append(out, dl)
			return nil
		})
	})
	return out, err
}

func (b *BoltInbox) Depth() (int, int, error) {
	var pending, dead int
	err := b.db.View(func(tx *bbolt.Tx) error {
		pending = tx.Bucket(bucketPending).Stats().KeyN
		dead = tx.Bucket(bucketDead).Stats().KeyN
		return nil
	})
	return pending, dead, err
}

// removePending keeps the ticket index entry so later redeliveries stay
// recognisable as duplicates.
func removePending(tx *bbolt.Tx, ticket string) error {
	key := tx.Bucket(bucketTickets).Get([]byte(ticket))
	if key == nil {
		return nil
	}
	return tx.Bucket(bucketPending).Delete(key)
}

func seqKey(seq uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, seq)
	return buf
}
