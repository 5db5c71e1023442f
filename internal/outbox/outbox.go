// Package outbox is a durable queue of server writes that failed and are
// waiting to be retried. Entries live in a bbolt file next to the local
// store, keyed by a monotonically increasing sequence so they replay in the
// order they were made.
package outbox

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

var pendingBucket = []byte("pending")

type Op string

const (
	OpCreateConversation Op = "conversation.create"
	OpUpdateConversation Op = "conversation.update"
	OpDeleteConversation Op = "conversation.delete"
	OpCreateMessage      Op = "message.create"
	OpUpdateMessage      Op = "message.update"
	OpDeleteMessage      Op = "message.delete"
	OpCreateProject      Op = "project.create"
	OpRenameProject      Op = "project.rename"
	OpDeleteProject      Op = "project.delete"
	OpLinkProject        Op = "project.link"
	OpUnlinkProject      Op = "project.unlink"
)

// Entry is one queued write. ConversationID names the conversation the
// write touches, if any, so resync can leave it alone until the write
// lands.
type Entry struct {
	Seq            uint64          `json:"seq"`
	Op             Op              `json:"op"`
	ConversationID string          `json:"conversationId,omitempty"`
	TargetID       string          `json:"targetId,omitempty"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	Attempts       int             `json:"attempts"`
	LastError      string          `json:"lastError,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
}

func (e Entry) Decode(v any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("outbox entry %d has no payload", e.Seq)
	}
	return json.Unmarshal(e.Payload, v)
}

type Outbox struct {
	db  *bolt.DB
	now func() time.Time
}

func Open(path string) (*Outbox, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open outbox: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(pendingBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init outbox: %w", err)
	}
	return &Outbox{db: db, now: time.Now}, nil
}

func (o *Outbox) Close() error {
	return o.db.Close()
}

func seqKey(seq uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, seq)
	return k
}

// Add queues a write. payload is JSON encoded.
func (o *Outbox) Add(op Op, conversationID, targetID string, payload any) (Entry, error) {
	e := Entry{
		Op:             op,
		ConversationID: conversationID,
		TargetID:       targetID,
		CreatedAt:      o.now().UTC(),
	}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return Entry{}, fmt.Errorf("encode outbox payload: %w", err)
		}
		e.Payload = raw
	}
	err := o.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(pendingBucket)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		e.Seq = seq
		enc, err := json.Marshal(e)
		if err != nil {
			return err
		}
		return b.Put(seqKey(seq), enc)
	})
	if err != nil {
		return Entry{}, fmt.Errorf("add outbox entry: %w", err)
	}
	return e, nil
}

// List returns queued entries oldest first. Undecodable entries are
// skipped.
func (o *Outbox) List() ([]Entry, error) {
	out := []Entry{}
	err := o.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(pendingBucket).ForEach(func(k, v []byte) error {
			var e Entry
			if err := json.Unmarshal(v, &e); err != nil {
				return nil
			}
			out = append(out, e)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("list outbox: %w", err)
	}
	return out, nil
}

func (o *Outbox) Len() (int, error) {
	n := 0
	err := o.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(pendingBucket).Stats().KeyN
		return nil
	})
	return n, err
}

func (o *Outbox) Remove(seq uint64) error {
	return o.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(pendingBucket).Delete(seqKey(seq))
	})
}

// MarkFailed records another failed attempt for seq.
func (o *Outbox) MarkFailed(seq uint64, cause error) error {
	return o.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(pendingBucket)
		raw := b.Get(seqKey(seq))
		if raw == nil {
			return nil
		}
		var e Entry
		if err := json.Unmarshal(raw, &e); err != nil {
			return err
		}
		e.Attempts++
		if cause != nil {
			e.LastError = cause.Error()
		}
		enc, err := json.Marshal(e)
		if err != nil {
			return err
		}
		return b.Put(seqKey(seq), enc)
	})
}

// PendingConversations returns the ids of conversations with queued writes.
func (o *Outbox) PendingConversations() (map[string]struct{}, error) {
	entries, err := o.List()
	if err != nil {
		return nil, err
	}
	out := make(map[string]struct{})
	for _, e := range entries {
		if e.ConversationID != "" {
			out[e.ConversationID] = struct{}{}
		}
	}
	return out, nil
}
