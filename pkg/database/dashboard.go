package database

import (
	"sort"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/vmihailenco/msgpack/v5"
)

// UserSummary aggregates a user's sessions for the dashboard.
type UserSummary struct {
	User          string `json:"user"`
	Sessions      int    `json:"sessions"`
	Messages      int64  `json:"messages"`
	LastMessageAt int64  `json:"last_message_at"`
	LastPreview   string `json:"last_preview"`
}

// RecentAll returns the newest limit message records across all users, for
// the read-only dashboard. Hash pointers are never touched (they live under
// a different prefix).
func (d *D) RecentAll(limit int) (msgs []*MessageRecord, err error) {
	err = d.DB.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefixMessage)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek([]byte(prefixMessage)); it.Valid(); it.Next() {
			var rec MessageRecord
			if err := it.Item().Value(func(val []byte) error {
				return msgpack.Unmarshal(val, &rec)
			}); err != nil {
				continue
			}
			msgs = append(msgs, &rec)
		}
		return nil
	})
	if err != nil {
		return
	}
	sort.Slice(msgs, func(i, j int) bool {
		return msgs[i].TimestampMS > msgs[j].TimestampMS
	})
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[:limit]
	}
	return
}

// SummaryAll aggregates session records per user, newest activity first.
func (d *D) SummaryAll() (sums []*UserSummary, err error) {
	byUser := map[string]*UserSummary{}
	err = d.DB.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefixSession)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek([]byte(prefixSession)); it.Valid(); it.Next() {
			var s Session
			if err := it.Item().Value(func(val []byte) error {
				return msgpack.Unmarshal(val, &s)
			}); err != nil {
				continue
			}
			u := byUser[s.User]
			if u == nil {
				u = &UserSummary{User: s.User}
				byUser[s.User] = u
			}
			u.Sessions++
			u.Messages += s.MessageCount
			if s.LastMessageAt > u.LastMessageAt {
				u.LastMessageAt = s.LastMessageAt
				u.LastPreview = s.LastPreview
			}
		}
		return nil
	})
	if err != nil {
		return
	}
	for _, u := range byUser {
		sums = append(sums, u)
	}
	sort.Slice(sums, func(i, j int) bool {
		if sums[i].LastMessageAt != sums[j].LastMessageAt {
			return sums[i].LastMessageAt > sums[j].LastMessageAt
		}
		return strings.Compare(sums[i].User, sums[j].User) < 0
	})
	return
}
