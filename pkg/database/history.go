package database

import (
	"github.com/dgraph-io/badger/v4"
	"github.com/vmihailenco/msgpack/v5"

	"zapai.dev/pkg/utils/log"
)

// HistoryBySession returns up to limit messages of one session, oldest
// first. Malformed records are skipped.
func (d *D) HistoryBySession(user, session string, limit int) (
	msgs []*MessageRecord, err error,
) {
	return d.scanNewest(sessionMessagePrefix(user, session), limit)
}

// HistoryByUser returns up to limit messages across all of a user's
// sessions, oldest first.
func (d *D) HistoryByUser(user string, limit int) (
	msgs []*MessageRecord, err error,
) {
	return d.scanNewest(messagePrefix(user), limit)
}

// MessageByEventID resolves the record stored for an originating event id
// through its hash pointer. ok is false when the id was never stored.
func (d *D) MessageByEventID(eventID string) (
	rec *MessageRecord, ok bool, err error,
) {
	err = d.DB.View(func(txn *badger.Txn) error {
		item, gerr := txn.Get(hashEventKey(eventID))
		if gerr == badger.ErrKeyNotFound {
			return nil
		}
		if gerr != nil {
			return gerr
		}
		var msgKey []byte
		if msgKey, gerr = item.ValueCopy(nil); gerr != nil {
			return gerr
		}
		if item, gerr = txn.Get(msgKey); gerr != nil {
			return gerr
		}
		return item.Value(func(val []byte) error {
			rec = &MessageRecord{}
			if uerr := msgpack.Unmarshal(val, rec); uerr != nil {
				rec = nil
				return uerr
			}
			ok = true
			return nil
		})
	})
	return
}

// ReplyExists reports whether a bot record answering messageID is already
// stored in the session.
func (d *D) ReplyExists(user, session, messageID string) (
	found bool, err error,
) {
	err = d.DB.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = sessionMessagePrefix(user, session)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(opts.Prefix); it.Valid(); it.Next() {
			var rec MessageRecord
			if err := it.Item().Value(func(val []byte) error {
				return msgpack.Unmarshal(val, &rec)
			}); err != nil {
				continue
			}
			if rec.Direction == DirBot && rec.ReplyTo == messageID {
				found = true
				return nil
			}
		}
		return nil
	})
	return
}

// scanNewest walks a message prefix in reverse key order (newest first
// because timestamps are zero-padded), keeps limit records and returns them
// chronologically.
func (d *D) scanNewest(prefix []byte, limit int) (
	msgs []*MessageRecord, err error,
) {
	err = d.DB.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		seek := append(append([]byte{}, prefix...), 0xff)
		for it.Seek(seek); it.Valid(); it.Next() {
			if limit > 0 && len(msgs) >= limit {
				break
			}
			var rec MessageRecord
			if err := it.Item().Value(func(val []byte) error {
				return msgpack.Unmarshal(val, &rec)
			}); err != nil {
				log.D.F("skipping malformed record at %s: %v", it.Item().Key(), err)
				continue
			}
			if rec.Text == "" && rec.MessageID == "" {
				continue
			}
			msgs = append(msgs, &rec)
		}
		return nil
	})
	// reverse to chronological order
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return
}
