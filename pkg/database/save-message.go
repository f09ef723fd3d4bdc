package database

import (
	"strconv"

	"github.com/dgraph-io/badger/v4"
	"github.com/vmihailenco/msgpack/v5"

	"zapai.dev/pkg/utils/chk"
	"zapai.dev/pkg/utils/log"
)

// SaveParams describes one message to persist.
type SaveParams struct {
	User      string
	Text      string
	FromBot   bool
	SessionID string // already resolved via EnsureSession, or "" to resolve here
	Origin    string
	Type      string // question, response or system; defaulted by direction
	ReplyTo   string
	EventID   string // originating event id, "" for synthetic messages
	EventKind int
	// TimestampMS overrides the store clock when non-zero.
	TimestampMS int64
	Metadata    map[string]string
}

// SaveResult reports the outcome of SaveMessage.
type SaveResult struct {
	MessageID   string
	SessionID   string
	Duplicate   bool
	TimestampMS int64
}

const previewLen = 80

// SaveMessage persists one message record in a single transaction. If the
// event-id hash key or the composite (user, session, timestamp, direction)
// hash key already exists, nothing is written and Duplicate is set. Session
// counters and preview are updated alongside the record.
func (d *D) SaveMessage(p SaveParams) (res SaveResult, err error) {
	dir := DirUser
	if p.FromBot {
		dir = DirBot
	}
	typ := p.Type
	if typ == "" {
		if p.FromBot {
			typ = TypeResponse
		} else {
			typ = TypeQuestion
		}
	}
	sessionID := p.SessionID
	if sessionID == "" {
		if sessionID, _, err = d.EnsureSession(p.User, "", p.Origin); err != nil {
			return
		}
	}
	ts := p.TimestampMS
	if ts == 0 {
		ts = d.Now().UnixMilli()
	}
	messageID := p.EventID
	if messageID == "" {
		messageID = "msg-" + strconv.FormatInt(ts, 10) + "-" + randomHex(8)
	}
	res = SaveResult{MessageID: messageID, SessionID: sessionID, TimestampMS: ts}

	msgKey := messageKey(p.User, sessionID, ts, dir)
	comboKey := hashComboKey(p.User, sessionID, ts, dir)
	err = d.update(func(txn *badger.Txn) (err error) {
		if p.EventID != "" {
			if _, err = txn.Get(hashEventKey(p.EventID)); err == nil {
				res.Duplicate = true
				return nil
			} else if err != badger.ErrKeyNotFound {
				return
			}
		}
		if _, err = txn.Get(comboKey); err == nil {
			res.Duplicate = true
			return nil
		} else if err != badger.ErrKeyNotFound {
			return
		}
		rec := &MessageRecord{
			User:        p.User,
			Session:     sessionID,
			Direction:   dir,
			Text:        p.Text,
			TimestampMS: ts,
			MessageID:   messageID,
			Type:        typ,
			ReplyTo:     p.ReplyTo,
			EventID:     p.EventID,
			EventKind:   p.EventKind,
			Metadata:    p.Metadata,
		}
		var data []byte
		if data, err = msgpack.Marshal(rec); chk.E(err) {
			return
		}
		if err = txn.Set(msgKey, data); err != nil {
			return
		}
		if p.EventID != "" {
			if err = txn.Set(hashEventKey(p.EventID), msgKey); err != nil {
				return
			}
		}
		if err = txn.Set(comboKey, msgKey); err != nil {
			return
		}
		return d.touchSession(txn, p, sessionID, dir, ts)
	})
	if err == nil && res.Duplicate {
		log.D.F("duplicate message suppressed user=%s session=%s event=%s",
			shortKey(p.User), sessionID, p.EventID)
	}
	return
}

// touchSession updates the session counters and preview. Counters only grow
// and last_message_at never moves backwards.
func (d *D) touchSession(
	txn *badger.Txn, p SaveParams, sessionID, dir string, ts int64,
) (err error) {
	key := sessionKey(p.User, sessionID)
	s := &Session{User: p.User, ID: sessionID, CreatedAt: ts, Origin: p.Origin}
	item, err := txn.Get(key)
	if err == nil {
		if err = item.Value(func(val []byte) error {
			return msgpack.Unmarshal(val, s)
		}); chk.E(err) {
			return
		}
	} else if err != badger.ErrKeyNotFound {
		return
	}
	s.MessageCount++
	if ts > s.LastMessageAt {
		s.LastMessageAt = ts
	}
	preview := p.Text
	if len(preview) > previewLen {
		preview = preview[:previewLen]
	}
	s.LastPreview = preview
	s.LastDirection = dir
	if p.EventID != "" {
		s.LastEventID = p.EventID
	}
	if s.Origin == "" {
		s.Origin = p.Origin
	}
	var data []byte
	if data, err = msgpack.Marshal(s); chk.E(err) {
		return
	}
	return txn.Set(key, data)
}

func shortKey(pk string) string {
	if len(pk) > 8 {
		return pk[:8]
	}
	return pk
}
