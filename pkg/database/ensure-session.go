package database

import (
	"strconv"
	"strings"
	"unicode"

	"github.com/dgraph-io/badger/v4"
	"github.com/templexxx/xhex"
	"github.com/vmihailenco/msgpack/v5"
	"lukechampine.com/frand"

	"zapai.dev/pkg/utils/chk"
)

const maxSessionIDLen = 120

// SanitizeSessionID normalizes an externally provided session id: trimmed,
// whitespace runs collapsed to a single hyphen, non-printable runes dropped,
// capped at 120 characters. Returns "" when nothing usable remains.
func SanitizeSessionID(requested string) string {
	var b strings.Builder
	inSpace := false
	for _, r := range strings.TrimSpace(requested) {
		switch {
		case unicode.IsSpace(r):
			inSpace = true
		case unicode.IsPrint(r) && r != ':':
			if inSpace && b.Len() > 0 {
				b.WriteByte('-')
			}
			inSpace = false
			b.WriteRune(r)
		}
	}
	id := b.String()
	if len(id) > maxSessionIDLen {
		id = id[:maxSessionIDLen]
	}
	return id
}

// SynthesizeSessionID builds a fresh session id from the current time and
// eight hex characters of entropy.
func (d *D) SynthesizeSessionID() string {
	return "session-" + strconv.FormatInt(d.Now().UnixMilli(), 10) + "-" + randomHex(8)
}

func randomHex(n int) string {
	src := frand.Bytes((n + 1) / 2)
	dst := make([]byte, len(src)*2)
	xhex.Encode(dst, src)
	return string(dst[:n])
}

// EnsureSession resolves a session id for user: the sanitized requested id
// if usable, otherwise a synthesized one. A Session record is created on
// first reference; existing records get idempotent metadata upgrades (an
// unset origin is filled in, never overwritten).
func (d *D) EnsureSession(user, requested, origin string) (
	id string, isNew bool, err error,
) {
	if id = SanitizeSessionID(requested); id == "" {
		id = d.SynthesizeSessionID()
	}
	now := d.Now().UnixMilli()
	err = d.update(func(txn *badger.Txn) (err error) {
		key := sessionKey(user, id)
		item, err := txn.Get(key)
		if err == badger.ErrKeyNotFound {
			isNew = true
			s := &Session{
				User: user, ID: id, CreatedAt: now, Origin: origin,
			}
			var data []byte
			if data, err = msgpack.Marshal(s); chk.E(err) {
				return
			}
			return txn.Set(key, data)
		}
		if err != nil {
			return
		}
		var s Session
		if err = item.Value(func(val []byte) error {
			return msgpack.Unmarshal(val, &s)
		}); chk.E(err) {
			return
		}
		if s.Origin == "" && origin != "" {
			s.Origin = origin
			var data []byte
			if data, err = msgpack.Marshal(&s); chk.E(err) {
				return
			}
			return txn.Set(key, data)
		}
		return nil
	})
	return
}

// GetSession loads a session record, returning nil when absent.
func (d *D) GetSession(user, id string) (s *Session, err error) {
	err = d.DB.View(func(txn *badger.Txn) error {
		item, err := txn.Get(sessionKey(user, id))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			s = &Session{}
			return msgpack.Unmarshal(val, s)
		})
	})
	return
}
