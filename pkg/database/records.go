package database

import "fmt"

// Directions of a message record.
const (
	DirUser = "user"
	DirBot  = "bot"
)

// Message types. Questions come from users; responses and system notices
// come from the bot.
const (
	TypeQuestion = "question"
	TypeResponse = "response"
	TypeSystem   = "system"
)

// Session origins.
const (
	OriginDM     = "dm"
	OriginPublic = "public"
	OriginOther  = "other"
)

// MessageRecord is the persisted conversational atom.
type MessageRecord struct {
	User        string            `msgpack:"user"`
	Session     string            `msgpack:"session"`
	Direction   string            `msgpack:"direction"`
	Text        string            `msgpack:"text"`
	TimestampMS int64             `msgpack:"ts"`
	MessageID   string            `msgpack:"id"`
	Type        string            `msgpack:"type"`
	ReplyTo     string            `msgpack:"reply_to,omitempty"`
	EventID     string            `msgpack:"event_id,omitempty"`
	EventKind   int               `msgpack:"event_kind,omitempty"`
	Metadata    map[string]string `msgpack:"meta,omitempty"`
}

// Session is a logical conversation thread scoped to a user.
type Session struct {
	User          string `msgpack:"user"`
	ID            string `msgpack:"id"`
	CreatedAt     int64  `msgpack:"created_at"`
	LastMessageAt int64  `msgpack:"last_message_at"`
	MessageCount  int64  `msgpack:"message_count"`
	Origin        string `msgpack:"origin"`
	LastPreview   string `msgpack:"last_preview"`
	LastDirection string `msgpack:"last_direction"`
	LastEventID   string `msgpack:"last_event_id"`
}

// Key prefixes. Timestamps in keys are zero-padded to 13 digits so the
// lexicographic order of keys equals time order through year 2286.
const (
	prefixMessage   = "message:"
	prefixSession   = "session:"
	prefixHashEvent = "hash:event:"
	prefixHash      = "hash:"
	prefixBalance   = "balance:"
	prefixReceipt   = "receipt:"
)

func messageKey(user, session string, ts int64, dir string) []byte {
	return fmt.Appendf(nil, "%s%s:%s:%013d:%s", prefixMessage, user, session, ts, dir)
}

func messagePrefix(user string) []byte {
	return fmt.Appendf(nil, "%s%s:", prefixMessage, user)
}

func sessionMessagePrefix(user, session string) []byte {
	return fmt.Appendf(nil, "%s%s:%s:", prefixMessage, user, session)
}

func sessionKey(user, session string) []byte {
	return fmt.Appendf(nil, "%s%s:%s", prefixSession, user, session)
}

func hashEventKey(eventID string) []byte {
	return fmt.Appendf(nil, "%s%s", prefixHashEvent, eventID)
}

func hashComboKey(user, session string, ts int64, dir string) []byte {
	return fmt.Appendf(nil, "%s%s:%s:%013d:%s", prefixHash, user, session, ts, dir)
}

func balanceKey(user string) []byte {
	return fmt.Appendf(nil, "%s%s", prefixBalance, user)
}

func receiptKey(receiptID string) []byte {
	return fmt.Appendf(nil, "%s%s", prefixReceipt, receiptID)
}
