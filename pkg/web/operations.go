package web

import (
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/nbd-wtf/go-nostr/nip19"

	"zapai.dev/pkg/database"
	"zapai.dev/pkg/utils/context"
)

// Operations carries the dashboard endpoints; huma.AutoRegister picks up the
// Register* methods.
type Operations struct {
	store Store
	stats Statser
}

type StatsOutput struct {
	Body Stats
}

// RegisterStats serves the aggregated runtime counters.
func (o *Operations) RegisterStats(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "stats",
		Summary:     "Stats",
		Description: "aggregated gateway runtime counters",
		Method:      http.MethodGet,
		Path:        "/api/stats",
		Tags:        []string{"dashboard"},
	}, func(ctx context.T, _ *struct{}) (out *StatsOutput, err error) {
		return &StatsOutput{Body: o.stats.Stats()}, nil
	})
}

type ConversationsInput struct {
	Limit int `query:"limit" default:"50" minimum:"1" maximum:"500" doc:"newest messages to return"`
}

type ConversationsOutput struct {
	Body []*database.MessageRecord
}

// RegisterConversations serves the newest messages across all users.
func (o *Operations) RegisterConversations(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "conversations",
		Summary:     "Conversations",
		Description: "newest messages across all users",
		Method:      http.MethodGet,
		Path:        "/api/conversations",
		Tags:        []string{"dashboard"},
	}, func(ctx context.T, input *ConversationsInput) (
		out *ConversationsOutput, err error,
	) {
		msgs, err := o.store.RecentAll(input.Limit)
		if err != nil {
			return nil, huma.Error500InternalServerError("store read failed", err)
		}
		return &ConversationsOutput{Body: msgs}, nil
	})
}

type SessionsOutput struct {
	Body []*database.UserSummary
}

// RegisterSessions serves per-user session summaries, newest activity first.
func (o *Operations) RegisterSessions(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "sessions",
		Summary:     "Sessions",
		Description: "per-user session summaries",
		Method:      http.MethodGet,
		Path:        "/api/sessions",
		Tags:        []string{"dashboard"},
	}, func(ctx context.T, _ *struct{}) (out *SessionsOutput, err error) {
		sums, err := o.store.SummaryAll()
		if err != nil {
			return nil, huma.Error500InternalServerError("store read failed", err)
		}
		return &SessionsOutput{Body: sums}, nil
	})
}

type HistoryInput struct {
	Pubkey  string `path:"pubkey" doc:"user pubkey, hex or npub"`
	Session string `query:"session" doc:"restrict to one session id"`
	Limit   int    `query:"limit" default:"50" minimum:"1" maximum:"500"`
}

type HistoryOutput struct {
	Body []*database.MessageRecord
}

// RegisterHistory serves one user's message history, optionally scoped to a
// session.
func (o *Operations) RegisterHistory(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "history",
		Summary:     "History",
		Description: "one user's messages in chronological order",
		Method:      http.MethodGet,
		Path:        "/api/history/{pubkey}",
		Tags:        []string{"dashboard"},
	}, func(ctx context.T, input *HistoryInput) (
		out *HistoryOutput, err error,
	) {
		user, err := normalizePubkey(input.Pubkey)
		if err != nil {
			return nil, huma.Error422UnprocessableEntity("bad pubkey", err)
		}
		var msgs []*database.MessageRecord
		if input.Session != "" {
			msgs, err = o.store.HistoryBySession(user, input.Session, input.Limit)
		} else {
			msgs, err = o.store.HistoryByUser(user, input.Limit)
		}
		if err != nil {
			return nil, huma.Error500InternalServerError("store read failed", err)
		}
		return &HistoryOutput{Body: msgs}, nil
	})
}

type BalanceInput struct {
	Pubkey string `path:"pubkey" doc:"user pubkey, hex or npub"`
}

type BalanceOutput struct {
	Body struct {
		User     string `json:"user"`
		Balance  int64  `json:"balance"`
		Currency string `json:"currency"`
	}
}

// RegisterBalance serves a user's current sat balance.
func (o *Operations) RegisterBalance(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "balance",
		Summary:     "Balance",
		Description: "a user's current balance in sats",
		Method:      http.MethodGet,
		Path:        "/api/balance/{pubkey}",
		Tags:        []string{"dashboard"},
	}, func(ctx context.T, input *BalanceInput) (
		out *BalanceOutput, err error,
	) {
		user, err := normalizePubkey(input.Pubkey)
		if err != nil {
			return nil, huma.Error422UnprocessableEntity("bad pubkey", err)
		}
		sats, err := o.store.Balance(user)
		if err != nil {
			return nil, huma.Error500InternalServerError("store read failed", err)
		}
		out = &BalanceOutput{}
		out.Body.User = user
		out.Body.Balance = sats
		out.Body.Currency = "sats"
		return out, nil
	})
}

// normalizePubkey accepts hex or npub and returns hex.
func normalizePubkey(s string) (string, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "npub1") {
		_, data, err := nip19.Decode(s)
		if err != nil {
			return "", err
		}
		return data.(string), nil
	}
	return strings.ToLower(s), nil
}
