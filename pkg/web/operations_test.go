package web

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zapai.dev/pkg/database"
)

type fakeStore struct{}

func (fakeStore) RecentAll(limit int) ([]*database.MessageRecord, error) {
	return []*database.MessageRecord{
		{User: "alice", Text: "newest", TimestampMS: 2},
		{User: "bob", Text: "older", TimestampMS: 1},
	}, nil
}

func (fakeStore) SummaryAll() ([]*database.UserSummary, error) {
	return []*database.UserSummary{{User: "alice", Sessions: 1, Messages: 2}}, nil
}

func (fakeStore) HistoryByUser(user string, limit int) ([]*database.MessageRecord, error) {
	return []*database.MessageRecord{{User: user, Text: "hi"}}, nil
}

func (fakeStore) HistoryBySession(user, session string, limit int) ([]*database.MessageRecord, error) {
	return []*database.MessageRecord{{User: user, Session: session}}, nil
}

func (fakeStore) Balance(user string) (int64, error) { return 42, nil }

type fakeStats struct{}

func (fakeStats) Stats() Stats { return Stats{Version: "v-test", Responses: 7} }

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	router := chi.NewRouter()
	api := humachi.New(router, huma.DefaultConfig("test", "v0"))
	huma.AutoRegister(api, &Operations{store: fakeStore{}, stats: fakeStats{}})
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func get(t *testing.T, url string) (int, []byte) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, body
}

func TestStatsEndpoint(t *testing.T) {
	srv := newTestServer(t)
	code, body := get(t, srv.URL+"/api/stats")
	require.Equal(t, http.StatusOK, code)
	var s Stats
	require.NoError(t, json.Unmarshal(body, &s))
	assert.Equal(t, "v-test", s.Version)
	assert.Equal(t, int64(7), s.Responses)
}

func TestConversationsEndpoint(t *testing.T) {
	srv := newTestServer(t)
	code, body := get(t, srv.URL+"/api/conversations?limit=2")
	require.Equal(t, http.StatusOK, code)
	var msgs []*database.MessageRecord
	require.NoError(t, json.Unmarshal(body, &msgs))
	require.Len(t, msgs, 2)
	assert.Equal(t, "newest", msgs[0].Text)
}

func TestSessionsEndpoint(t *testing.T) {
	srv := newTestServer(t)
	code, body := get(t, srv.URL+"/api/sessions")
	require.Equal(t, http.StatusOK, code)
	var sums []*database.UserSummary
	require.NoError(t, json.Unmarshal(body, &sums))
	require.Len(t, sums, 1)
	assert.Equal(t, "alice", sums[0].User)
}

func TestBalanceEndpointAcceptsNpub(t *testing.T) {
	srv := newTestServer(t)
	sec := nostr.GeneratePrivateKey()
	pub, err := nostr.GetPublicKey(sec)
	require.NoError(t, err)
	npub, err := nip19.EncodePublicKey(pub)
	require.NoError(t, err)

	code, body := get(t, srv.URL+"/api/balance/"+npub)
	require.Equal(t, http.StatusOK, code)
	var out struct {
		User    string `json:"user"`
		Balance int64  `json:"balance"`
	}
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Equal(t, pub, out.User)
	assert.Equal(t, int64(42), out.Balance)

	code, _ = get(t, srv.URL+"/api/balance/npub1notvalid")
	assert.Equal(t, http.StatusUnprocessableEntity, code)
}

func TestHistoryEndpointScopesToSession(t *testing.T) {
	srv := newTestServer(t)
	code, body := get(t, srv.URL+"/api/history/abc123?session=chess")
	require.Equal(t, http.StatusOK, code)
	var msgs []*database.MessageRecord
	require.NoError(t, json.Unmarshal(body, &msgs))
	require.Len(t, msgs, 1)
	assert.Equal(t, "chess", msgs[0].Session)
}
