package oracle

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"zapai.dev/pkg/utils/chk"
	"zapai.dev/pkg/utils/context"
	"zapai.dev/pkg/utils/log"
)

// Client talks to an OpenAI-compatible chat completion endpoint.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
	botName    string
	// maxTurns bounds how much history is forwarded; older turns are
	// dropped, newest kept.
	maxTurns int
}

// NewClient builds a backend client. maxTurns caps forwarded history.
func NewClient(baseURL, apiKey, model, botName string, maxTurns int) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 90 * time.Second},
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		apiKey:     apiKey,
		model:      model,
		botName:    botName,
		maxTurns:   maxTurns,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) systemPrompt() string {
	return fmt.Sprintf(
		"You are %s, a helpful assistant reachable over nostr. "+
			"Replies are delivered as chat messages; keep them concise and plain text.",
		c.botName,
	)
}

// Generate implements I.
func (c *Client) Generate(
	ctx context.T, message string, history []Turn,
) (reply string, err error) {
	if len(history) > c.maxTurns {
		history = history[len(history)-c.maxTurns:]
	}
	msgs := make([]chatMessage, 0, len(history)+2)
	msgs = append(msgs, chatMessage{Role: "system", Content: c.systemPrompt()})
	for _, t := range history {
		role := "user"
		if t.FromBot {
			role = "assistant"
		}
		msgs = append(msgs, chatMessage{Role: role, Content: t.Text})
	}
	msgs = append(msgs, chatMessage{Role: "user", Content: message})

	var body []byte
	if body, err = json.Marshal(chatRequest{
		Model: c.model, Messages: msgs,
	}); chk.E(err) {
		return
	}
	var req *http.Request
	if req, err = http.NewRequestWithContext(
		ctx, http.MethodPost, c.baseURL+"/chat/completions",
		bytes.NewReader(body),
	); chk.E(err) {
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	var resp *http.Response
	if resp, err = c.httpClient.Do(req); err != nil {
		return
	}
	defer resp.Body.Close()
	var raw []byte
	if raw, err = io.ReadAll(io.LimitReader(resp.Body, 1<<20)); chk.E(err) {
		return
	}
	if resp.StatusCode != http.StatusOK {
		err = fmt.Errorf("ai backend returned %d: %s", resp.StatusCode, trimBody(raw))
		return
	}
	var parsed chatResponse
	if err = json.Unmarshal(raw, &parsed); chk.E(err) {
		return
	}
	if parsed.Error != nil {
		err = fmt.Errorf("ai backend error: %s", parsed.Error.Message)
		return
	}
	if len(parsed.Choices) == 0 {
		err = fmt.Errorf("ai backend returned no choices")
		return
	}
	reply = strings.TrimSpace(parsed.Choices[0].Message.Content)
	if reply == "" {
		err = fmt.Errorf("ai backend returned an empty reply")
	}
	log.T.F("oracle reply: %d chars from %d history turns", len(reply), len(history))
	return
}

func trimBody(raw []byte) string {
	s := strings.TrimSpace(string(raw))
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}
