// Package oracle is the seam to the generative-AI backend. The gateway only
// depends on the I interface; the production implementation speaks an
// OpenAI-compatible chat completion API.
package oracle

import "zapai.dev/pkg/utils/context"

// Turn is one prior exchange in a conversation, oldest first.
type Turn struct {
	// FromBot marks the assistant side of the exchange.
	FromBot bool
	Text    string
}

// I generates a reply to message given bounded prior history.
type I interface {
	Generate(ctx context.T, message string, history []Turn) (string, error)
}
