// Package tokencount provides the TokenCounter interface consumed by the
// compiler and commit engine, plus a real tiktoken-backed implementation
// and a null counter for tests.
package tokencount

// Message is the minimal shape the counting formula needs: role, content,
// and an optional name, mirroring the chat-completion message shape.
type Message struct {
	Role    string
	Content string
	Name    string
}

// TokenCounter counts tokens for plain text and for structured message
// lists; the engines only ever see this interface.
type TokenCounter interface {
	CountText(text string) int
	CountMessages(messages []Message) int
	// Identity names the counter for compiled-context provenance, e.g.
	// "tiktoken:o200k_base" or "null".
	Identity() string
}
