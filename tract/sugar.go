package tract

import (
	"context"

	"github.com/tractvcs/tract/commitengine"
	"github.com/tractvcs/tract/content"
	"github.com/tractvcs/tract/storage"
)

// Convenience committers for the common content variants; each is plain
// sugar over Commit.

func (t *Tract) CommitInstruction(ctx context.Context, text string) (storage.Commit, error) {
	return t.Commit(ctx, commitengine.CommitParams{Payload: content.Instruction{Text: text}})
}

func (t *Tract) CommitUser(ctx context.Context, text string) (storage.Commit, error) {
	return t.Commit(ctx, commitengine.CommitParams{Payload: content.Dialogue{Role: content.RoleUser, Text: text}})
}

func (t *Tract) CommitAssistant(ctx context.Context, text string) (storage.Commit, error) {
	return t.Commit(ctx, commitengine.CommitParams{Payload: content.Dialogue{Role: content.RoleAssistant, Text: text}})
}

func (t *Tract) CommitReasoning(ctx context.Context, text string) (storage.Commit, error) {
	return t.Commit(ctx, commitengine.CommitParams{Payload: content.Reasoning{Text: text}})
}

func (t *Tract) CommitOutput(ctx context.Context, text string) (storage.Commit, error) {
	return t.Commit(ctx, commitengine.CommitParams{Payload: content.Output{Text: text}})
}

// CommitSession records a multi-agent boundary marker; it appears in
// history but never in compiled output.
func (t *Tract) CommitSession(ctx context.Context, s content.Session) (storage.Commit, error) {
	return t.Commit(ctx, commitengine.CommitParams{Payload: s})
}

// Edit rewrites the compiled projection of target without removing it
// from history.
func (t *Tract) Edit(ctx context.Context, target string, payload content.Payload) (storage.Commit, error) {
	return t.Commit(ctx, commitengine.CommitParams{Payload: payload, Operation: commitengine.OperationEdit, EditTarget: target})
}
