package compress

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/tractvcs/tract/annotate"
	"github.com/tractvcs/tract/commitengine"
	"github.com/tractvcs/tract/content"
	"github.com/tractvcs/tract/llm"
	"github.com/tractvcs/tract/storage"
	"github.com/tractvcs/tract/tokencount"
	"github.com/tractvcs/tract/tracterr"
)

func newFixture(t *testing.T, client llm.Client) (*storage.Store, *commitengine.Engine, *annotate.Engine, *Engine) {
	t.Helper()
	ctx := context.Background()
	store, err := storage.Open(ctx, storage.Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	ce := commitengine.New(store, tokencount.NullCounter{}, "t1")
	ann := annotate.New(store, "t1")
	return store, ce, ann, New(store, ce, ann, client, "t1")
}

// tenDialogues builds the S5 fixture: ten alternating dialogue commits,
// commit 5 pinned, commit 2 important with a retention pattern.
func tenDialogues(t *testing.T, ctx context.Context, ce *commitengine.Engine, ann *annotate.Engine) []storage.Commit {
	t.Helper()
	var commits []storage.Commit
	for i := 1; i <= 10; i++ {
		role := content.RoleUser
		if i%2 == 0 {
			role = content.RoleAssistant
		}
		text := fmt.Sprintf("message %d", i)
		if i == 2 {
			text = "we shipped 42 widgets today"
		}
		cm, err := ce.Commit(ctx, commitengine.CommitParams{Payload: content.Dialogue{Role: role, Text: text}})
		if err != nil {
			t.Fatalf("commit %d: %v", i, err)
		}
		commits = append(commits, cm)
	}
	if err := ann.Annotate(ctx, commits[4].CommitHash, content.PriorityPinned, "", nil); err != nil {
		t.Fatalf("pin commit 5: %v", err)
	}
	if err := ann.Annotate(ctx, commits[1].CommitHash, content.PriorityImportant, "", &annotate.Retention{
		Patterns: []annotate.RetentionPattern{{Pattern: "42 widgets", Mode: "literal"}},
	}); err != nil {
		t.Fatalf("mark commit 2 important: %v", err)
	}
	return commits
}

// S5: pinned commits survive verbatim and retention patterns survive in
// the summary.
func TestCompressPreservesPinnedAndRetention(t *testing.T) {
	ctx := context.Background()
	client := &llm.NullClient{Response: "summary: shipped 42 widgets, discussed ten messages"}
	store, ce, ann, eng := newFixture(t, client)
	commits := tenDialogues(t, ctx, ce, ann)

	plan, err := eng.Plan(ctx, Params{TargetTokens: 50})
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if len(plan.Groups) != 2 {
		t.Fatalf("groups = %d, want 2 (split at the pinned commit)", len(plan.Groups))
	}
	if len(plan.Preserved) != 1 || plan.Preserved[0].CommitHash != commits[4].CommitHash {
		t.Fatalf("preserved = %+v, want commit 5", plan.Preserved)
	}
	if len(plan.Groups[0].Patterns) != 1 || plan.Groups[0].Patterns[0].Pattern != "42 widgets" {
		t.Fatalf("group 0 patterns = %+v", plan.Groups[0].Patterns)
	}

	if err := eng.SummarizeValidated(ctx, plan); err != nil {
		t.Fatalf("summarize: %v", err)
	}
	result, err := eng.Execute(ctx, plan)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(result.SummaryCommits) != 2 || len(result.PreservedCommits) != 1 {
		t.Fatalf("result = %+v", result)
	}

	// rebuilt chain: summary, pinned original text, summary.
	head, _ := store.Refs.GetHead(ctx, "t1")
	if head != result.NewHead {
		t.Fatalf("HEAD = %s, want %s", head, result.NewHead)
	}
	texts := chainTexts(t, ctx, store, head)
	if len(texts) != 3 {
		t.Fatalf("chain length = %d, want 3: %v", len(texts), texts)
	}
	if texts[1] != "message 5" {
		t.Fatalf("pinned text = %q, want message 5 verbatim", texts[1])
	}
	if !strings.Contains(texts[0], "42 widgets") {
		t.Fatalf("summary %q lost the retention pattern", texts[0])
	}

	// the event records the full source -> summary mapping.
	inputs, err := store.OperationEvents.CommitsForEvent(ctx, result.EventID, storage.OperationCommitRoleInput)
	if err != nil {
		t.Fatalf("event inputs: %v", err)
	}
	if len(inputs) != 10 {
		t.Fatalf("event inputs = %d, want 10", len(inputs))
	}
}

func chainTexts(t *testing.T, ctx context.Context, store *storage.Store, head string) []string {
	t.Helper()
	var reversed []string
	cur := head
	for cur != "" {
		cm, err := store.Commits.Get(ctx, "t1", cur)
		if err != nil {
			t.Fatalf("walk chain: %v", err)
		}
		blob, err := store.Blobs.Get(ctx, cm.ContentHash)
		if err != nil {
			t.Fatalf("load blob: %v", err)
		}
		payload, err := content.FromJSON(blob.PayloadJSON)
		if err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		reversed = append(reversed, content.PrimaryText(payload))
		cur = cm.ParentHash
	}
	out := make([]string, len(reversed))
	for i, s := range reversed {
		out[len(reversed)-1-i] = s
	}
	return out
}

// A summary that drops a retention pattern exhausts the retry loop.
func TestCompressRetryExhaustedOnMissingPattern(t *testing.T) {
	ctx := context.Background()
	client := &llm.NullClient{Response: "a summary that forgets the number"}
	_, ce, ann, eng := newFixture(t, client)
	tenDialogues(t, ctx, ce, ann)
	eng.MaxRetries = 2

	plan, err := eng.Plan(ctx, Params{})
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	err = eng.SummarizeValidated(ctx, plan)
	if err == nil {
		t.Fatalf("validation passed despite missing pattern")
	}
	if !tracterr.Of(err, tracterr.KindRetryExhausted) {
		t.Fatalf("error kind = %v, want RetryExhausted", err)
	}
}

// Manual content replaces the LLM for a single-group range.
func TestCompressManualContent(t *testing.T) {
	ctx := context.Background()
	store, ce, _, eng := newFixture(t, nil)
	for i := 0; i < 4; i++ {
		if _, err := ce.Commit(ctx, commitengine.CommitParams{
			Payload: content.Dialogue{Role: content.RoleUser, Text: fmt.Sprintf("m%d", i)},
		}); err != nil {
			t.Fatalf("commit: %v", err)
		}
	}

	plan, err := eng.Plan(ctx, Params{Content: "manual summary"})
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if err := eng.Summarize(ctx, plan); err != nil {
		t.Fatalf("summarize: %v", err)
	}
	result, err := eng.Execute(ctx, plan)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(result.SummaryCommits) != 1 {
		t.Fatalf("summaries = %d, want 1", len(result.SummaryCommits))
	}
	texts := chainTexts(t, ctx, store, result.NewHead)
	if len(texts) != 1 || texts[0] != "manual summary" {
		t.Fatalf("chain = %v", texts)
	}
}

// Skip-annotated commits are excluded from compression input.
func TestCompressExcludesSkipped(t *testing.T) {
	ctx := context.Background()
	_, ce, ann, eng := newFixture(t, &llm.NullClient{Response: "s"})
	var commits []storage.Commit
	for i := 0; i < 3; i++ {
		cm, _ := ce.Commit(ctx, commitengine.CommitParams{
			Payload: content.Dialogue{Role: content.RoleUser, Text: fmt.Sprintf("m%d", i)},
		})
		commits = append(commits, cm)
	}
	if err := ann.Annotate(ctx, commits[1].CommitHash, content.PrioritySkip, "", nil); err != nil {
		t.Fatalf("annotate: %v", err)
	}

	plan, err := eng.Plan(ctx, Params{})
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if len(plan.Groups) != 1 || len(plan.Groups[0].Commits) != 2 {
		t.Fatalf("groups = %+v, want one group of 2", plan.Groups)
	}
}

// Two-stage mode issues a guidance call first and records its source.
func TestCompressTwoStageGuidance(t *testing.T) {
	ctx := context.Background()
	client := &llm.NullClient{Response: "cover the decisions"}
	_, ce, _, eng := newFixture(t, client)
	for i := 0; i < 3; i++ {
		ce.Commit(ctx, commitengine.CommitParams{
			Payload: content.Dialogue{Role: content.RoleUser, Text: fmt.Sprintf("m%d", i)},
		})
	}

	plan, err := eng.Plan(ctx, Params{TwoStage: true})
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if err := eng.Summarize(ctx, plan); err != nil {
		t.Fatalf("summarize: %v", err)
	}
	if plan.Guidance != "cover the decisions" {
		t.Fatalf("guidance = %q", plan.Guidance)
	}
	if plan.GuidanceSource != GuidanceLLM {
		t.Fatalf("guidance source = %q, want llm", plan.GuidanceSource)
	}
}
