// Package tract is the user-facing facade: it composes storage, the
// commit engine, the compiler, branch/merge/rebase/import, compression,
// garbage collection, annotations, and the hook system into one handle.
package tract

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/tractvcs/tract/annotate"
	"github.com/tractvcs/tract/branch"
	"github.com/tractvcs/tract/commitengine"
	"github.com/tractvcs/tract/compile"
	"github.com/tractvcs/tract/compress"
	"github.com/tractvcs/tract/config"
	"github.com/tractvcs/tract/content"
	"github.com/tractvcs/tract/gc"
	"github.com/tractvcs/tract/hooks"
	"github.com/tractvcs/tract/importcommit"
	"github.com/tractvcs/tract/llm"
	"github.com/tractvcs/tract/merge"
	"github.com/tractvcs/tract/metrics"
	"github.com/tractvcs/tract/nav"
	"github.com/tractvcs/tract/rebase"
	"github.com/tractvcs/tract/storage"
	"github.com/tractvcs/tract/telemetry"
	"github.com/tractvcs/tract/tokencount"
	"github.com/tractvcs/tract/tracterr"
)

// Options configures Open. Every field has a working default (null
// counter, no LLM, no metrics); a Config with an empty DBPath is replaced
// as a whole by config.DefaultRepoConfig(), an in-memory store.
type Options struct {
	Config  config.RepoConfig
	TractID string
	Counter tokencount.TokenCounter
	LLM     llm.Client
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Tract is one versioned context: a DAG, its branches, HEAD, and the
// engines operating over them. Not safe for concurrent use; hold one
// instance per thread over distinct databases for parallelism.
type Tract struct {
	ID    string
	Store *storage.Store

	Commits     *commitengine.Engine
	Compiler    *compile.Compiler
	Navigator   *nav.Navigator
	Branches    *branch.Manager
	Merges      *merge.Engine
	Rebases     *rebase.Engine
	Imports     *importcommit.Engine
	Compressor  *compress.Engine
	Collector   *gc.Engine
	Annotations *annotate.Engine
	Hooks       *hooks.Registry

	cfg     config.RepoConfig
	llm     llm.Client
	metrics *metrics.Metrics
	tracer  *telemetry.Tracer
	logger  *slog.Logger

	specStore *hooks.SpecStore
	dynamic   map[string]*hooks.OperationSpec
	policies  []Policy

	dbPath string
	closed bool
}

// one writer per database file within this process; cross-process
// exclusion relies on sqlite's own locking and busy timeout.
var (
	openMu    sync.Mutex
	openPaths = map[string]bool{}
)

// Open opens (or creates) the tract database and wires every engine.
func Open(ctx context.Context, opts Options) (*Tract, error) {
	cfg := opts.Config
	if cfg.DBPath == "" {
		cfg = config.DefaultRepoConfig()
	}
	tractID := opts.TractID
	if tractID == "" {
		tractID = "default"
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	dbPath := cfg.DBPath
	if dbPath != ":memory:" {
		abs, err := filepath.Abs(dbPath)
		if err == nil {
			dbPath = abs
		}
		openMu.Lock()
		if openPaths[dbPath] {
			openMu.Unlock()
			return nil, tracterr.Newf(tracterr.KindSemanticSafety, "database %s is already open in this process; the engine is single-writer", dbPath)
		}
		openPaths[dbPath] = true
		openMu.Unlock()
	}

	store, err := storage.Open(ctx, storage.Config{Path: cfg.DBPath})
	if err != nil {
		releasePath(dbPath)
		return nil, err
	}

	counter := opts.Counter
	if counter == nil {
		counter = tokencount.NullCounter{}
	}

	t := &Tract{
		ID:      tractID,
		Store:   store,
		cfg:     cfg,
		llm:     opts.LLM,
		metrics: opts.Metrics,
		tracer:  telemetry.New(),
		logger:  logger.With("component", "tract", "tract_id", tractID),
		dynamic: map[string]*hooks.OperationSpec{},
		dbPath:  dbPath,
	}

	t.Commits = commitengine.New(store, counter, tractID)
	t.Commits.Budget = cfg.TokenBudget
	t.Compiler = compile.New(store, counter, tractID, cfg.CompileCacheSize)
	t.Navigator = nav.New(store, tractID)
	t.Branches = branch.New(store, tractID)
	t.Merges = merge.New(store, t.Commits, tractID)
	t.Rebases = rebase.New(store, t.Commits, tractID)
	t.Imports = importcommit.New(store, t.Commits, tractID)
	t.Annotations = annotate.New(store, tractID)
	t.Compressor = compress.New(store, t.Commits, t.Annotations, opts.LLM, tractID)
	t.Collector = gc.New(store, tractID)
	t.Hooks = hooks.NewRegistry(logger)

	if cfg.DBPath != ":memory:" {
		t.specStore = &hooks.SpecStore{Dir: filepath.Join(filepath.Dir(dbPath), ".tract", "operations")}
		specs, quarantined, err := t.specStore.LoadAll()
		if err != nil {
			t.Close()
			return nil, err
		}
		for _, q := range quarantined {
			t.logger.Warn("quarantined invalid operation spec", "path", q)
		}
		for _, s := range specs {
			t.dynamic[s.Name] = s
		}
	}

	return t, nil
}

func releasePath(dbPath string) {
	if dbPath == ":memory:" {
		return
	}
	openMu.Lock()
	delete(openPaths, dbPath)
	openMu.Unlock()
}

// Close releases the store and the single-writer slot.
func (t *Tract) Close() error {
	if t.closed {
		return nil
	}
	t.closed = true
	releasePath(t.dbPath)
	return t.Store.Close()
}

// Commit appends (or edits) one content payload and advances HEAD.
func (t *Tract) Commit(ctx context.Context, p commitengine.CommitParams) (storage.Commit, error) {
	ctx, span := t.tracer.Start(ctx, "commit", attribute.String("tract_id", t.ID))
	defer span.End()
	cm, err := t.Commits.Commit(ctx, p)
	if err != nil {
		t.metrics.IncError("commit")
		return storage.Commit{}, err
	}
	t.metrics.IncCommits()
	t.Compiler.Invalidate()
	if perr := t.evaluatePolicies(ctx, cm); perr != nil {
		t.logger.Warn("policy evaluation failed", "commit", cm.CommitHash, "error", perr)
	}
	return cm, nil
}

// Batch groups commits into one transaction; any error rolls back all of
// them. The closure receives an engine bound to the transaction.
func (t *Tract) Batch(ctx context.Context, fn func(tx *commitengine.Engine) error) error {
	err := t.Commits.Batch(ctx, fn)
	t.Compiler.Invalidate()
	return err
}

// Compile projects the current chain (or a time-travel anchor) into the
// linear message list an LLM API expects.
func (t *Tract) Compile(ctx context.Context, opts compile.Options) (compile.CompiledContext, error) {
	start := time.Now()
	ctx, span := t.tracer.Start(ctx, "compile", attribute.String("tract_id", t.ID))
	defer span.End()
	out, err := t.Compiler.Compile(ctx, opts)
	if err != nil {
		t.metrics.IncError("compile")
		return compile.CompiledContext{}, err
	}
	t.metrics.ObserveCompile(start)
	return out, nil
}

// Log returns the current chain's commits, newest first.
func (t *Tract) Log(ctx context.Context) ([]storage.Commit, error) {
	head, err := t.Store.Refs.GetHead(ctx, t.ID)
	if err != nil {
		if err == storage.ErrNotFound {
			return nil, nil
		}
		return nil, tracterr.Wrap(tracterr.KindCommitNotFound, err, "resolving HEAD")
	}
	var out []storage.Commit
	cur := head
	visited := map[string]bool{}
	for cur != "" && !visited[cur] {
		visited[cur] = true
		cm, err := t.Store.Commits.Get(ctx, t.ID, cur)
		if err != nil {
			return nil, tracterr.Wrap(tracterr.KindCommitNotFound, err, "walking log")
		}
		out = append(out, cm)
		cur = cm.ParentHash
	}
	return out, nil
}

// EditHistory returns every revision of a message: the edits newest
// first, then the original append.
func (t *Tract) EditHistory(ctx context.Context, targetHash string) ([]storage.Commit, error) {
	return t.Commits.EditHistory(ctx, targetHash)
}

// Annotate appends a priority row for a commit.
func (t *Tract) Annotate(ctx context.Context, targetHash string, priority content.Priority, reason string, retention *annotate.Retention) error {
	if err := t.Annotations.Annotate(ctx, targetHash, priority, reason, retention); err != nil {
		return err
	}
	t.Compiler.Invalidate()
	return nil
}

// AnnotationCounts returns {pinned, important, normal, skip} totals.
func (t *Tract) AnnotationCounts(ctx context.Context) (map[string]int, error) {
	return t.Annotations.Counts(ctx)
}

// Branch creates a branch at startPoint (HEAD when empty).
func (t *Tract) Branch(ctx context.Context, name, startPoint string) error {
	return t.Branches.Create(ctx, name, startPoint)
}

// DeleteBranch removes a branch, refusing unmerged ones without force.
func (t *Tract) DeleteBranch(ctx context.Context, name string, force bool) error {
	return t.Branches.Delete(ctx, name, force)
}

// ListBranches returns every branch name.
func (t *Tract) ListBranches(ctx context.Context) ([]string, error) {
	return t.Branches.List(ctx)
}

// Switch checks out a branch, a commit (detaching HEAD), or "-".
func (t *Tract) Switch(ctx context.Context, target string) error {
	if err := t.Navigator.Checkout(ctx, target); err != nil {
		return err
	}
	t.Compiler.Invalidate()
	return nil
}

// Reset moves HEAD to target, recording ORIG_HEAD.
func (t *Tract) Reset(ctx context.Context, target string, mode nav.ResetMode, force bool) error {
	if err := t.Navigator.Reset(ctx, target, mode, force); err != nil {
		return err
	}
	t.Compiler.Invalidate()
	return nil
}

// Resolve maps a ref, branch name, or hash prefix to a full commit hash.
func (t *Tract) Resolve(ctx context.Context, ref string) (string, error) {
	return t.Navigator.Resolve(ctx, ref)
}

// Status reports where HEAD is.
type Status struct {
	Branch   string
	Attached bool
	Head     string
}

func (t *Tract) Status(ctx context.Context) (Status, error) {
	branchName, attached, err := t.Store.Refs.CurrentBranch(ctx, t.ID)
	if err != nil {
		return Status{}, tracterr.Wrap(tracterr.KindCommitNotFound, err, "reading current branch")
	}
	head, err := t.Store.Refs.GetHead(ctx, t.ID)
	if err != nil && err != storage.ErrNotFound {
		return Status{}, tracterr.Wrap(tracterr.KindCommitNotFound, err, "resolving HEAD")
	}
	return Status{Branch: branchName, Attached: attached, Head: head}, nil
}

// On registers a hook handler for an operation (or "*").
func (t *Tract) On(operation string, handler hooks.Handler, opts ...hooks.Option) error {
	return t.Hooks.On(operation, handler, opts...)
}

// Off removes hook handlers: one by name, or all for the operation.
func (t *Tract) Off(operation, name string) { t.Hooks.Off(operation, name) }

// route sends a pending through the registry and mirrors the firing log
// into metrics.
func (t *Tract) route(ctx context.Context, p hooks.Pending) (any, *hooks.Rejection, error) {
	before := len(t.Hooks.HookLog())
	out, rej, err := t.Hooks.Route(ctx, p)
	for _, entry := range t.Hooks.HookLog()[before:] {
		t.metrics.IncHookFiring(entry.Operation, string(entry.Result))
	}
	return out, rej, err
}
