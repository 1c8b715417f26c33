// Package tracterr defines the single typed error every Tract-facing
// operation returns: one Go type carrying a Kind tag, structured fields,
// and an optional wrapped cause.
package tracterr

import "fmt"

// Kind is one of the error taxonomy tags visible at API boundaries.
type Kind string

const (
	KindContentValidation Kind = "ContentValidation"
	KindCommitNotFound    Kind = "CommitNotFound"
	KindBlobNotFound      Kind = "BlobNotFound"
	KindEditTarget        Kind = "EditTarget"
	KindAmbiguousPrefix   Kind = "AmbiguousPrefix"
	KindBranchExists      Kind = "BranchExists"
	KindBranchNotFound    Kind = "BranchNotFound"
	KindInvalidBranchName Kind = "InvalidBranchName"
	KindUnmergedBranch    Kind = "UnmergedBranch"
	KindDetachedHead      Kind = "DetachedHead"
	KindNothingToMerge    Kind = "NothingToMerge"
	KindMergeConflict     Kind = "MergeConflict"
	KindRebase            Kind = "Rebase"
	KindImportCommit      Kind = "ImportCommit"
	KindSemanticSafety    Kind = "SemanticSafety"
	KindCompression       Kind = "Compression"
	KindGC                Kind = "GC"
	KindBudgetExceeded    Kind = "BudgetExceeded"
	KindPolicyExecution   Kind = "PolicyExecution"
	KindPolicyConfig      Kind = "PolicyConfig"
	KindRetryExhausted    Kind = "RetryExhausted"
	KindDuplicateRef      Kind = "DuplicateRef"
)

// Error is the single error type surfaced at every Tract API boundary.
type Error struct {
	Kind    Kind
	Message string
	// Fields carries kind-specific structured data (e.g. {"current":
	// 1200, "max": 1000} for BudgetExceeded, {"attempts": 3} for
	// RetryExhausted) for callers that want to inspect it programmatically.
	Fields map[string]any
	// Cause, when set, is an underlying infrastructure error (store
	// write failure, LLM transport error) wrapped for %w support.
	Cause error
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, cause error, message string) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target is a *Error with the same Kind, so callers
// can write errors.Is(err, tracterr.New(tracterr.KindCommitNotFound, "")).
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == other.Kind
}

// Of reports whether err is a *Error of the given kind.
func Of(err error, kind Kind) bool {
	var e *Error
	if !asError(err, &e) {
		return false
	}
	return e.Kind == kind
}

func asError(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
