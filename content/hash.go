package content

import (
	"crypto/sha256"
	"encoding/hex"
)

// ContentHash returns the SHA-256 hex digest of the canonical JSON form of
// payload, the key a blob is stored and deduplicated under.
func ContentHash(payload map[string]any) (string, error) {
	canon, err := CanonicalJSON(payload)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canon)
	return hex.EncodeToString(sum[:]), nil
}

// CommitHashInput is the exact field set hashed to produce a commit_hash.
// reply_to (edit_target) is included only when non-empty, never as a
// null, so append commits keep stable hashes if the schema gains an
// optional field.
type CommitHashInput struct {
	ContentHash  string
	ParentHash   string // empty means root commit, hashed as null
	ContentType  string
	Operation    string
	TimestampISO string
	ReplyTo      string // edit_target; empty means omitted
}

// CommitHash computes the SHA-256 hex digest over the canonical JSON of
// the commit's hash inputs, per spec: parent_hash is included even when
// empty (root commits hash against an explicit absence represented as
// null), while reply_to is entirely omitted from the object when empty.
func CommitHash(in CommitHashInput) (string, error) {
	d := map[string]any{
		"content_hash":  in.ContentHash,
		"parent_hash":   nullableString(in.ParentHash),
		"content_type":  in.ContentType,
		"operation":     in.Operation,
		"timestamp_iso": in.TimestampISO,
	}
	if in.ReplyTo != "" {
		d["reply_to"] = in.ReplyTo
	}
	canon, err := CanonicalJSON(d)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canon)
	return hex.EncodeToString(sum[:]), nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
