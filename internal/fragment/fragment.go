// Package fragment finds graph-data and query fragments in document text.
package fragment

import (
	"encoding/hex"

	"lukechampine.com/blake3"
)

// Kind distinguishes graph-data fragments from query fragments.
type Kind uint8

const (
	GraphData Kind = iota
	Query
)

func (k Kind) String() string {
	if k == Query {
		return "query"
	}
	return "graph"
}

// Span locates a fragment body in its document. Bytes are half-open
// [StartByte, EndByte); lines are 1-based and inclusive. An empty body has
// EndLine == StartLine-1.
type Span struct {
	StartByte int
	EndByte   int
	StartLine int
	EndLine   int
}

// Fingerprint is a content hash of a fragment body.
type Fingerprint [32]byte

// Sum fingerprints text.
func Sum(text string) Fingerprint {
	return Fingerprint(blake3.Sum256([]byte(text)))
}

func (f Fingerprint) String() string { return hex.EncodeToString(f[:8]) }

func (f Fingerprint) IsZero() bool { return f == Fingerprint{} }

// Combine folds an ordered list of fingerprints into one. Order matters.
func Combine(parts ...Fingerprint) Fingerprint {
	h := blake3.New(32, nil)
	for _, p := range parts {
		_, _ = h.Write(p[:])
	}
	var out Fingerprint
	copy(out[:], h.Sum(nil))
	return out
}

// Fragment is one fenced region. Fragments carry no identity across edits;
// callers compare them by Fingerprint.
type Fragment struct {
	Index       int // ordinal among the document's fragments
	Kind        Kind
	Tag         string // fence tag as written
	Syntax      string
	Info        string // full info string after the fence marker
	Text        string // body, without fence lines
	Span        Span
	Terminated  bool // false when the fence ran to end of text
	Fingerprint Fingerprint
}
