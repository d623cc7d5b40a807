package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
)

// Kind names a family of cached backend reads.
type Kind string

const (
	KindGoals         Kind = "goals"
	KindSalary        Kind = "salary"
	KindSummary       Kind = "summary"
	KindExpenses      Kind = "expenses"
	KindMatchingNames Kind = "matching_names"
)

// Key identifies one cached read. Scope isolates sessions so two users
// never share entries.
type Key struct {
	Scope  string `json:"scope"`
	Kind   Kind   `json:"kind"`
	Year   int    `json:"year,omitempty"`
	Month  int    `json:"month,omitempty"`
	GoalID int64  `json:"goal_id,omitempty"`
	Query  string `json:"query,omitempty"`
}

// String renders the key as "scope|kind|year-month|goal|query".
func (k Key) String() string {
	var b strings.Builder
	b.WriteString(kindPrefix(k.Scope, k.Kind))
	b.WriteString(strconv.Itoa(k.Year))
	b.WriteByte('-')
	b.WriteString(strconv.Itoa(k.Month))
	b.WriteByte('|')
	b.WriteString(strconv.FormatInt(k.GoalID, 10))
	b.WriteByte('|')
	b.WriteString(strings.ToLower(k.Query))
	return b.String()
}

func kindPrefix(scope string, kind Kind) string {
	return scope + "|" + string(kind) + "|"
}

// ScopeFromToken derives the cache scope of a session from a hash of the
// whole token. Claims are never trusted here: the web tier cannot verify a
// signature, so two tokens share a scope only when they are identical.
func ScopeFromToken(token string) string {
	if token == "" {
		return "anonymous"
	}
	sum := sha256.Sum256([]byte(token))
	return "t:" + hex.EncodeToString(sum[:12])
}
