// Package id implements cronback's owner-embedded, lexicographically
// sortable identifiers: "<prefix>_<owner>.<ULID>".
package id

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// Kind is the 3-5 letter object-kind tag embedded in every identifier.
type Kind string

const (
	KindTrigger Kind = "trig"
	KindRun     Kind = "run"
	KindAttempt Kind = "att"
	KindProject Kind = "prj"
	KindAccount Kind = "acc"
	KindAPIKey  Kind = "sk"
)

// MaxLength is the wire-level bound from spec.md §6: total length <= 64.
const MaxLength = 64

// ID is a parsed identifier: kind_owner.ulid.
type ID struct {
	Kind  Kind
	Owner string
	Lex   ulid.ULID
}

// New mints a fresh, time-ordered ID of the given kind for owner.
func New(kind Kind, owner string) ID {
	return ID{Kind: kind, Owner: owner, Lex: ulid.MustNew(ulid.Timestamp(time.Now()), ulid.DefaultEntropy())}
}

// NewAt mints an ID whose lexical component encodes at, for deterministic tests.
func NewAt(kind Kind, owner string, at time.Time) ID {
	return ID{Kind: kind, Owner: owner, Lex: ulid.MustNew(ulid.Timestamp(at), ulid.DefaultEntropy())}
}

// String renders the canonical wire form: "<kind>_<owner>.<ULID>".
func (i ID) String() string {
	return fmt.Sprintf("%s_%s.%s", i.Kind, i.Owner, i.Lex.String())
}

// Time returns the instant encoded in the ULID component.
func (i ID) Time() time.Time {
	return ulid.Time(i.Lex.Time())
}

// Parse splits a wire identifier into (kind, owner, lex-id).
func Parse(s string) (ID, error) {
	if len(s) > MaxLength {
		return ID{}, fmt.Errorf("id: %q exceeds max length %d", s, MaxLength)
	}

	underscore := strings.IndexByte(s, '_')
	if underscore < 0 {
		return ID{}, fmt.Errorf("id: %q missing kind separator", s)
	}
	kind := s[:underscore]
	rest := s[underscore+1:]

	dot := strings.LastIndexByte(rest, '.')
	if dot < 0 {
		return ID{}, fmt.Errorf("id: %q missing owner separator", s)
	}
	owner := rest[:dot]
	lexStr := rest[dot+1:]
	if owner == "" {
		return ID{}, fmt.Errorf("id: %q has empty owner", s)
	}

	lex, err := ulid.ParseStrict(lexStr)
	if err != nil {
		return ID{}, fmt.Errorf("id: %q has invalid ULID suffix: %w", s, err)
	}

	return ID{Kind: Kind(kind), Owner: owner, Lex: lex}, nil
}

// base32Alphabet is Crockford's base32, used for owner IDs — no padding,
// case-insensitive, avoids visually ambiguous characters.
const base32Alphabet = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

// NewOwnerID mints a fresh base-32 project/owner ID of length n (16 by default
// in practice). Owner IDs are opaque; only their hash feeds cell assignment.
func NewOwnerID(n int) (string, error) {
	if n <= 0 {
		n = 16
	}
	buf := make([]byte, n)
	max := big.NewInt(int64(len(base32Alphabet)))
	for i := range buf {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("id: generate owner id: %w", err)
		}
		buf[i] = base32Alphabet[idx.Int64()]
	}
	return string(buf), nil
}
