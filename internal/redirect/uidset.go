package redirect

import (
	"strconv"
	"strings"
)

// MaxUIDs bounds script size and the time spent in the privileged shell.
const MaxUIDs = 25

// UIDSet is an insertion-ordered set of application UIDs.
type UIDSet struct {
	uids []int
}

// NewUIDSet builds a set from uids, dropping duplicates and negatives.
func NewUIDSet(uids ...int) UIDSet {
	var s UIDSet
	for _, uid := range uids {
		s.add(uid)
	}
	return s
}

func (s *UIDSet) add(uid int) {
	if uid < 0 || s.Contains(uid) {
		return
	}
	s.uids = append(s.uids, uid)
}

// Len returns the number of UIDs.
func (s UIDSet) Len() int { return len(s.uids) }

// Empty reports whether the set has no members.
func (s UIDSet) Empty() bool { return len(s.uids) == 0 }

// Contains reports membership.
func (s UIDSet) Contains(uid int) bool {
	for _, u := range s.uids {
		if u == uid {
			return true
		}
	}
	return false
}

// Slice returns a copy of the members in insertion order.
func (s UIDSet) Slice() []int {
	out := make([]int, len(s.uids))
	copy(out, s.uids)
	return out
}

// Strings returns the members as decimal tokens, the persisted form.
func (s UIDSet) Strings() []string {
	out := make([]string, len(s.uids))
	for i, u := range s.uids {
		out[i] = strconv.Itoa(u)
	}
	return out
}

// Difference returns members of s not present in other.
func (s UIDSet) Difference(other UIDSet) UIDSet {
	var out UIDSet
	for _, u := range s.uids {
		if !other.Contains(u) {
			out.add(u)
		}
	}
	return out
}

func (s UIDSet) String() string {
	return strings.Join(s.Strings(), ",")
}

// SanitizeUID strips every character that is neither a digit nor a space.
func SanitizeUID(token string) string {
	return strings.Map(func(r rune) rune {
		if (r >= '0' && r <= '9') || r == ' ' {
			return r
		}
		return -1
	}, token)
}

// ParseUIDs sanitizes and parses raw UID tokens. Tokens that are empty after
// sanitization, or still contain more than one number, are rejected.
func ParseUIDs(tokens []string) (UIDSet, error) {
	var s UIDSet
	for _, tok := range tokens {
		clean := strings.TrimSpace(SanitizeUID(tok))
		if clean == "" || strings.Contains(clean, " ") {
			return UIDSet{}, &ValidationError{Field: "uid", Value: tok, Err: ErrMalformedUID}
		}
		uid, err := strconv.Atoi(clean)
		if err != nil {
			return UIDSet{}, &ValidationError{Field: "uid", Value: tok, Err: ErrMalformedUID}
		}
		s.add(uid)
	}
	if err := validateUIDCount(s); err != nil {
		return UIDSet{}, err
	}
	return s, nil
}

// SplitUIDList splits a UID list on commas, tabs and newlines. Spaces stay
// inside a token, so "10 123" reaches ParseUIDs whole and is rejected as
// malformed rather than read as two UIDs.
func SplitUIDList(list string) []string {
	return strings.FieldsFunc(list, func(r rune) bool {
		return r == ',' || r == '\n' || r == '\t'
	})
}

func validateUIDCount(s UIDSet) error {
	if s.Empty() {
		return &ValidationError{Field: "uids", Err: ErrEmptyUIDs}
	}
	if s.Len() > MaxUIDs {
		return &ValidationError{Field: "uids", Value: strconv.Itoa(s.Len()), Err: ErrTooManyUIDs}
	}
	return nil
}
