package calls

import (
	"regexp"
	"strings"

	"github.com/nyaruka/phonenumbers"
)

const (
	defaultRegion  = "US"
	matchKeyDigits = 10
)

// NormalizePhone turns a raw phone number into a fuzzy matching key: the last
// 10 digits of the number, or all digits when fewer remain.
//
// When the input parses as a valid number, its national significant number is
// used as the digit source so that trailing extensions do not leak into the key.
// The result is a lookup key only, never a unique identifier.
func NormalizePhone(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	digits := digitsOnly(raw)
	if num, err := phonenumbers.Parse(raw, defaultRegion); err == nil && phonenumbers.IsValidNumber(num) {
		digits = phonenumbers.GetNationalSignificantNumber(num)
	}

	if len(digits) > matchKeyDigits {
		return digits[len(digits)-matchKeyDigits:]
	}
	return digits
}

func digitsOnly(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// GenericNameFilter matches department and queue names that never identify a person.
// Matching is case-insensitive, anchored at the start of the name and ends on a
// word boundary; words inside a prefix match any run of whitespace.
type GenericNameFilter struct {
	re *regexp.Regexp
}

func NewGenericNameFilter(prefixes []string) GenericNameFilter {
	alts := make([]string, 0, len(prefixes))
	for _, p := range prefixes {
		words := strings.Fields(p)
		if len(words) == 0 {
			continue
		}
		for i, w := range words {
			words[i] = regexp.QuoteMeta(w)
		}
		alts = append(alts, strings.Join(words, `\s+`))
	}
	if len(alts) == 0 {
		return GenericNameFilter{}
	}
	return GenericNameFilter{re: regexp.MustCompile(`(?i)^(?:` + strings.Join(alts, "|") + `)\b`)}
}

// IsGeneric reports whether name (already trimmed) looks like a department.
func (f GenericNameFilter) IsGeneric(name string) bool {
	if f.re == nil {
		return false
	}
	return f.re.MatchString(name)
}

// ActingPartyName returns the display name of the human judged to have placed
// or answered the call.
//
// Outbound: the caller, unconditionally. Inbound: the first leg whose callee
// name is non-empty and not generic, then the top-level callee name.
func ActingPartyName(c CallEvent, filter GenericNameFilter) (string, bool) {
	if c.Direction == DirectionOutbound {
		name := strings.TrimSpace(c.From.Name)
		return name, name != ""
	}

	for _, leg := range c.Legs {
		name := strings.TrimSpace(leg.To.Name)
		if name == "" || filter.IsGeneric(name) {
			continue
		}
		return name, true
	}

	if name := strings.TrimSpace(c.To.Name); name != "" {
		return name, true
	}
	return "", false
}

// ActingExtension locates the acting party's extension, preferring the
// display extension number over the opaque extension id.
//
// Outbound: the caller's extension number, then the first leg caller extension
// number, then the caller's extension id. Inbound: the first leg whose callee
// name passes filter decides; a matching leg without extension data yields none.
func ActingExtension(c CallEvent, filter GenericNameFilter) (string, bool) {
	if c.Direction == DirectionOutbound {
		if c.From.ExtensionNumber != "" {
			return c.From.ExtensionNumber, true
		}
		for _, leg := range c.Legs {
			if leg.From.ExtensionNumber != "" {
				return leg.From.ExtensionNumber, true
			}
		}
		return c.From.ExtensionID, c.From.ExtensionID != ""
	}

	for _, leg := range c.Legs {
		name := strings.TrimSpace(leg.To.Name)
		if name == "" || filter.IsGeneric(name) {
			continue
		}
		if leg.To.ExtensionNumber != "" {
			return leg.To.ExtensionNumber, true
		}
		return leg.To.ExtensionID, leg.To.ExtensionID != ""
	}
	return "", false
}
