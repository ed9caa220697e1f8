package bossgame

import (
	"regexp"
	"strings"
)

// Effect is the classification of one chat message.
type Effect int

const (
	EffectIgnore Effect = iota
	EffectDamage
	EffectHeal
)

func (e Effect) String() string {
	switch e {
	case EffectDamage:
		return "damage"
	case EffectHeal:
		return "heal"
	default:
		return "ignore"
	}
}

// Interpreter classifies chat messages into damage, heal, or ignore by
// case-insensitive substring match against the configured keyword sets.
// A message matching both sets is ambiguous and ignored; multiple
// occurrences of a keyword still count as a single point.
type Interpreter struct {
	damagePat *regexp.Regexp
	healPat   *regexp.Regexp
}

// NewInterpreter builds an interpreter from comma-separated keyword lists.
// Keywords are trimmed; empty entries are dropped. An empty set never
// matches.
func NewInterpreter(triggerCSV, healCSV string) *Interpreter {
	return &Interpreter{
		damagePat: compileKeywords(triggerCSV),
		healPat:   compileKeywords(healCSV),
	}
}

// Classify applies the keyword rule: damage-only keywords give EffectDamage,
// heal-only keywords give EffectHeal, both or neither give EffectIgnore.
func (it *Interpreter) Classify(message string) Effect {
	hasHit := it.damagePat != nil && it.damagePat.MatchString(message)
	hasHeal := it.healPat != nil && it.healPat.MatchString(message)
	switch {
	case hasHit && !hasHeal:
		return EffectDamage
	case hasHeal && !hasHit:
		return EffectHeal
	default:
		return EffectIgnore
	}
}

func compileKeywords(csv string) *regexp.Regexp {
	var escaped []string
	for _, kw := range strings.Split(csv, ",") {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			continue
		}
		escaped = append(escaped, EscapeRegexp(kw))
	}
	if len(escaped) == 0 {
		return nil
	}
	return regexp.MustCompile("(?i)(" + strings.Join(escaped, "|") + ")")
}

// EscapeRegexp escapes every regexp metacharacter in s, i.e. the set
// .*+?^${}()|[]\ so the result matches s literally.
func EscapeRegexp(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch r {
		case '.', '*', '+', '?', '^', '$', '{', '}', '(', ')', '|', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
