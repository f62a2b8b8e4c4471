// Package phonetic matches misheard phrases against a clinical vocabulary
// using Double Metaphone encoding combined with Jaro-Winkler similarity.
//
// Matching happens in two stages:
//
//  1. Phonetic candidate filtering: Double Metaphone codes of the phrase
//     (with spaces removed) are compared against the codes of every term.
//     A shared code makes the term a phonetic candidate.
//
//  2. Jaro-Winkler ranking: among phonetic candidates the term with the
//     highest similarity wins, provided the score reaches the phonetic
//     threshold. When no phonetic candidate qualifies, pure similarity is
//     tested against the stricter fuzzy threshold.
//
// Terms are prepared once into an [Index] so transcripts with many n-gram
// windows do not recompute term codes.
package phonetic

import (
	"strings"
	"unicode/utf8"

	"github.com/antzucaro/matchr"
)

const (
	// DefaultPhoneticThreshold is the minimum score for phonetic candidates.
	DefaultPhoneticThreshold = 0.70

	// DefaultFuzzyThreshold is the minimum score for non-phonetic matches.
	DefaultFuzzyThreshold = 0.85

	// minPhraseRunes keeps short function words ("a", "of", "in") from
	// ever being rewritten.
	minPhraseRunes = 4

	// maxExtraWords is how many more words a spoken phrase may have than
	// the term it is matched against ("lie sino pril" vs "lisinopril").
	// Such phrases must also share a phonetic code with the term and have
	// about the same number of letters.
	maxExtraWords = 2
)

// Option is a functional option for configuring a [Matcher].
type Option func(*Matcher)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score for a
// phonetically matched term. Default: 0.70.
func WithPhoneticThreshold(threshold float64) Option {
	return func(m *Matcher) {
		if threshold > 0 {
			m.phoneticThreshold = threshold
		}
	}
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score when no phonetic
// candidate is found. Default: 0.85.
func WithFuzzyThreshold(threshold float64) Option {
	return func(m *Matcher) {
		if threshold > 0 {
			m.fuzzyThreshold = threshold
		}
	}
}

// Matcher scores phrases against an [Index]. It is read-only after
// construction and safe for concurrent use.
type Matcher struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// New returns a [Matcher] configured with the supplied options.
func New(opts ...Option) *Matcher {
	m := &Matcher{
		phoneticThreshold: DefaultPhoneticThreshold,
		fuzzyThreshold:    DefaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Thresholds reports the phonetic and fuzzy thresholds in effect.
func (m *Matcher) Thresholds() (phonetic, fuzzy float64) {
	return m.phoneticThreshold, m.fuzzyThreshold
}

type term struct {
	text   string
	lower  string
	concat string
	words  int
	codes  map[string]struct{}
}

// Index is a prepared, immutable set of vocabulary terms.
type Index struct {
	terms    []term
	maxWords int
}

// NewIndex prepares terms for matching. Blank and duplicate terms (case
// insensitive) are dropped; the first spelling wins.
func NewIndex(terms []string) *Index {
	ix := &Index{}
	seen := make(map[string]struct{}, len(terms))
	for _, raw := range terms {
		text := strings.Join(strings.Fields(raw), " ")
		if text == "" {
			continue
		}
		lower := strings.ToLower(text)
		if _, dup := seen[lower]; dup {
			continue
		}
		seen[lower] = struct{}{}

		tokens := strings.Fields(lower)
		concat := strings.Join(tokens, "")
		ix.terms = append(ix.terms, term{
			text:   text,
			lower:  lower,
			concat: concat,
			words:  len(tokens),
			codes:  codesFor(concat),
		})
		if len(tokens) > ix.maxWords {
			ix.maxWords = len(tokens)
		}
	}
	return ix
}

// Len returns the number of distinct terms.
func (ix *Index) Len() int {
	if ix == nil {
		return 0
	}
	return len(ix.terms)
}

// MaxWindow returns the longest phrase, in words, that can match any term.
// Zero means the index is empty.
func (ix *Index) MaxWindow() int {
	if ix.Len() == 0 {
		return 0
	}
	return ix.maxWords + maxExtraWords
}

// Terms returns the canonical spellings in insertion order.
func (ix *Index) Terms() []string {
	if ix == nil {
		return nil
	}
	out := make([]string, len(ix.terms))
	for i, t := range ix.terms {
		out[i] = t.text
	}
	return out
}

// Match is a convenience wrapper that prepares terms and calls
// [Matcher.MatchIndex]. Prefer MatchIndex when matching many phrases.
func (m *Matcher) Match(phrase string, terms []string) (corrected string, confidence float64, matched bool) {
	return m.MatchIndex(phrase, NewIndex(terms))
}

// MatchIndex finds the term most similar to phrase. When matched is false,
// corrected equals phrase and confidence is 0.
func (m *Matcher) MatchIndex(phrase string, ix *Index) (corrected string, confidence float64, matched bool) {
	if ix.Len() == 0 {
		return phrase, 0, false
	}
	tokens := strings.Fields(strings.ToLower(phrase))
	if len(tokens) == 0 {
		return phrase, 0, false
	}
	lower := strings.Join(tokens, " ")
	concat := strings.Join(tokens, "")
	if utf8.RuneCountInString(concat) < minPhraseRunes {
		return phrase, 0, false
	}
	codes := codesFor(concat)

	var (
		best      string
		bestScore float64
		bestPhon  bool
	)
	for i := range ix.terms {
		t := &ix.terms[i]
		if len(tokens) < t.words || len(tokens) > t.words+maxExtraWords {
			continue
		}
		phon := codesOverlap(codes, t.codes)
		if len(tokens) > t.words && (!phon || !similarLength(concat, t.concat)) {
			// Extra words are only accepted when they sound like a split
			// term; otherwise a neighbouring word would be swallowed.
			continue
		}
		score := similarity(lower, concat, t)
		if phon {
			if score >= m.phoneticThreshold && (!bestPhon || score > bestScore) {
				best, bestScore, bestPhon = t.text, score, true
			}
		} else if !bestPhon && score >= m.fuzzyThreshold && score > bestScore {
			best, bestScore = t.text, score
		}
	}
	if best == "" {
		return phrase, 0, false
	}
	return best, bestScore, true
}

// similarity is the better of the spaced and the space-stripped
// Jaro-Winkler scores, so "lie sino pril" can reach "lisinopril".
func similarity(lower, concat string, t *term) float64 {
	score := matchr.JaroWinkler(lower, t.lower, false)
	if concat != lower || t.concat != t.lower {
		if s := matchr.JaroWinkler(concat, t.concat, false); s > score {
			score = s
		}
	}
	return score
}

// similarLength reports whether a and b differ by at most a quarter of b's
// length, with a floor of two runes.
func similarLength(a, b string) bool {
	la, lb := utf8.RuneCountInString(a), utf8.RuneCountInString(b)
	diff := la - lb
	if diff < 0 {
		diff = -diff
	}
	return diff <= max(2, lb/4)
}

// codesFor returns the non-empty Double Metaphone codes of s.
func codesFor(s string) map[string]struct{} {
	codes := make(map[string]struct{}, 2)
	p, alt := matchr.DoubleMetaphone(s)
	if p != "" {
		codes[p] = struct{}{}
	}
	if alt != "" {
		codes[alt] = struct{}{}
	}
	return codes
}

func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}
