// Package transcript corrects speech-to-text output against a configured
// clinical vocabulary before the transcript is summarized.
//
// Drug names, diagnoses and procedure names are frequently misheard
// ("metformine", "lie sino pril"). The [Corrector] slides n-gram windows over
// the transcript and replaces phrases that sound like a known term with the
// term's canonical spelling. Each [Correction] records the substitution so
// callers can log or audit it.
package transcript

import (
	"strings"
	"sync/atomic"
	"unicode"
	"unicode/utf8"

	"github.com/MrWong99/medscribe/internal/transcript/phonetic"
)

// MethodPhonetic is the [Correction.Method] of phonetic substitutions.
const MethodPhonetic = "phonetic"

// Correction captures a single phrase-level substitution.
type Correction struct {
	// Original is the phrase as produced by the STT provider, without
	// surrounding punctuation.
	Original string

	// Corrected is the vocabulary term that replaced Original.
	Corrected string

	// Confidence is the Jaro-Winkler similarity of the match (0.0–1.0).
	Confidence float64

	// Method names the stage that produced the substitution.
	Method string
}

type vocabulary struct {
	matcher *phonetic.Matcher
	index   *phonetic.Index
}

// Corrector rewrites misheard vocabulary terms. The vocabulary may be
// replaced at any time with [Corrector.SetVocabulary]; Correct always sees
// either the old or the new vocabulary in full.
//
// Corrector is safe for concurrent use.
type Corrector struct {
	vocab atomic.Pointer[vocabulary]
}

// NewCorrector returns a Corrector for terms. An empty term list yields a
// corrector that returns its input unchanged.
func NewCorrector(terms []string, opts ...phonetic.Option) *Corrector {
	c := &Corrector{}
	c.SetVocabulary(terms, opts...)
	return c
}

// SetVocabulary atomically replaces the vocabulary and matcher thresholds.
func (c *Corrector) SetVocabulary(terms []string, opts ...phonetic.Option) {
	c.vocab.Store(&vocabulary{
		matcher: phonetic.New(opts...),
		index:   phonetic.NewIndex(terms),
	})
}

// Terms returns the canonical spellings of the current vocabulary.
func (c *Corrector) Terms() []string {
	return c.vocab.Load().index.Terms()
}

// Correct returns text with misheard vocabulary replaced, along with the
// substitutions made. When nothing is replaced the original text is returned
// byte for byte.
//
// At each token the longest window that matches a term wins, so multi-word
// terms take precedence over single-word ones. Windows never span a token
// that ends in punctuation, keeping matches inside one clause.
func (c *Corrector) Correct(text string) (string, []Correction) {
	v := c.vocab.Load()
	maxWindow := v.index.MaxWindow()
	tokens := strings.Fields(text)
	if maxWindow == 0 || len(tokens) == 0 {
		return text, nil
	}

	var (
		output      = make([]string, 0, len(tokens))
		corrections []Correction
		changed     bool
	)
	for i := 0; i < len(tokens); {
		n, term, conf := v.longestMatch(tokens[i:], maxWindow)
		if n == 0 {
			output = append(output, tokens[i])
			i++
			continue
		}

		lead, _, _ := splitToken(tokens[i])
		_, _, trail := splitToken(tokens[i+n-1])
		phrase := phraseOf(tokens[i : i+n])
		output = append(output, lead+term+trail)
		if phrase != term {
			changed = true
			corrections = append(corrections, Correction{
				Original:   phrase,
				Corrected:  term,
				Confidence: conf,
				Method:     MethodPhonetic,
			})
		}
		i += n
	}

	if !changed {
		return text, nil
	}
	return strings.Join(output, " "), corrections
}

// longestMatch tries windows from maxWindow words down to one and returns
// the size of the first matching window, or 0.
func (v *vocabulary) longestMatch(tokens []string, maxWindow int) (n int, term string, conf float64) {
	limit := min(maxWindow, len(tokens))
	// Shrink the limit to the current clause.
	for j := 0; j < limit; j++ {
		lead, core, trail := splitToken(tokens[j])
		if core == "" || (j > 0 && lead != "") {
			limit = j
			break
		}
		if trail != "" {
			limit = j + 1
			break
		}
	}
	for n := limit; n >= 1; n-- {
		window := tokens[:n]
		term, conf, ok := v.matcher.MatchIndex(phraseOf(window), v.index)
		if ok {
			return n, term, conf
		}
	}
	return 0, "", 0
}

// phraseOf joins the punctuation-stripped cores of tokens.
func phraseOf(tokens []string) string {
	cores := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if _, core, _ := splitToken(t); core != "" {
			cores = append(cores, core)
		}
	}
	return strings.Join(cores, " ")
}

// splitToken separates leading and trailing punctuation from a token.
// Apostrophes and hyphens inside a word are part of the core.
func splitToken(tok string) (lead, core, trail string) {
	start := strings.IndexFunc(tok, isWordRune)
	if start < 0 {
		return tok, "", ""
	}
	end := strings.LastIndexFunc(tok, isWordRune)
	_, size := utf8.DecodeRuneInString(tok[end:])
	end += size
	return tok[:start], tok[start:end], tok[end:]
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}
