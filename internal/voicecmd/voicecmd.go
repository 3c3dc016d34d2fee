// Package voicecmd implements spoken control-command detection on final
// transcripts. It lets the button-free capture loop be driven by voice:
// phrases like "stop listening" suspend the session and "start listening"
// resumes it.
//
// Whisper-style transcribers routinely mangle short command phrases
// ("stop listening" arrives as "stopped listening" or "stop, listen ink"),
// so exact string matching is not enough. The matcher runs in two stages:
//
//  1. Phonetic gating: Double Metaphone codes are computed for every token
//     of the transcript window and the command phrase. A window is only a
//     candidate when at least one code overlaps.
//  2. Jaro-Winkler ranking: candidates are scored with Jaro-Winkler
//     similarity on the normalised strings and accepted above a
//     configurable threshold.
//
// The command phrase may appear anywhere inside the utterance; the matcher
// slides a token window of the phrase length across the transcript.
package voicecmd

import (
	"strings"

	"github.com/antzucaro/matchr"
)

// Command identifies a recognised spoken control command.
type Command int

const (
	// CommandNone means the transcript contains no control command.
	CommandNone Command = iota

	// CommandStop suspends audio capture ("stop listening").
	CommandStop

	// CommandStart resumes audio capture ("start listening").
	CommandStart
)

// String returns the human-readable name of the command.
func (c Command) String() string {
	switch c {
	case CommandStop:
		return "stop"
	case CommandStart:
		return "start"
	default:
		return "none"
	}
}

const defaultThreshold = 0.82

// Option is a functional option for configuring a [Matcher].
type Option func(*Matcher)

// WithThreshold sets the minimum Jaro-Winkler score required for a
// phonetically gated candidate to be accepted. Default: 0.82.
func WithThreshold(threshold float64) Option {
	return func(m *Matcher) { m.threshold = threshold }
}

// WithStopPhrases replaces the default stop-command phrases.
func WithStopPhrases(phrases ...string) Option {
	return func(m *Matcher) { m.stopPhrases = phrases }
}

// WithStartPhrases replaces the default start-command phrases.
func WithStartPhrases(phrases ...string) Option {
	return func(m *Matcher) { m.startPhrases = phrases }
}

// Matcher detects control commands in transcripts. It is read-only after
// construction and safe for concurrent use.
type Matcher struct {
	threshold    float64
	stopPhrases  []string
	startPhrases []string
}

// New returns a [Matcher] with the default phrases and threshold.
func New(opts ...Option) *Matcher {
	m := &Matcher{
		threshold:    defaultThreshold,
		stopPhrases:  []string{"stop listening", "go to sleep", "stop recording"},
		startPhrases: []string{"start listening", "wake up", "start recording"},
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Match checks transcript for a control command. It returns the detected
// command and the similarity score of the winning phrase; (CommandNone, 0)
// when nothing clears the threshold. When both a stop and a start phrase
// clear the threshold, the higher-scoring one wins.
func (m *Matcher) Match(transcript string) (Command, float64) {
	tokens := normalize(transcript)
	if len(tokens) == 0 {
		return CommandNone, 0
	}

	stopScore := m.bestPhraseScore(tokens, m.stopPhrases)
	startScore := m.bestPhraseScore(tokens, m.startPhrases)

	switch {
	case stopScore >= m.threshold && stopScore >= startScore:
		return CommandStop, stopScore
	case startScore >= m.threshold:
		return CommandStart, startScore
	default:
		return CommandNone, 0
	}
}

// bestPhraseScore returns the highest window score of any phrase.
func (m *Matcher) bestPhraseScore(tokens []string, phrases []string) float64 {
	var best float64
	for _, phrase := range phrases {
		ptokens := normalize(phrase)
		if len(ptokens) == 0 {
			continue
		}
		if s := windowScore(tokens, ptokens); s > best {
			best = s
		}
	}
	return best
}

// windowScore slides a window of the phrase length across the transcript
// tokens and returns the best phonetically gated alignment score: the mean
// Jaro-Winkler similarity of position-aligned token pairs. Aligning per
// token keeps a single shared word ("listening") from carrying a whole
// phrase, which whole-string Jaro-Winkler is prone to.
func windowScore(tokens, ptokens []string) float64 {
	if len(tokens) < len(ptokens) {
		return 0
	}
	phraseCodes := codesForTokens(ptokens)
	width := len(ptokens)

	var best float64
	for start := 0; start+width <= len(tokens); start++ {
		window := tokens[start : start+width]
		if !codesOverlap(codesForTokens(window), phraseCodes) {
			continue
		}

		var sum float64
		for i := range ptokens {
			sum += matchr.JaroWinkler(window[i], ptokens[i], false)
		}
		if score := sum / float64(width); score > best {
			best = score
		}
	}
	return best
}

// normalize lowercases text and strips everything but letters, digits, and
// spaces, returning the remaining tokens.
func normalize(text string) []string {
	mapped := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == ' ':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		default:
			return -1
		}
	}, text)
	return strings.Fields(mapped)
}

// codesForTokens returns the union of all Double Metaphone codes for the
// given tokens. Empty codes are excluded.
func codesForTokens(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

// codesOverlap returns true if the two code sets share at least one code.
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
