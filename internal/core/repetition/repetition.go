// Package repetition detects degenerate loops in model output. Vision
// models occasionally lock onto a phrase and emit it forever; the scan
// pipeline runs this detector once over the finished text and truncates
// at the first repeat boundary instead of failing the run.
package repetition

import "strings"

const (
	// DefaultWindow bounds how far back from the tail the scan looks.
	DefaultWindow = 4000

	// Phrase lengths scanned. Shorter phrases repeat legitimately in
	// normal prose; longer ones than MaxPhraseLen are covered by their
	// own substrings.
	MinPhraseLen = 20
	MaxPhraseLen = 200
)

// Detector scans a bounded trailing window of text for repeated
// phrases. The zero value is not usable; use New.
type Detector struct {
	window       int
	minPhraseLen int
	maxPhraseLen int
}

func New() *Detector {
	return &Detector{
		window:       DefaultWindow,
		minPhraseLen: MinPhraseLen,
		maxPhraseLen: MaxPhraseLen,
	}
}

// NewWithWindow is used by tests to exercise small windows.
func NewWithWindow(window, minPhrase, maxPhrase int) *Detector {
	return &Detector{window: window, minPhraseLen: minPhrase, maxPhraseLen: maxPhrase}
}

// Find reports the truncation cut for text. A phrase taken from the
// tail is "repeated" if an equal substring occurs earlier inside the
// trailing window; the cut lands just past the earliest such
// occurrence, so the first copy of the pattern is kept and everything
// repeating it is dropped. Returns (0, false) when no repetition is
// found.
func (d *Detector) Find(text string) (cut int, found bool) {
	base := 0
	window := text
	if len(text) > d.window {
		base = len(text) - d.window
		window = text[base:]
	}

	best := -1
	for phraseLen := d.minPhraseLen; phraseLen <= d.maxPhraseLen; phraseLen++ {
		if len(window) < 2*phraseLen {
			break
		}
		tail := window[len(window)-phraseLen:]
		idx := strings.Index(window[:len(window)-phraseLen], tail)
		if idx < 0 {
			continue
		}
		candidate := base + idx + phraseLen
		if best < 0 || candidate < best {
			best = candidate
		}
	}

	if best < 0 || best >= len(text) {
		return 0, false
	}
	return best, true
}

// Truncate applies Find and returns text cut at the repeat boundary,
// or unchanged text when no repetition exists.
func (d *Detector) Truncate(text string) string {
	cut, found := d.Find(text)
	if !found {
		return text
	}
	return text[:cut]
}
