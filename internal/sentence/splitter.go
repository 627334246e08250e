// Package sentence implements the sentence splitter of spec §4.4: an
// accumulator that scans token deltas for sentence boundaries, guarding
// against common abbreviations and too-short fragments. Grounded on the
// gateway's sentenceBuffer/splitAtSentence, extended with the
// abbreviation and minimum-length guards that version omits.
package sentence

import "strings"

var enders = map[byte]bool{'.': true, '!': true, '?': true}

// abbreviations that must not be treated as a sentence boundary even
// though they end in a period.
var abbreviations = []string{
	"mr.", "mrs.", "dr.", "st.", "e.g.", "i.e.", "jr.", "sr.", "vs.", "ms.",
}

const minSentenceLength = 8

// Buffer accumulates token deltas and yields complete sentences as soon
// as a genuine boundary is found.
type Buffer struct {
	acc strings.Builder
}

// Add appends a token delta and returns a complete sentence if the
// accumulator now contains one, trimmed of surrounding whitespace. It
// returns ("", false) if no boundary has been reached yet.
func (b *Buffer) Add(delta string) (string, bool) {
	b.acc.WriteString(delta)
	text := b.acc.String()

	idx := findBoundary(text, false)
	if idx < 0 {
		return "", false
	}

	sentence := strings.TrimSpace(text[:idx+1])
	remainder := text[idx+1:]
	b.acc.Reset()
	b.acc.WriteString(remainder)
	return sentence, true
}

// Flush returns any residual text as a final sentence, bypassing the
// minimum-length guard (end-of-stream always flushes whatever remains).
func (b *Buffer) Flush() (string, bool) {
	text := strings.TrimSpace(b.acc.String())
	b.acc.Reset()
	if text == "" {
		return "", false
	}
	return text, true
}

// findBoundary scans text for the first position of a sentence-ending
// punctuation run followed by whitespace (or end-of-string, when
// allowEOS is set), or a bare newline, skipping abbreviations and
// sub-minimum fragments. It returns the index of the boundary character,
// or -1 if none found.
func findBoundary(text string, allowEOS bool) int {
	for i := 0; i < len(text); i++ {
		if text[i] == '\n' {
			if len(strings.TrimSpace(text[:i+1])) < minSentenceLength {
				continue
			}
			if endsInAbbreviation(text[:i+1]) {
				continue
			}
			return i
		}

		if !enders[text[i]] {
			continue
		}
		// Extend through a run of punctuation (e.g. "?!" or "...").
		j := i
		for j+1 < len(text) && enders[text[j+1]] {
			j++
		}

		followedByBoundary := j+1 >= len(text) && allowEOS
		if j+1 < len(text) && isWordBoundary(text[j+1]) {
			followedByBoundary = true
		}
		if !followedByBoundary {
			continue
		}

		if len(strings.TrimSpace(text[:j+1])) < minSentenceLength {
			i = j
			continue
		}

		if endsInAbbreviation(text[:j+1]) {
			i = j
			continue
		}

		return j
	}
	return -1
}

func isWordBoundary(b byte) bool {
	return b == ' ' || b == '\n' || b == '\t'
}

func endsInAbbreviation(text string) bool {
	lower := strings.ToLower(text)
	for _, abbr := range abbreviations {
		if strings.HasSuffix(lower, abbr) {
			return true
		}
	}
	return false
}
