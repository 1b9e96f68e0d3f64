package token

import (
	"strconv"
	"strings"
)

const (
	customPrefix = "<custom_token_"

	// customOffset is subtracted from every custom token number before the
	// per-position codebook offset.
	customOffset = 10

	// codebookStride separates the ID ranges of consecutive frame positions.
	codebookStride = 4096

	framePositions = 7

	// maxDigits bounds how long an unterminated token may sit in the buffer.
	maxDigits = 12
)

// Parser extracts codec token IDs from streamed model text. Text may be split
// anywhere, including in the middle of a "<custom_token_N>" tag; the parser
// buffers the incomplete tail until the next Feed.
//
// The raw number N maps to N - 10 - (i%7)*4096, where i counts IDs emitted so
// far. Tags that map below zero are dropped without advancing i. IDs above
// the codec range are passed through; range checks belong to the decoder.
//
// The zero value is ready to use. A Parser is not safe for concurrent use.
type Parser struct {
	pending string
	emitted int
}

// Emitted returns the number of IDs emitted so far.
func (p *Parser) Emitted() int { return p.emitted }

// Feed appends text and calls emit for every complete tag it now contains. It
// stops and returns false as soon as emit does.
func (p *Parser) Feed(text string, emit func(id int) bool) bool {
	p.pending += text
	for {
		i := strings.Index(p.pending, customPrefix)
		if i < 0 {
			p.pending = prefixTail(p.pending)
			return true
		}
		rest := p.pending[i+len(customPrefix):]
		j := strings.IndexByte(rest, '>')
		if j < 0 {
			if len(rest) > maxDigits {
				// Not a real tag; skip past its '<'.
				p.pending = p.pending[i+1:]
				continue
			}
			p.pending = p.pending[i:]
			return true
		}
		digits := rest[:j]
		if k := strings.LastIndex(digits, customPrefix); k >= 0 {
			// A truncated tag; resume at the tag that follows it.
			p.pending = rest[k:]
			continue
		}
		p.pending = rest[j+1:]

		n, err := strconv.Atoi(digits)
		if err != nil {
			continue
		}
		id := n - customOffset - (p.emitted%framePositions)*codebookStride
		if id < 0 {
			continue
		}
		p.emitted++
		if !emit(id) {
			return false
		}
	}
}

// prefixTail returns the longest suffix of s that could still grow into
// customPrefix.
func prefixTail(s string) string {
	for k := min(len(s), len(customPrefix)-1); k > 0; k-- {
		if strings.HasPrefix(customPrefix, s[len(s)-k:]) {
			return s[len(s)-k:]
		}
	}
	return ""
}
