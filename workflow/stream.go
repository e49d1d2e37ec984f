package workflow

import (
	"iter"
	"strings"
	"sync"
	"unicode/utf8"
)

// CharStream delivers a completed final output one character at a time.
// It is pull-based and can be consumed once.
type CharStream struct {
	mu   sync.Mutex
	text string
	pos  int
}

func newCharStream(text string) *CharStream {
	return &CharStream{text: text}
}

// Next returns the next character, or false once the stream is exhausted.
func (s *CharStream) Next() (rune, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pos >= len(s.text) {
		return 0, false
	}
	r, size := utf8.DecodeRuneInString(s.text[s.pos:])
	s.pos += size
	return r, true
}

// Chars returns an iterator over the remaining characters. Breaking out of
// the loop leaves the rest of the stream unconsumed.
func (s *CharStream) Chars() iter.Seq[rune] {
	return func(yield func(rune) bool) {
		for {
			r, ok := s.Next()
			if !ok || !yield(r) {
				return
			}
		}
	}
}

// Collect drains the remaining characters into a string.
func (s *CharStream) Collect() string {
	var b strings.Builder
	for r := range s.Chars() {
		b.WriteRune(r)
	}
	return b.String()
}
