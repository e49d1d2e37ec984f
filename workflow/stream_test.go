package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCharStream_PullsOneCharacterAtATime(t *testing.T) {
	s := newCharStream("héllo")

	var got []rune
	for {
		r, ok := s.Next()
		if !ok {
			break
		}
		got = append(got, r)
	}
	assert.Equal(t, []rune{'h', 'é', 'l', 'l', 'o'}, got)

	_, ok := s.Next()
	assert.False(t, ok, "an exhausted stream stays exhausted")
	assert.Equal(t, "", s.Collect())
}

func TestCharStream_IteratorStopsEarly(t *testing.T) {
	s := newCharStream("abcdef")

	var head []rune
	for r := range s.Chars() {
		head = append(head, r)
		if len(head) == 2 {
			break
		}
	}
	assert.Equal(t, []rune{'a', 'b'}, head)
	assert.Equal(t, "cdef", s.Collect(), "the remainder is still available")
}

func TestCharStream_Empty(t *testing.T) {
	s := newCharStream("")
	_, ok := s.Next()
	assert.False(t, ok)
}
