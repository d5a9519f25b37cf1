// Package chunk turns extracted blocks into retrievable chunks under
// one of five strategies: general, context enrichment, hierarchy,
// parent-child retrieval, and symbol splitting.
package chunk

import (
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

var (
	encOnce sync.Once
	enc     *tiktoken.Tiktoken
)

// CountTokens counts BPE tokens with cl100k_base. When the encoding
// cannot be loaded (offline first run), approximate as 1.3 tokens per
// whitespace word.
func CountTokens(text string) int {
	if text == "" {
		return 0
	}
	encOnce.Do(func() {
		e, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			enc = e
		}
	})
	if enc != nil {
		return len(enc.Encode(text, nil, nil))
	}
	n := len(strings.Fields(text))
	approx := int(float64(n) * 1.3)
	if approx < 1 {
		approx = 1
	}
	return approx
}

// splitWords is the whitespace tokenisation used for window slicing.
func splitWords(text string) []string {
	return strings.Fields(text)
}

// tailWords returns the last n whitespace tokens joined by spaces.
func tailWords(text string, n int) string {
	words := splitWords(text)
	if len(words) <= n {
		return strings.Join(words, " ")
	}
	return strings.Join(words[len(words)-n:], " ")
}

// headWords returns the first n whitespace tokens joined by spaces.
func headWords(text string, n int) string {
	words := splitWords(text)
	if len(words) <= n {
		return strings.Join(words, " ")
	}
	return strings.Join(words[:n], " ")
}
