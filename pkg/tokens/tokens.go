package tokens

import (
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// Encoding is the tokenizer used for prompt budgets.
const Encoding = "cl100k_base"

var (
	tk     *tiktoken.Tiktoken
	tkErr  error
	tkOnce sync.Once
)

func getTokenizer() (*tiktoken.Tiktoken, error) {
	tkOnce.Do(func() {
		tk, tkErr = tiktoken.GetEncoding(Encoding)
	})
	return tk, tkErr
}

// Count returns the token count of text, or a rune based estimate when the
// encoding cannot be loaded.
func Count(text string) int {
	enc, err := getTokenizer()
	if err != nil {
		return estimate(text)
	}
	return len(enc.Encode(text, nil, nil))
}

// Truncate cuts text to at most maxTokens tokens. The bool reports whether
// anything was cut. Without an encoding, text is cut at four runes per token.
func Truncate(text string, maxTokens int) (string, bool) {
	if maxTokens <= 0 {
		return "", text != ""
	}

	enc, err := getTokenizer()
	if err != nil {
		return truncateRunes(text, maxTokens*4)
	}

	ids := enc.Encode(text, nil, nil)
	if len(ids) <= maxTokens {
		return text, false
	}
	return strings.TrimSpace(enc.Decode(ids[:maxTokens])), true
}

func estimate(text string) int {
	n := len([]rune(text))
	return (n + 3) / 4
}

func truncateRunes(text string, maxRunes int) (string, bool) {
	runes := []rune(text)
	if len(runes) <= maxRunes {
		return text, false
	}
	return strings.TrimSpace(string(runes[:maxRunes])), true
}
