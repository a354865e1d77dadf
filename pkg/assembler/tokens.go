package assembler

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter estimates how many model tokens a text costs.
type TokenCounter interface {
	Count(text string) int
}

// HeuristicCounter estimates roughly four characters per token and never
// fewer tokens than words and punctuation marks.
type HeuristicCounter struct{}

// NewHeuristicCounter creates a HeuristicCounter.
func NewHeuristicCounter() HeuristicCounter {
	return HeuristicCounter{}
}

func (HeuristicCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	words := 0
	inWord := false
	for _, r := range text {
		switch {
		case unicode.IsSpace(r):
			inWord = false
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			words++
			inWord = false
		default:
			if !inWord {
				words++
				inWord = true
			}
		}
	}
	byChars := (utf8.RuneCountInString(text) + 3) / 4
	if words > byChars {
		return words
	}
	return byChars
}

// TiktokenCounter counts tokens with a tiktoken BPE encoding.
type TiktokenCounter struct {
	enc *tiktoken.Tiktoken
}

// NewTiktokenCounter loads the named encoding, e.g. "cl100k_base".
func NewTiktokenCounter(encoding string) (*TiktokenCounter, error) {
	if encoding == "" {
		encoding = "cl100k_base"
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("failed to get encoding %s: %w", encoding, err)
	}
	return &TiktokenCounter{enc: enc}, nil
}

func (t *TiktokenCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	return len(t.enc.Encode(text, nil, nil))
}

// NewCounter returns the counter for encoding, falling back to the
// heuristic when encoding is "heuristic" or cannot be loaded.
func NewCounter(encoding string) (TokenCounter, error) {
	if encoding == "heuristic" {
		return NewHeuristicCounter(), nil
	}
	tc, err := NewTiktokenCounter(encoding)
	if err != nil {
		return NewHeuristicCounter(), err
	}
	return tc, nil
}

const ellipsis = " …"

// truncateToFit returns the longest word prefix of text, plus an ellipsis,
// that costs at most limit tokens. It returns "" when nothing fits.
func truncateToFit(counter TokenCounter, text string, limit int) string {
	if limit <= 0 {
		return ""
	}
	if counter.Count(text) <= limit {
		return text
	}
	words := strings.Fields(text)
	lo, hi := 0, len(words)
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if counter.Count(strings.Join(words[:mid], " ")+ellipsis) <= limit {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	if lo == 0 {
		return ""
	}
	return strings.Join(words[:lo], " ") + ellipsis
}
