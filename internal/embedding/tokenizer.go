package embedding

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"unicode"
)

// CLIP special tokens. Padding reuses the end token.
const (
	clipStartToken int64 = 49406
	clipEndToken   int64 = 49407
)

// Tokenizer produces token IDs for CLIP-style text encoders (input_ids, attention_mask).
type Tokenizer interface {
	Tokenize(text string, maxTokens int) (inputIDs, attentionMask []int64)
}

// SimpleTokenizer is a word-split tokenizer with hash-based token IDs (for testing or fallback).
type SimpleTokenizer struct{}

// Tokenize splits text into words and produces padded token IDs up to maxTokens.
func (t *SimpleTokenizer) Tokenize(text string, maxTokens int) (inputIDs, attentionMask []int64) {
	words := SplitWords(text)
	ids := make([]int64, 0, len(words))
	for _, w := range words {
		ids = append(ids, int64(HashString(w)%int(clipStartToken-1))+1)
	}
	return frame(ids, maxTokens)
}

// VocabTokenizer maps words to ids from a CLIP vocab.json. Whole words are
// looked up with the "</w>" end-of-word suffix; words missing from the
// vocabulary fall back to one token per character.
type VocabTokenizer struct {
	vocab map[string]int64
}

// LoadVocabTokenizer reads a vocab.json mapping token strings to ids.
func LoadVocabTokenizer(path string) (*VocabTokenizer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read vocab: %w", err)
	}
	var vocab map[string]int64
	if err := json.Unmarshal(data, &vocab); err != nil {
		return nil, fmt.Errorf("failed to parse vocab: %w", err)
	}
	if len(vocab) == 0 {
		return nil, fmt.Errorf("vocab %s is empty", path)
	}
	return &VocabTokenizer{vocab: vocab}, nil
}

// Tokenize looks up each word and produces padded token IDs up to maxTokens.
func (t *VocabTokenizer) Tokenize(text string, maxTokens int) (inputIDs, attentionMask []int64) {
	var ids []int64
	for _, w := range SplitWords(text) {
		if id, ok := t.vocab[w+"</w>"]; ok {
			ids = append(ids, id)
			continue
		}
		runes := []rune(w)
		for i, r := range runes {
			tok := string(r)
			if i == len(runes)-1 {
				tok += "</w>"
			}
			if id, ok := t.vocab[tok]; ok {
				ids = append(ids, id)
			}
		}
	}
	return frame(ids, maxTokens)
}

// frame wraps ids in start/end tokens, truncates to maxTokens and pads.
func frame(ids []int64, maxTokens int) (inputIDs, attentionMask []int64) {
	if maxTokens <= 2 {
		maxTokens = 77
	}
	inputIDs = make([]int64, maxTokens)
	attentionMask = make([]int64, maxTokens)

	inputIDs[0] = clipStartToken
	attentionMask[0] = 1
	pos := 1
	for _, id := range ids {
		if pos >= maxTokens-1 {
			break
		}
		inputIDs[pos] = id
		attentionMask[pos] = 1
		pos++
	}
	inputIDs[pos] = clipEndToken
	attentionMask[pos] = 1
	for i := pos + 1; i < maxTokens; i++ {
		inputIDs[i] = clipEndToken
	}
	return inputIDs, attentionMask
}

// SplitWords lowercases text and splits it into runs of letters and digits;
// every other non-space rune becomes its own word.
func SplitWords(text string) []string {
	var words []string
	var word strings.Builder
	flush := func() {
		if word.Len() > 0 {
			words = append(words, word.String())
			word.Reset()
		}
	}
	for _, r := range strings.ToLower(text) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			word.WriteRune(r)
		case unicode.IsSpace(r):
			flush()
		default:
			flush()
			words = append(words, string(r))
		}
	}
	flush()
	return words
}

// HashString returns a deterministic non-negative hash.
func HashString(s string) int {
	h := 0
	for _, c := range s {
		h = 31*h + int(c)
	}
	if h < 0 {
		h = -h
	}
	if h < 0 {
		h = 0
	}
	return h
}
