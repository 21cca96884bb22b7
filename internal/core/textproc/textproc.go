package textproc

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"
)

// Tokenize lowercases s and splits it on every rune that is neither a letter
// nor a digit.
func Tokenize(s string) []string {
	if s == "" {
		return nil
	}

	tokens := make([]string, 0, 16)
	var b strings.Builder
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		if b.Len() > 0 {
			tokens = append(tokens, b.String())
			b.Reset()
		}
	}
	if b.Len() > 0 {
		tokens = append(tokens, b.String())
	}
	return tokens
}

// ContentTokens is Tokenize without stop words.
func ContentTokens(s string) []string {
	tokens := Tokenize(s)
	out := tokens[:0]
	for _, token := range tokens {
		if IsStopWord(token) {
			continue
		}
		out = append(out, token)
	}
	return out
}

func TokenSet(tokens []string) map[string]struct{} {
	out := make(map[string]struct{}, len(tokens))
	for _, token := range tokens {
		out[token] = struct{}{}
	}
	return out
}

// Normalize lowercases s, drops punctuation and symbols, and collapses
// whitespace runs into a single space.
func Normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	pendingSpace := false
	for _, r := range s {
		switch {
		case unicode.IsSpace(r):
			pendingSpace = b.Len() > 0
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			continue
		default:
			if pendingSpace {
				b.WriteByte(' ')
				pendingSpace = false
			}
			b.WriteRune(unicode.ToLower(r))
		}
	}
	return b.String()
}

// CacheKey hashes the normalized query together with its scope. An empty
// scope is replaced by "general".
func CacheKey(query, scope string) string {
	if strings.TrimSpace(scope) == "" {
		scope = "general"
	}
	sum := sha256.Sum256([]byte(Normalize(query) + "\x00" + scope))
	return hex.EncodeToString(sum[:])[:32]
}

// Bigrams returns the set of adjacent rune pairs in s. Single-rune strings
// yield the rune itself so they remain comparable.
func Bigrams(s string) map[string]struct{} {
	runes := []rune(strings.ToLower(s))
	out := make(map[string]struct{}, len(runes))
	if len(runes) == 1 {
		out[string(runes)] = struct{}{}
		return out
	}
	for i := 0; i+1 < len(runes); i++ {
		out[string(runes[i:i+2])] = struct{}{}
	}
	return out
}

// BigramSimilarity is the Jaccard similarity of the character bigram sets of
// a and b.
func BigramSimilarity(a, b string) float64 {
	return Jaccard(Bigrams(a), Bigrams(b))
}

func Jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	small, large := a, b
	if len(small) > len(large) {
		small, large = large, small
	}
	inter := 0
	for k := range small {
		if _, ok := large[k]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// Overlap is the fraction of query tokens found in doc.
func Overlap(query, doc map[string]struct{}) float64 {
	if len(query) == 0 || len(doc) == 0 {
		return 0
	}
	matches := 0
	for token := range query {
		if _, ok := doc[token]; ok {
			matches++
		}
	}
	return float64(matches) / float64(len(query))
}
