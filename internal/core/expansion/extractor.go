package expansion

import (
	"math"
	"sort"
	"unicode"
	"unicode/utf8"

	"github.com/kirillkom/adaptive-retrieval/internal/core/domain"
	"github.com/kirillkom/adaptive-retrieval/internal/core/textproc"
)

// Extractor mines candidate terms from pseudo-relevant documents.
type Extractor struct {
	minLen int
	maxLen int
	window int
}

func NewExtractor(cfg Config) *Extractor {
	return &Extractor{minLen: cfg.MinTermLength, maxLen: cfg.MaxTermLength, window: cfg.CooccurrenceWindow}
}

type candidate struct {
	term    string
	tf      int
	sources []string
	seenIn  map[string]struct{}
	context map[string]struct{}
}

// ExtractTerms scores every eligible term of docs by tf*idf normalized to
// [0,1]. IDF comes from stats; when stats is empty the pseudo-relevant set
// itself is used as the corpus.
func (e *Extractor) ExtractTerms(query string, docs []domain.RetrievalResult, stats domain.CorpusStats, method domain.ExtractionMethod) []domain.ExpansionTerm {
	if len(docs) == 0 {
		return []domain.ExpansionTerm{}
	}
	queryTokens := textproc.TokenSet(textproc.Tokenize(query))
	queryContent := textproc.TokenSet(textproc.ContentTokens(query))
	biased := method == domain.MethodQueryBiased

	byTerm := make(map[string]*candidate)
	order := make([]string, 0, 64)
	for _, doc := range docs {
		tokens := textproc.Tokenize(doc.Content)
		for i, token := range tokens {
			if !e.eligible(token, queryTokens) {
				continue
			}
			c, ok := byTerm[token]
			if !ok {
				c = &candidate{term: token, seenIn: make(map[string]struct{}, 2)}
				if biased {
					c.context = make(map[string]struct{}, 2*e.window)
				}
				byTerm[token] = c
				order = append(order, token)
			}
			c.tf++
			if _, seen := c.seenIn[doc.DocumentID]; !seen {
				c.seenIn[doc.DocumentID] = struct{}{}
				c.sources = append(c.sources, doc.DocumentID)
			}
			if biased {
				lo := max(0, i-e.window)
				hi := min(len(tokens), i+e.window+1)
				for _, neighbor := range tokens[lo:hi] {
					if neighbor != token && !textproc.IsStopWord(neighbor) {
						c.context[neighbor] = struct{}{}
					}
				}
			}
		}
	}
	if len(byTerm) == 0 {
		return []domain.ExpansionTerm{}
	}

	terms := make([]domain.ExpansionTerm, 0, len(byTerm))
	maxRaw := 0.0
	for _, term := range order {
		c := byTerm[term]
		raw := float64(c.tf) * idf(stats, c, len(docs))
		if raw > maxRaw {
			maxRaw = raw
		}
		terms = append(terms, domain.ExpansionTerm{
			Term:            term,
			SourceDocuments: c.sources,
			Frequency:       c.tf,
			TFIDF:           raw,
		})
	}

	maxScore := 0.0
	for i := range terms {
		score := 0.0
		if maxRaw > 0 {
			score = terms[i].TFIDF / maxRaw
		}
		if biased {
			score *= 1 + textproc.Jaccard(byTerm[terms[i].Term].context, queryContent)
		}
		terms[i].Score = score
		if score > maxScore {
			maxScore = score
		}
	}
	if biased && maxScore > 0 {
		for i := range terms {
			terms[i].Score /= maxScore
		}
	}

	sort.SliceStable(terms, func(i, j int) bool {
		if terms[i].Score != terms[j].Score {
			return terms[i].Score > terms[j].Score
		}
		return terms[i].Term < terms[j].Term
	})
	return terms
}

func (e *Extractor) eligible(token string, queryTokens map[string]struct{}) bool {
	n := utf8.RuneCountInString(token)
	if n < e.minLen || n > e.maxLen {
		return false
	}
	if textproc.IsStopWord(token) {
		return false
	}
	if _, inQuery := queryTokens[token]; inQuery {
		return false
	}
	for _, r := range token {
		if unicode.IsLetter(r) {
			return true
		}
	}
	return false
}

// idf is ln((N+1)/(df+1)) + 1.
func idf(stats domain.CorpusStats, c *candidate, pseudoDocs int) float64 {
	n := stats.DocumentCount
	df := stats.DF(c.term)
	if n <= 0 {
		n = pseudoDocs
		df = len(c.sources)
	}
	return math.Log(float64(n+1)/float64(df+1)) + 1
}
