package confidence

import (
	"regexp"
	"strings"

	"github.com/kirillkom/adaptive-retrieval/internal/core/domain"
	"github.com/kirillkom/adaptive-retrieval/internal/core/textproc"
)

var (
	courseCodePattern = regexp.MustCompile(`\b[A-Za-z]{2,4}[ -]?\d{3,4}[A-Za-z]?\b`)
	weekRefPattern    = regexp.MustCompile(`(?i)\b(week|wk|chapter|ch|lecture|lec|module|unit|lab|assignment|hw|section)\s*#?\s*\d+\b`)
	technicalPattern  = regexp.MustCompile(`\bO\([^)]*\)|\b[A-Za-z_][A-Za-z0-9_]*\(\)|\b[a-z]+_[a-z_]+\b|\b[a-z]+[A-Z][A-Za-z]*\b`)
)

var genericPronouns = map[string]struct{}{
	"it": {}, "this": {}, "that": {}, "these": {}, "those": {}, "they": {}, "them": {},
	"something": {}, "stuff": {}, "thing": {}, "things": {}, "anything": {}, "everything": {},
}

var questionWords = map[string]struct{}{
	"what": {}, "how": {}, "why": {}, "when": {}, "where": {}, "which": {}, "who": {},
	"explain": {}, "describe": {}, "define": {}, "compare": {},
}

// ambiguousTerms are tokens too generic or polysemous to anchor a search.
var ambiguousTerms = map[string]struct{}{
	"it": {}, "this": {}, "that": {}, "thing": {}, "things": {}, "stuff": {}, "something": {},
	"work": {}, "works": {}, "use": {}, "used": {}, "do": {}, "get": {}, "make": {}, "problem": {},
	"question": {}, "help": {}, "example": {}, "way": {}, "issue": {}, "one": {}, "part": {}, "idea": {},
}

var technicalTerms = map[string]struct{}{
	"algorithm": {}, "algorithms": {}, "complexity": {}, "recursion": {}, "recursive": {}, "iteration": {},
	"quicksort": {}, "mergesort": {}, "heapsort": {}, "sorting": {}, "sort": {}, "search": {},
	"array": {}, "arrays": {}, "list": {}, "linked": {}, "stack": {}, "queue": {}, "heap": {}, "hash": {},
	"tree": {}, "trees": {}, "graph": {}, "graphs": {}, "node": {}, "nodes": {}, "vertex": {}, "edge": {},
	"binary": {}, "traversal": {}, "bfs": {}, "dfs": {}, "dijkstra": {}, "pointer": {}, "pointers": {},
	"function": {}, "functions": {}, "variable": {}, "class": {}, "object": {}, "inheritance": {},
	"polymorphism": {}, "interface": {}, "compiler": {}, "runtime": {}, "thread": {}, "threads": {},
	"concurrency": {}, "mutex": {}, "deadlock": {}, "database": {}, "sql": {}, "index": {}, "query": {},
	"python": {}, "java": {}, "javascript": {}, "golang": {}, "rust": {}, "haskell": {},
	"derivative": {}, "integral": {}, "matrix": {}, "vector": {}, "eigenvalue": {}, "probability": {},
	"theorem": {}, "proof": {}, "lemma": {}, "regression": {}, "gradient": {}, "neural": {}, "network": {},
	"protocol": {}, "tcp": {}, "http": {}, "cache": {}, "memory": {}, "insertion": {}, "deletion": {},
	"dynamic": {}, "programming": {}, "greedy": {}, "big": {},
}

func (s *Scorer) lexicalFeatures(query string, tokens []string) domain.LexicalFeatures {
	w := s.cfg.Lexical
	f := domain.LexicalFeatures{TokenCount: len(tokens)}

	f.HasCourseCode = courseCodePattern.MatchString(query)
	f.HasWeekReference = weekRefPattern.MatchString(query)
	f.HasTechnicalTerms = technicalPattern.MatchString(query)

	pronouns := 0
	questions := 0
	for _, token := range tokens {
		if _, ok := genericPronouns[token]; ok {
			pronouns++
		}
		if _, ok := questionWords[token]; ok {
			questions++
		}
		if _, ok := technicalTerms[token]; ok {
			f.HasTechnicalTerms = true
		}
	}
	f.QuestionWordCount = questions
	if len(tokens) > 0 {
		f.GenericPronounRatio = float64(pronouns) / float64(len(tokens))
	}
	f.IsCompleteSentence = isCompleteSentence(query, tokens)

	score := w.Length * min(float64(len(tokens))/float64(w.LengthSaturation), 1)
	if f.HasCourseCode {
		score += w.CourseCode
	}
	if f.HasWeekReference {
		score += w.WeekReference
	}
	if f.HasTechnicalTerms {
		score += w.TechnicalTerms
	}
	score += w.QuestionWords * float64(min(questions, 2)) / 2
	if f.IsCompleteSentence {
		score += w.CompleteSentence
	}
	score -= w.PronounPenalty * f.GenericPronounRatio

	f.SubScore = clamp(score, 0, 100)
	f.Specificity = f.SubScore / 100
	return f
}

func isCompleteSentence(query string, tokens []string) bool {
	if len(tokens) < 4 {
		return false
	}
	trimmed := strings.TrimSpace(query)
	switch trimmed[len(trimmed)-1] {
	case '?', '.', '!':
		return true
	}
	_, ok := questionWords[tokens[0]]
	return ok
}

func (s *Scorer) semanticFeatures(tokens []string, keywords map[string]struct{}) domain.SemanticFeatures {
	w := s.cfg.Semantic
	f := domain.SemanticFeatures{}

	content := make([]string, 0, len(tokens))
	ambiguous := 0
	for _, token := range tokens {
		if _, ok := ambiguousTerms[token]; ok {
			ambiguous++
		}
		if !textproc.IsStopWord(token) {
			content = append(content, token)
		}
	}
	if len(tokens) > 0 {
		f.Ambiguity = float64(ambiguous) / float64(len(tokens))
	}

	matched := make(map[string]struct{}, len(content))
	hits := 0
	for _, token := range content {
		if _, ok := keywords[token]; ok {
			hits++
			matched[token] = struct{}{}
		}
	}
	if len(content) > 0 {
		f.KeywordCoverage = float64(hits) / float64(len(content))
	}
	f.MatchedKeywords = len(matched)
	f.TopicFocus = float64(min(f.MatchedKeywords, w.FocusCap)) / float64(w.FocusCap)

	f.SubScore = clamp(w.Coverage*f.KeywordCoverage+w.Focus*f.TopicFocus+w.Clarity*(1-f.Ambiguity), 0, 100)
	return f
}

func (s *Scorer) historicalFeatures(tokens []string, history []domain.HistoricalQuery) domain.HistoricalFeatures {
	w := s.cfg.Historical
	f := domain.HistoricalFeatures{}

	current := textproc.TokenSet(contentOnly(tokens))
	relevanceSum := 0.0
	for _, past := range history {
		sim := textproc.Jaccard(current, textproc.TokenSet(textproc.ContentTokens(past.Query)))
		if sim >= w.TopicThreshold && sim > 0 {
			f.HasQueriedTopic = true
		}
		if !past.Successful {
			continue
		}
		if sim > f.MaxSimilarity {
			f.MaxSimilarity = sim
		}
		if sim >= w.SimilarityThreshold {
			f.SimilarCount++
			relevanceSum += clamp(past.AvgRelevance, 0, 1)
		}
	}
	if f.SimilarCount > 0 {
		f.AverageRelevance = relevanceSum / float64(f.SimilarCount)
	}

	score := w.Similarity*f.MaxSimilarity +
		w.Count*min(float64(f.SimilarCount)/float64(w.CountCap), 1) +
		w.Relevance*f.AverageRelevance
	if f.HasQueriedTopic {
		score += w.Topic
	}
	f.SubScore = clamp(score, 0, 100)
	return f
}

func contentOnly(tokens []string) []string {
	out := make([]string, 0, len(tokens))
	for _, token := range tokens {
		if !textproc.IsStopWord(token) {
			out = append(out, token)
		}
	}
	return out
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
