// Package classify implements the lightweight keyword, summary and
// category heuristics for cataloged documents. It is a plain service
// object so the engine can swap in a smarter classifier later.
package classify

import (
	"regexp"
	"sort"
	"strings"
)

const (
	maxKeywords      = 8
	maxSummarySents  = 4
	titleBoost       = 3
	minKeywordLength = 4
)

var (
	wordPattern     = regexp.MustCompile(`[a-zA-Z][a-zA-Z\-]{2,}`)
	sentencePattern = regexp.MustCompile(`[^.!?]+[.!?]?`)
)

// stopwords that would otherwise dominate frequency counts.
var stopwords = map[string]struct{}{
	"about": {}, "above": {}, "after": {}, "again": {}, "also": {},
	"been": {}, "before": {}, "being": {}, "between": {}, "both": {},
	"because": {}, "each": {}, "from": {}, "further": {}, "have": {},
	"having": {}, "here": {}, "into": {}, "more": {}, "most": {},
	"other": {}, "over": {}, "same": {}, "should": {}, "some": {},
	"such": {}, "than": {}, "that": {}, "their": {}, "them": {},
	"then": {}, "there": {}, "these": {}, "they": {}, "this": {},
	"those": {}, "through": {}, "under": {}, "until": {}, "very": {},
	"well": {}, "were": {}, "what": {}, "when": {}, "where": {},
	"which": {}, "while": {}, "will": {}, "with": {}, "would": {},
	"your": {},
}

// Rule maps trigger terms to a category label. Rules are evaluated in
// order; the first match wins.
type Rule struct {
	Category string
	Terms    []string
}

// Config tunes the heuristics.
type Config struct {
	// RelevanceTerms gate documents into the catalog. Empty means
	// everything is relevant.
	RelevanceTerms []string
	// CategoryRules override the built-in rule list when non-empty.
	CategoryRules []Rule
}

// Service computes keywords, summaries and categories from extracted text.
type Service struct {
	relevanceTerms []string
	rules          []Rule
}

var defaultRules = []Rule{
	{Category: "Pricing & Valuation", Terms: []string{"pricing", "valuation", "premium", "reserving"}},
	{Category: "Mortality & Longevity", Terms: []string{"mortality", "longevity", "life table"}},
	{Category: "Pensions & Retirement", Terms: []string{"pension", "retirement", "annuity"}},
	{Category: "Risk & Capital", Terms: []string{"solvency", "capital", "risk management", "stress test"}},
	{Category: "Health & Disability", Terms: []string{"health", "disability", "morbidity"}},
	{Category: "Machine Learning", Terms: []string{"machine learning", "neural", "model", "predictive"}},
}

// NewService builds the classifier from cfg.
func NewService(cfg Config) *Service {
	rules := cfg.CategoryRules
	if len(rules) == 0 {
		rules = defaultRules
	}
	terms := make([]string, 0, len(cfg.RelevanceTerms))
	for _, t := range cfg.RelevanceTerms {
		if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
			terms = append(terms, t)
		}
	}
	return &Service{relevanceTerms: terms, rules: rules}
}

// Keywords returns up to 8 frequent terms from text, with title words
// weighted higher. Results are lowercase and sorted by score, ties
// alphabetically so output is deterministic.
func (s *Service) Keywords(text, title string) []string {
	scores := make(map[string]int)
	for _, w := range tokenize(text) {
		scores[w]++
	}
	for _, w := range tokenize(title) {
		scores[w] += titleBoost
	}

	type scored struct {
		word  string
		score int
	}
	ranked := make([]scored, 0, len(scores))
	for w, n := range scores {
		ranked = append(ranked, scored{word: w, score: n})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].word < ranked[j].word
	})

	out := make([]string, 0, maxKeywords)
	for _, r := range ranked {
		out = append(out, r.word)
		if len(out) == maxKeywords {
			break
		}
	}
	return out
}

// Summarize returns up to four sentences from text, chosen by keyword
// density but emitted in their original order.
func (s *Service) Summarize(text string, keywords []string) string {
	sentences := splitSentences(text)
	if len(sentences) == 0 {
		return ""
	}
	if len(sentences) <= maxSummarySents {
		return strings.Join(sentences, " ")
	}

	type scored struct {
		index int
		score int
	}
	ranked := make([]scored, 0, len(sentences))
	for i, sentence := range sentences {
		lower := strings.ToLower(sentence)
		score := 0
		for _, kw := range keywords {
			score += strings.Count(lower, kw)
		}
		ranked = append(ranked, scored{index: i, score: score})
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	picked := ranked[:maxSummarySents]
	sort.Slice(picked, func(i, j int) bool { return picked[i].index < picked[j].index })

	parts := make([]string, 0, len(picked))
	for _, p := range picked {
		parts = append(parts, sentences[p.index])
	}
	return strings.Join(parts, " ")
}

// Categorize returns the first rule whose terms appear in the title,
// keywords or text, or "Uncategorized".
func (s *Service) Categorize(title, text string, keywords []string) string {
	haystack := strings.ToLower(title + " " + strings.Join(keywords, " ") + " " + text)
	for _, rule := range s.rules {
		for _, term := range rule.Terms {
			if strings.Contains(haystack, term) {
				return rule.Category
			}
		}
	}
	return "Uncategorized"
}

// Relevant reports whether the document passes the configured relevance
// gate. With no terms configured everything is relevant.
func (s *Service) Relevant(title, text string, keywords []string) bool {
	if len(s.relevanceTerms) == 0 {
		return true
	}
	haystack := strings.ToLower(title + " " + strings.Join(keywords, " ") + " " + text)
	for _, term := range s.relevanceTerms {
		if strings.Contains(haystack, term) {
			return true
		}
	}
	return false
}

func tokenize(text string) []string {
	words := wordPattern.FindAllString(strings.ToLower(text), -1)
	out := words[:0]
	for _, w := range words {
		if len(w) < minKeywordLength {
			continue
		}
		if _, skip := stopwords[w]; skip {
			continue
		}
		out = append(out, w)
	}
	return out
}

func splitSentences(text string) []string {
	raw := sentencePattern.FindAllString(text, -1)
	out := make([]string, 0, len(raw))
	for _, s := range raw {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
