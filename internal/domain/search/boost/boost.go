// Package boost implements literal phrase boosting with a small French/English
// term table so that a French query still rewards pages written in English and
// vice versa.
package boost

import (
	"strings"
)

// Boost increments.
const (
	ExactPhrase     = 0.3
	AllTerms        = 0.2
	PartialTerms    = 0.1
	TranslatedTerms = 0.15
)

// Translations maps a lower-case term to its equivalents in the other language.
var Translations = map[string][]string{
	"loi":          {"law", "act", "legislation"},
	"finances":     {"finance", "financial", "budget", "fiscal"},
	"budget":       {"budget", "budgetary", "budgétaire"},
	"décret":       {"decree", "order", "regulation"},
	"arrêté":       {"order", "decree", "ruling"},
	"contrat":      {"contract", "agreement"},
	"accord":       {"agreement", "accord", "treaty"},
	"prêt":         {"loan", "lending"},
	"emprunt":      {"loan", "borrowing"},
	"rapport":      {"report", "statement"},
	"procédure":    {"procedure", "process"},
	"règlement":    {"regulation", "settlement", "rule"},
	"impôt":        {"tax", "taxation"},
	"taxe":         {"tax", "fee", "duty"},
	"trésor":       {"treasury", "treasure"},
	"dette":        {"debt", "liability"},
	"créance":      {"receivable", "claim", "debt"},
	"dépense":      {"expense", "expenditure", "spending"},
	"recette":      {"revenue", "income", "receipt"},
	"exercice":     {"fiscal year", "exercise", "financial year"},
	"bilan":        {"balance sheet", "assessment", "review"},
	"comptabilité": {"accounting", "bookkeeping"},
	"audit":        {"audit", "review"},
	"ministère":    {"ministry", "department"},
	"gouvernement": {"government", "administration"},
	"république":   {"republic"},
	"cameroun":     {"cameroon"},
	"document":     {"document", "file", "record"},
	"dossier":      {"file", "folder", "case"},
	"direction":    {"directorate", "department", "direction"},
	"service":      {"service", "department"},

	"law":        {"loi", "droit", "législation"},
	"finance":    {"finances", "financier", "budget"},
	"decree":     {"décret", "arrêté"},
	"loan":       {"prêt", "emprunt"},
	"agreement":  {"accord", "contrat", "convention"},
	"report":     {"rapport", "compte-rendu"},
	"tax":        {"impôt", "taxe", "fiscal"},
	"treasury":   {"trésor", "trésorerie"},
	"ministry":   {"ministère"},
	"government": {"gouvernement"},

	"administration": {"administration", "management"},
}

// Booster scores literal matches of a query inside page text.
type Booster struct {
	query      string
	terms      []string
	translated []string
}

// New prepares a booster for query.
func New(query string) *Booster {
	q := strings.ToLower(strings.TrimSpace(query))
	terms := strings.Fields(q)

	seen := make(map[string]struct{}, len(terms)*3)
	var translated []string
	add := func(t string) {
		if _, ok := seen[t]; ok {
			return
		}
		seen[t] = struct{}{}
		translated = append(translated, t)
	}
	for _, t := range terms {
		for _, tr := range Translations[t] {
			add(tr)
		}
		add(t)
	}

	return &Booster{query: q, terms: terms, translated: translated}
}

// Score returns the additive boost for text.
func (b *Booster) Score(text string) float64 {
	if b.query == "" {
		return 0
	}
	lower := strings.ToLower(text)
	var boost float64

	if strings.Contains(lower, b.query) {
		boost += ExactPhrase
	}

	if len(b.terms) > 0 {
		matched := countContained(lower, b.terms)
		ratio := float64(matched) / float64(len(b.terms))
		switch {
		case ratio == 1:
			boost += AllTerms
		case ratio > 0:
			boost += ratio * PartialTerms
		}
	}

	if len(b.translated) > 0 && boost < AllTerms {
		if matched := countContained(lower, b.translated); matched > 0 {
			ratio := float64(matched) / float64(len(b.translated))
			boost += min(TranslatedTerms, ratio*TranslatedTerms)
		}
	}

	return boost
}

// Apply adds the boost to score and caps the result at 1.
func (b *Booster) Apply(score float64, text string) float64 {
	return min(1, score+b.Score(text))
}

func countContained(text string, terms []string) int {
	n := 0
	for _, t := range terms {
		if strings.Contains(text, t) {
			n++
		}
	}
	return n
}
