package scoring

import (
	"math"
	"sort"
	"strings"
	"time"
	"unicode"
)

var stopwords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "are": {}, "but": {}, "not": {},
	"you": {}, "all": {}, "can": {}, "her": {}, "was": {}, "one": {},
	"our": {}, "out": {}, "has": {}, "have": {}, "with": {}, "this": {},
	"that": {}, "from": {}, "they": {}, "will": {}, "what": {}, "when": {},
	"your": {}, "their": {}, "about": {}, "which": {}, "would": {},
	"there": {}, "been": {}, "were": {}, "into": {}, "than": {}, "them": {},
	"then": {}, "some": {}, "more": {}, "other": {}, "over": {}, "just": {},
	"also": {}, "after": {}, "most": {}, "such": {}, "only": {}, "very": {},
	"how": {}, "why": {}, "who": {}, "its": {}, "per": {}, "via": {},
}

// Tokenize lowercases the text and returns meaningful terms: words of at
// least three letters that are not stopwords.
func Tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) < 3 {
			continue
		}
		if _, ok := stopwords[f]; ok {
			continue
		}
		terms = append(terms, f)
	}
	return terms
}

// TermFrequencies returns per-term frequencies normalized by the most
// frequent term, so the dominant term scores 1.0.
func TermFrequencies(text string) map[string]float64 {
	terms := Tokenize(text)
	if len(terms) == 0 {
		return nil
	}

	counts := make(map[string]int, len(terms))
	max := 0
	for _, term := range terms {
		counts[term]++
		if counts[term] > max {
			max = counts[term]
		}
	}

	freqs := make(map[string]float64, len(counts))
	for term, count := range counts {
		freqs[term] = float64(count) / float64(max)
	}
	return freqs
}

// ExtractTopics returns the top max terms by frequency as a topic
// distribution. This is the always-available, zero-cost topic signal used
// by the local fallback path.
func ExtractTopics(text string, max int) map[string]float64 {
	freqs := TermFrequencies(text)
	if len(freqs) == 0 {
		return nil
	}

	type entry struct {
		term string
		freq float64
	}
	entries := make([]entry, 0, len(freqs))
	for term, freq := range freqs {
		entries = append(entries, entry{term, freq})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].freq != entries[j].freq {
			return entries[i].freq > entries[j].freq
		}
		return entries[i].term < entries[j].term
	})

	if max > 0 && len(entries) > max {
		entries = entries[:max]
	}

	topics := make(map[string]float64, len(entries))
	for _, e := range entries {
		topics[e.term] = e.freq
	}
	return topics
}

// ContentQualityScore blends term diversity with content length, each
// saturating, into a [0,1] score. Short or repetitive content scores low.
func ContentQualityScore(text string) float64 {
	terms := Tokenize(text)
	if len(terms) == 0 {
		return 0
	}

	unique := make(map[string]struct{}, len(terms))
	for _, term := range terms {
		unique[term] = struct{}{}
	}

	termScore := saturate(float64(len(unique)) / 80)
	lengthScore := saturate(float64(len(text)) / 2000)

	return clamp01(0.6*termScore + 0.4*lengthScore)
}

// FreshnessScore is 1.0 at publication and decays exponentially so a
// two-week-old article scores at most 0.2.
func FreshnessScore(published, now time.Time) float64 {
	age := now.Sub(published)
	if age <= 0 {
		return 1
	}

	// Decay constant chosen so a 14-day-old article scores exactly 0.2.
	days := age.Hours() / 24
	return clamp01(math.Exp(-days * math.Log(5) / 14))
}

func saturate(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}

func clamp01(x float64) float64 {
	return saturate(x)
}
