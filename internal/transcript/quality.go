// Package transcript checks that fetched transcripts are usable text before
// they are accepted from a provider.
package transcript

import (
	"fmt"
	"regexp"
	"strings"
)

// Defaults for Check.
const (
	DefaultMinLength         = 100
	DefaultMinAvgWordLength  = 2.5
	DefaultMaxRepetition     = 0.10
	DefaultRelevanceMinRatio = 0.3
)

// Rules configures the quality gate.
type Rules struct {
	MinLength        int
	MinAvgWordLength float64
	// MaxRepetition is the largest share of all 3-word phrases one phrase may take.
	MaxRepetition float64
	// MinRelevance is the share of significant title words that must appear in
	// the transcript. Zero disables the check.
	MinRelevance float64
}

// DefaultRules returns the standard thresholds.
func DefaultRules() Rules {
	return Rules{
		MinLength:        DefaultMinLength,
		MinAvgWordLength: DefaultMinAvgWordLength,
		MaxRepetition:    DefaultMaxRepetition,
		MinRelevance:     DefaultRelevanceMinRatio,
	}
}

var (
	trigramPattern = regexp.MustCompile(`\b\w+\s+\w+\s+\w+\b`)
	wordPattern    = regexp.MustCompile(`\b\w+\b`)
)

var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true, "but": true,
	"in": true, "on": true, "at": true, "to": true, "for": true, "of": true,
	"with": true, "vs": true, "big": true, "new": true,
}

// Check returns a description of the first quality problem in text, or ""
// when the transcript passes. An empty title skips the relevance check.
func Check(text, title string, r Rules) string {
	trimmed := strings.TrimSpace(text)
	if len(trimmed) < r.MinLength {
		return fmt.Sprintf("transcript too short (%d chars, minimum %d)", len(trimmed), r.MinLength)
	}

	words := strings.Fields(trimmed)
	if len(words) > 0 {
		total := 0
		for _, w := range words {
			total += len(w)
		}
		avg := float64(total) / float64(len(words))
		if avg < r.MinAvgWordLength {
			return fmt.Sprintf("transcript appears fragmented (avg word length %.1f)", avg)
		}
	}

	// Non-overlapping phrases, matching a left-to-right scan.
	phrases := trigramPattern.FindAllString(strings.ToLower(trimmed), -1)
	if len(phrases) > 0 {
		counts := make(map[string]int, len(phrases))
		top, topCount := "", 0
		for _, p := range phrases {
			p = strings.Join(strings.Fields(p), " ")
			counts[p]++
			if counts[p] > topCount {
				top, topCount = p, counts[p]
			}
		}
		if float64(topCount) > float64(len(phrases))*r.MaxRepetition {
			return fmt.Sprintf("excessive repetition: %q appears %d times", top, topCount)
		}
	}

	if r.MinRelevance > 0 && title != "" && !Relevant(trimmed, title, r.MinRelevance) {
		return fmt.Sprintf("transcript does not match title %q", title)
	}
	return ""
}

// Relevant reports whether at least ratio of the significant words in title
// occur in text. Titles without significant words are always relevant.
func Relevant(text, title string, ratio float64) bool {
	titleWords := make(map[string]bool)
	for _, w := range wordPattern.FindAllString(title, -1) {
		w = strings.ToLower(w)
		if len(w) > 2 && !stopWords[w] {
			titleWords[w] = true
		}
	}
	if len(titleWords) == 0 {
		return true
	}

	lower := strings.ToLower(text)
	matches := 0
	for w := range titleWords {
		if strings.Contains(lower, w) {
			matches++
		}
	}
	return float64(matches)/float64(len(titleWords)) >= ratio
}
