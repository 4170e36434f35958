// Package skill provides the built-in skills shipped with skillrun.
package skill

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"skillrun/internal/domain"
	"skillrun/internal/schema"
)

var wordPattern = regexp.MustCompile(`[a-z][a-z']*`)

// Small heuristic lexicons. Good enough for a quick tone read of a
// paragraph; not a substitute for a real sentiment model.
var positiveWords = map[string]bool{
	"good": true, "great": true, "excellent": true, "happy": true,
	"love": true, "wonderful": true, "best": true, "amazing": true,
	"nice": true, "fantastic": true, "positive": true, "success": true,
	"win": true, "better": true, "improved": true, "easy": true,
}

var negativeWords = map[string]bool{
	"bad": true, "terrible": true, "awful": true, "sad": true,
	"hate": true, "worst": true, "horrible": true, "poor": true,
	"negative": true, "failure": true, "fail": true, "broken": true,
	"worse": true, "difficult": true, "problem": true, "error": true,
}

// NewTextStats builds the text_stats skill: word frequency plus a naive
// sentiment estimate for a passage of text.
func NewTextStats() domain.Skill {
	return domain.Skill{
		Name:        "text_stats",
		Description: "Analyze a passage of text: word count, most frequent words, and a rough sentiment estimate.",
		Params: schema.Parameters{Props: map[string]schema.Param{
			"text": {
				Kind:        schema.String,
				Description: "The text to analyze",
				Required:    true,
			},
			"top_words": {
				Kind:        schema.Number,
				Description: "How many of the most frequent words to report",
				Min:         schema.Float(1),
				Max:         schema.Float(50),
				Default:     10.0,
			},
		}},
		Handler: textStatsHandler,
	}
}

func textStatsHandler(ctx context.Context, args map[string]any) (string, error) {
	text := args["text"].(string)
	topN := intArg(args, "top_words", 10)

	words := wordPattern.FindAllString(strings.ToLower(text), -1)
	if len(words) == 0 {
		return "No words found in the input text.", nil
	}

	freq := make(map[string]int)
	positive, negative := 0, 0
	for _, w := range words {
		freq[w]++
		if positiveWords[w] {
			positive++
		}
		if negativeWords[w] {
			negative++
		}
	}

	type wordCount struct {
		word  string
		count int
	}
	counts := make([]wordCount, 0, len(freq))
	for w, c := range freq {
		counts = append(counts, wordCount{w, c})
	}
	sort.Slice(counts, func(i, j int) bool {
		if counts[i].count != counts[j].count {
			return counts[i].count > counts[j].count
		}
		return counts[i].word < counts[j].word
	})
	if topN > len(counts) {
		topN = len(counts)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Words: %d (unique: %d)\n", len(words), len(freq))
	fmt.Fprintf(&sb, "Sentiment: %s (positive signals: %d, negative signals: %d)\n",
		sentimentLabel(positive, negative), positive, negative)
	fmt.Fprintf(&sb, "Top %d words:\n", topN)
	for _, wc := range counts[:topN] {
		fmt.Fprintf(&sb, "  %s: %d\n", wc.word, wc.count)
	}
	return sb.String(), nil
}

func sentimentLabel(positive, negative int) string {
	switch {
	case positive > negative:
		return "positive"
	case negative > positive:
		return "negative"
	default:
		return "neutral"
	}
}

// intArg reads a numeric argument that may arrive as float64 (JSON) or int.
func intArg(args map[string]any, key string, fallback int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return fallback
}
