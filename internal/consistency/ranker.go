package consistency

import (
	"sort"
	"strings"

	"github.com/aveline/canonry/internal/consistency/delegate"
)

// Ranker selects the existing claims most worth sending to the semantic
// delegate. Keyword overlap is a known-weak heuristic that misses
// paraphrased claims, so the strategy is pluggable.
type Ranker interface {
	Rank(newClaims, existing []delegate.Claim, k int) []delegate.Claim
}

// KeywordRanker scores existing claims by how many lowercase tokens
// they share with the new claims. Ties break on entity ID then text so
// the selection is stable.
type KeywordRanker struct{}

// Rank implements Ranker. Claims with no overlap at all are dropped.
func (KeywordRanker) Rank(newClaims, existing []delegate.Claim, k int) []delegate.Claim {
	if k < 1 || len(newClaims) == 0 || len(existing) == 0 {
		return nil
	}
	vocab := make(map[string]bool)
	for _, c := range newClaims {
		for _, tok := range tokenize(c.Text) {
			vocab[tok] = true
		}
	}

	type scored struct {
		claim delegate.Claim
		score int
	}
	ranked := make([]scored, 0, len(existing))
	for _, c := range existing {
		score := 0
		for _, tok := range tokenize(c.Text) {
			if vocab[tok] {
				score++
			}
		}
		if score > 0 {
			ranked = append(ranked, scored{claim: c, score: score})
		}
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		if ranked[i].claim.EntityID != ranked[j].claim.EntityID {
			return ranked[i].claim.EntityID < ranked[j].claim.EntityID
		}
		return ranked[i].claim.Text < ranked[j].claim.Text
	})
	if len(ranked) > k {
		ranked = ranked[:k]
	}
	out := make([]delegate.Claim, len(ranked))
	for i, s := range ranked {
		out[i] = s.claim
	}
	return out
}

// stopWords are too common to signal claim similarity.
var stopWords = map[string]bool{
	"a": true, "an": true, "and": true, "in": true, "is": true,
	"its": true, "of": true, "on": true, "s": true, "the": true,
	"to": true, "was": true,
}

func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	})
	out := fields[:0]
	for _, f := range fields {
		if !stopWords[f] {
			out = append(out, f)
		}
	}
	return out
}
