// Package matcher scores candidate names against a search query.
//
// A Scorer is a pure function of (candidate, query). Evaluate layers the
// ranking rules on top of any Scorer: exact matches score ExactMatchScore,
// fuzzy scores are capped just below it, and anything under MinimumScore is
// rejected.
package matcher

import (
	"strings"

	"github.com/sahilm/fuzzy"
)

const (
	// ExactMatchScore is awarded when the candidate equals the query,
	// ignoring case. Fuzzy scores always rank below it.
	ExactMatchScore = 1000
	// MinimumScore is the lowest fuzzy score a candidate can have and still
	// be returned.
	MinimumScore = 20

	// matchedRuneCredit is added for every query rune aligned in the
	// candidate.
	matchedRuneCredit = 16
)

// Scorer reports how well candidate matches query. ok is false when the
// query cannot be aligned with the candidate at all.
type Scorer interface {
	Score(candidate, query string) (score int, ok bool)
}

// ScoreFunc adapts a plain function to the Scorer interface.
type ScoreFunc func(candidate, query string) (int, bool)

// Score calls f(candidate, query).
func (f ScoreFunc) Score(candidate, query string) (int, bool) {
	return f(candidate, query)
}

// Fuzzy is the default Scorer. It is a subsequence matcher that rewards
// first-character, separator, camel-case and adjacent matches, credits every
// aligned query rune, and penalises characters skipped before the first
// match. Candidate length beyond the match is not penalised, so a whole word
// inside a long name still clears MinimumScore.
var Fuzzy Scorer = ScoreFunc(fuzzyScore)

type single string

func (s single) String(int) string { return string(s) }
func (s single) Len() int           { return 1 }

func fuzzyScore(candidate, query string) (int, bool) {
	if query == "" {
		return 0, false
	}
	matches := fuzzy.FindFrom(query, single(candidate))
	if len(matches) == 0 {
		return 0, false
	}
	m := matches[0]
	matched := len(m.MatchedIndexes)
	// fuzzy charges one point per unmatched candidate byte; give it back.
	unmatched := len(candidate) - matched
	return m.Score + unmatched + matchedRuneCredit*matched, true
}

// Evaluate scores candidate text against an already lowercased query.
// It returns false when the candidate should not appear in results.
func Evaluate(s Scorer, candidate, query string) (int, bool) {
	if strings.EqualFold(candidate, query) {
		return ExactMatchScore, true
	}
	score, ok := s.Score(candidate, query)
	if !ok {
		return 0, false
	}
	if score >= ExactMatchScore {
		score = ExactMatchScore - 1
	}
	if score < MinimumScore {
		return 0, false
	}
	return score, true
}

// Stem strips the final extension from a file name. A name whose only dot
// is the leading one (".bashrc") has no extension and is returned whole.
func Stem(name string) string {
	i := strings.LastIndexByte(name, '.')
	if i <= 0 {
		return name
	}
	return name[:i]
}
