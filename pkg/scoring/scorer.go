// Package scoring ranks articles by a blended tag-affinity, recency and
// engagement heuristic. Scores are pure functions of current state and are
// recomputed for the whole working set on every ranking call; nothing here
// is persisted as authoritative.
package scoring

import (
	"sort"
	"strings"
	"time"

	"github.com/umputun/feedwise/pkg/domain"
)

// tieGap is the score distance below which ranking falls back to publish
// date, keeping near-equal articles stable across refreshes
const tieGap = 0.3

const tagMatchBonus = 0.25

// Ranked pairs an article with its computed score
type Ranked struct {
	Article domain.Article
	Score   float64
}

// Score computes the affinity of one article for the owner's tag set,
// clamped to [0, 1]. Tag matches accumulate uncapped before the clamp, so
// several matching tags compound.
func Score(article domain.Article, ownerTags []string, now time.Time) float64 {
	score := 0.0

	articleTags := make(map[string]struct{}, len(article.Tags))
	for _, t := range article.Tags {
		articleTags[strings.ToLower(t)] = struct{}{}
	}
	for _, t := range ownerTags {
		if _, ok := articleTags[strings.ToLower(t)]; ok {
			score += tagMatchBonus
		}
	}

	score += recencyBonus(article.Published, now)

	if article.IsRead {
		score -= 0.20
	}
	if article.IsSaved {
		score += 0.10
	}

	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

// recencyBonus rewards fresh articles, measured in whole days
func recencyBonus(published, now time.Time) float64 {
	days := int(now.Sub(published).Hours() / 24)
	switch {
	case days < 1:
		return 0.30
	case days < 3:
		return 0.20
	case days < 7:
		return 0.10
	default:
		return 0
	}
}

// Rank scores the full article set against the owner's tags and sorts for
// display. Score order is authoritative only when adjacent scores differ by
// more than tieGap; otherwise newer articles win, so score noise does not
// reshuffle near-equal articles between refreshes.
func Rank(articles []domain.Article, ownerTags []string, now time.Time) []Ranked {
	ranked := make([]Ranked, len(articles))
	for i, a := range articles {
		ranked[i] = Ranked{Article: a, Score: Score(a, ownerTags, now)}
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		gap := ranked[i].Score - ranked[j].Score
		if gap > tieGap {
			return true
		}
		if gap < -tieGap {
			return false
		}
		return ranked[i].Article.Published.After(ranked[j].Article.Published)
	})

	return ranked
}
