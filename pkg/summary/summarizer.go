// Package summary implements extractive summarization: segment the article
// into sentences, score each by position, length, title-keyword overlap and
// information density, then re-emit the best ones in document order together
// with extracted entities and a conclusion line. No text is generated, only
// selected.
package summary

import (
	"fmt"
	"math"
	"regexp"
	"strings"
	"unicode"

	"github.com/go-pkgz/lgr"

	"github.com/umputun/feedwise/pkg/domain"
)

// briefThreshold is the body length below which the text is passed through
// as-is instead of being summarized
const briefThreshold = 200

// minSentenceLen filters out fragments left over from segmentation
const minSentenceLen = 10

// fallbackSentences is the fixed selection size of the simple path
const fallbackSentences = 5

// summaryPhrases are discourse markers that signal a sentence already
// summarizes the surrounding text
var summaryPhrases = []string{
	"in summary", "in conclusion", "to summarize", "to conclude",
	"therefore", "as a result", "consequently", "overall", "ultimately",
	"research shows", "studies show", "experts say", "according to",
	"this means", "importantly", "significantly",
}

// conclusionMarkers identify an explicit closing sentence
var conclusionMarkers = []string{
	"in conclusion", "to summarize", "to sum up", "in summary",
	"overall", "ultimately", "finally", "going forward",
}

var (
	statsRe      = regexp.MustCompile(`\d+(?:\.\d+)?\s*(?:%|percent)|\b\d{3,}\b`)
	dateRe       = regexp.MustCompile(`\b(?:January|February|March|April|May|June|July|August|September|October|November|December|\d{4})\b`)
	entityRe     = regexp.MustCompile(`\b[A-Z][a-zA-Z]+(?:\s+[A-Z][a-zA-Z]+)*\b`)
	whitespaceRe = regexp.MustCompile(`\s+`)
)

var comparisonWords = []string{"more than", "less than", "compared to", "versus", " vs ", "higher than", "lower than"}

var causeEffectWords = []string{"because", "due to", "leads to", "results in", "caused by", "thanks to"}

var entityStopwords = map[string]struct{}{
	"the": {}, "this": {}, "that": {}, "these": {}, "those": {}, "with": {},
	"from": {}, "have": {}, "been": {}, "were": {}, "they": {}, "their": {},
	"there": {}, "which": {}, "would": {}, "could": {}, "should": {},
	"about": {}, "after": {}, "before": {}, "when": {}, "where": {},
	"what": {}, "while": {}, "will": {}, "here": {}, "also": {}, "into": {},
	"over": {}, "some": {}, "many": {}, "most": {}, "more": {}, "other": {},
}

// Summarizer produces multi-section extractive summaries
type Summarizer struct{}

// New creates a summarizer
func New() *Summarizer {
	return &Summarizer{}
}

// Summarize builds a structured summary of the article body. Short bodies
// pass through as a brief note. A failure in the primary pipeline degrades
// to a simpler single-pass heuristic instead of returning an error; only
// genuinely empty input fails.
func (s *Summarizer) Summarize(title, body string) (result string, err error) {
	text := collapseWhitespace(body)
	cleanTitle := strings.TrimSpace(title)

	if text == "" && cleanTitle == "" {
		return "", domain.ErrEmptyContent
	}

	if len(text) < briefThreshold {
		if text == "" {
			text = cleanTitle
		}
		return "Brief article: " + text, nil
	}

	defer func() {
		if r := recover(); r != nil {
			// degraded, not an error: the caller always gets some text
			lgr.Printf("[WARN] summary generation degraded for %q: %v", cleanTitle, r)
			result = s.simpleSummary(cleanTitle, text)
			err = nil
		}
	}()

	return s.buildSummary(cleanTitle, text, adaptiveCount(len(text))), nil
}

// adaptiveCount sizes the selection to the document, one extra sentence per
// ~400 chars, within [4, 8]
func adaptiveCount(textLen int) int {
	n := int(math.Ceil(float64(textLen) / 400))
	if n < 4 {
		n = 4
	}
	if n > 8 {
		n = 8
	}
	return n
}

// buildSummary runs the full pipeline: segment, score, select, extract
// entities and conclusion, render
func (s *Summarizer) buildSummary(title, text string, keep int) string {
	sentences := segment(text)
	selected := selectSentences(sentences, title, keep)
	entities := extractEntities(text, title)
	conclusion := findConclusion(sentences, title, text)
	return render(title, sentences, selected, entities, conclusion)
}

// simpleSummary is the degraded path: first sentences in order, no scoring
func (s *Summarizer) simpleSummary(title, text string) string {
	sentences := segment(text)
	selected := sentences
	if len(selected) > fallbackSentences {
		selected = selected[:fallbackSentences]
	}
	if len(selected) == 0 {
		// segmentation found nothing usable, emit the raw text clipped
		clipped := text
		if len(clipped) > briefThreshold {
			clipped = clipped[:briefThreshold] + "..."
		}
		selected = []string{clipped}
	}
	entities := extractEntities(text, title)
	conclusion := findConclusion(sentences, title, text)
	return render(title, sentences, selected, entities, conclusion)
}

// segment splits text into sentences on terminal punctuation followed by
// whitespace, discarding short fragments
func segment(text string) []string {
	var sentences []string
	runes := []rune(text)
	start := 0

	flush := func(end int) {
		sent := strings.TrimSpace(string(runes[start:end]))
		if len(sent) > minSentenceLen {
			sentences = append(sentences, sent)
		}
		start = end
	}

	for i := 0; i < len(runes); i++ {
		if runes[i] != '.' && runes[i] != '!' && runes[i] != '?' {
			continue
		}
		if i+1 == len(runes) || unicode.IsSpace(runes[i+1]) {
			flush(i + 1)
		}
	}
	if start < len(runes) {
		flush(len(runes))
	}

	return sentences
}

// selectSentences keeps the top-scoring sentences, re-sorted into document
// order so the output preserves the article's narrative flow. Documents of
// four sentences or fewer are kept whole.
func selectSentences(sentences []string, title string, keep int) []string {
	if len(sentences) <= 4 {
		return sentences
	}

	type scored struct {
		idx   int
		score int
	}

	keywords := titleKeywords(title)
	ranked := make([]scored, len(sentences))
	for i, sent := range sentences {
		ranked[i] = scored{idx: i, score: scoreSentence(sent, i, len(sentences), keywords)}
	}

	// selection sort by score is fine at sentence counts; stability by
	// index keeps earlier sentences ahead on equal scores
	for i := 0; i < len(ranked); i++ {
		best := i
		for j := i + 1; j < len(ranked); j++ {
			if ranked[j].score > ranked[best].score {
				best = j
			}
		}
		ranked[i], ranked[best] = ranked[best], ranked[i]
	}

	if keep > len(ranked) {
		keep = len(ranked)
	}
	top := ranked[:keep]

	// back to document order
	picked := make([]bool, len(sentences))
	for _, r := range top {
		picked[r.idx] = true
	}
	result := make([]string, 0, keep)
	for i, sent := range sentences {
		if picked[i] {
			result = append(result, sent)
		}
	}
	return result
}

// scoreSentence rates one sentence by position, length sweet spot, title
// keyword overlap, discourse markers, questions and information density
func scoreSentence(sent string, idx, total int, keywords []string) int {
	score := 0
	lower := strings.ToLower(sent)

	// position: opening and closing sentences carry the thesis, the first
	// third sets context
	switch {
	case idx == 0 || idx == total-1:
		score += 3
	case idx < total/3:
		score += 2
	default:
		score++
	}

	// length sweet spot: long enough to inform, short enough to stay one idea
	switch n := len(sent); {
	case n >= 60 && n <= 200:
		score += 2
	case n >= 30 && n <= 300:
		score++
	}

	// title keywords, verbatim and stemmed
	for _, word := range keywords {
		if strings.Contains(lower, word) {
			score += 2
		} else if len(word) > 6 && strings.Contains(lower, word[:5]) {
			score++
		}
	}

	for _, phrase := range summaryPhrases {
		if strings.Contains(lower, phrase) {
			score += 3
			break
		}
	}

	if strings.Contains(sent, "?") {
		score += 2
	}

	// information density
	if statsRe.MatchString(sent) {
		score += 3
	}
	for _, w := range comparisonWords {
		if strings.Contains(lower, w) {
			score += 2
			break
		}
	}
	if strings.Contains(sent, `"`) {
		score += 2
	}
	if dateRe.MatchString(sent) {
		score += 2
	}
	for _, w := range causeEffectWords {
		if strings.Contains(lower, w) {
			score += 2
			break
		}
	}

	return score
}

// titleKeywords extracts lowercased title words longer than 3 chars
func titleKeywords(title string) []string {
	var words []string
	for _, w := range strings.Fields(strings.ToLower(title)) {
		w = strings.Trim(w, `.,:;!?"'()`)
		if len(w) > 3 {
			words = append(words, w)
		}
	}
	return words
}

// extractEntities collects capitalized word sequences from the text plus
// long title words, minus stopwords, capped at ten
func extractEntities(text, title string) []string {
	seen := make(map[string]struct{})
	var entities []string

	add := func(candidate string) {
		candidate = strings.TrimSpace(candidate)
		if len(candidate) <= 3 {
			return
		}
		if _, stop := entityStopwords[strings.ToLower(candidate)]; stop {
			return
		}
		key := strings.ToLower(candidate)
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		entities = append(entities, candidate)
	}

	for _, m := range entityRe.FindAllString(text, -1) {
		if len(entities) >= 10 {
			break
		}
		add(m)
	}
	for _, w := range strings.Fields(title) {
		if len(entities) >= 10 {
			break
		}
		add(strings.Trim(w, `.,:;!?"'()`))
	}

	return entities
}

// findConclusion scans the last few sentences for an explicit closing
// marker and uses that sentence verbatim; otherwise it synthesizes a
// generic context line
func findConclusion(sentences []string, title, text string) string {
	tail := sentences
	if len(tail) > 5 {
		tail = tail[len(tail)-5:]
	}
	for i := len(tail) - 1; i >= 0; i-- {
		lower := strings.ToLower(tail[i])
		for _, marker := range conclusionMarkers {
			if strings.Contains(lower, marker) {
				return tail[i]
			}
		}
	}

	words := len(strings.Fields(text))
	topic := strings.TrimSpace(title)
	if topic == "" {
		topic = "the topic above"
	}
	return fmt.Sprintf("This article of roughly %d words discusses %s.", words, topic)
}

// render assembles the final multi-section summary text
func render(title string, sentences, selected, entities []string, conclusion string) string {
	var b strings.Builder

	b.WriteString("Summary\n\n")

	topic := strings.TrimSpace(title)
	if topic == "" && len(sentences) > 0 {
		topic = cleanTopic(sentences[0])
	}
	if topic != "" {
		b.WriteString("Main Topic: " + topic + "\n\n")
	}

	b.WriteString("Key Points:\n")
	for _, sent := range selected {
		b.WriteString("- " + sent + "\n")
	}

	if len(entities) > 0 {
		b.WriteString("\nKey Entities: " + strings.Join(entities, ", ") + "\n")
	}

	b.WriteString("\nContext: " + conclusion + "\n")

	return b.String()
}

// cleanTopic turns a first sentence into a heading-sized topic line
func cleanTopic(sentence string) string {
	topic := strings.TrimRight(sentence, ".!? ")
	if len(topic) > 100 {
		topic = topic[:100] + "..."
	}
	return topic
}

// collapseWhitespace normalizes newlines and runs of spaces
func collapseWhitespace(s string) string {
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(s, " "))
}
