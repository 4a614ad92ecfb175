package retrieval

import (
	"math"
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/hrygo/recall/store"
)

// fallbackScorer ranks documents without vectors, from content and metadata
// alone. It is the terminal rung of the retrieval ladder: as long as the scope
// holds at least one document it produces a non-empty, deterministic ordering,
// even with zero network connectivity.
type fallbackScorer struct {
	timeWeight    float64
	turnWeight    float64
	matchWeight   float64
	qualityWeight float64
	decayRate     float64 // per hour / per turn
}

func newFallbackScorer(cfg *Config) *fallbackScorer {
	s := &fallbackScorer{
		timeWeight:    cfg.TimeWeight,
		turnWeight:    cfg.TurnWeight,
		matchWeight:   cfg.MatchWeight,
		qualityWeight: cfg.QualityWeight,
		decayRate:     cfg.DecayRate,
	}
	if s.timeWeight+s.turnWeight+s.matchWeight+s.qualityWeight <= 0 {
		s.timeWeight, s.turnWeight, s.matchWeight, s.qualityWeight = 0.4, 0.25, 0.15, 0.2
	}
	if s.decayRate <= 0 {
		s.decayRate = 0.05
	}
	return s
}

// Rank scores every candidate and returns the top-k, score descending.
// Ties keep the candidates' incoming (insertion) order.
func (f *fallbackScorer) Rank(query string, docs []*store.Document, latestTurn int64, now time.Time, k int) []store.DocumentWithScore {
	if len(docs) == 0 || k <= 0 {
		return nil
	}

	queryTokens := tokenize(query)
	queryEntities := extractEntities(query)

	scored := make([]store.DocumentWithScore, 0, len(docs))
	for _, doc := range docs {
		score := f.timeWeight*f.timeScore(doc, now) +
			f.turnWeight*f.turnScore(doc, latestTurn) +
			f.matchWeight*matchScore(query, queryTokens, queryEntities, doc.Content) +
			f.qualityWeight*qualityScore(doc.Content)
		scored = append(scored, store.DocumentWithScore{Document: doc, Score: float32(score)})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})
	if len(scored) > k {
		scored = scored[:k]
	}
	return scored
}

// timeScore decays exponentially with the document's age in hours,
// clamped to [0.1, 1.0]. Undecodable timestamps score a neutral 0.5.
func (f *fallbackScorer) timeScore(doc *store.Document, now time.Time) float64 {
	ts, ok := doc.Timestamp()
	if !ok {
		return 0.5
	}
	hours := now.Sub(ts).Hours()
	if hours < 0 {
		hours = 0
	}
	return clamp(math.Exp(-f.decayRate*hours), 0.1, 1.0)
}

// turnScore applies the same decay over turn distance from the scope's latest
// turn. Documents without turn metadata score a neutral 0.5.
func (f *fallbackScorer) turnScore(doc *store.Document, latestTurn int64) float64 {
	turn, ok := doc.Turn()
	if !ok {
		return 0.5
	}
	distance := float64(latestTurn - turn)
	if distance < 0 {
		distance = 0
	}
	return clamp(math.Exp(-f.decayRate*distance), 0.1, 1.0)
}

var (
	cjkRunPattern   = regexp.MustCompile(`\p{Han}{2,}`)
	wordRunPattern  = regexp.MustCompile(`[A-Za-z]{2,}`)
	digitRunPattern = regexp.MustCompile(`\d{2,}`)
)

// matchScore blends token overlap (0.4), character-sequence similarity (0.3)
// and shared-entity ratio (0.3) between query and document content.
func matchScore(query string, queryTokens map[string]struct{}, queryEntities []string, content string) float64 {
	overlap := tokenOverlap(queryTokens, tokenize(content))
	sequence := sequenceRatio(strings.ToLower(query), strings.ToLower(content))
	entities := entityRatio(queryEntities, content)
	return 0.4*overlap + 0.3*sequence + 0.3*entities
}

// tokenize lowercases text and splits it into letter/digit runs, with CJK
// characters contributing one token each (there is no whitespace to split on).
func tokenize(text string) map[string]struct{} {
	tokens := make(map[string]struct{})
	var run []rune
	flush := func() {
		if len(run) > 0 {
			tokens[string(run)] = struct{}{}
			run = run[:0]
		}
	}
	for _, r := range strings.ToLower(text) {
		switch {
		case unicode.Is(unicode.Han, r):
			flush()
			tokens[string(r)] = struct{}{}
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			run = append(run, r)
		default:
			flush()
		}
	}
	flush()
	return tokens
}

func tokenOverlap(query, content map[string]struct{}) float64 {
	if len(query) == 0 {
		return 0
	}
	var shared int
	for token := range query {
		if _, ok := content[token]; ok {
			shared++
		}
	}
	return float64(shared) / float64(len(query))
}

// sequenceRatio is 2*lcs/(len(a)+len(b)) over runes, the classic similarity
// ratio. Inputs are capped so a pathological document cannot make scoring
// quadratic in content length.
func sequenceRatio(a, b string) float64 {
	const maxRunes = 200
	ra := truncateRunes(a, maxRunes)
	rb := truncateRunes(b, maxRunes)
	if len(ra) == 0 || len(rb) == 0 {
		return 0
	}

	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for i := 1; i <= len(ra); i++ {
		for j := 1; j <= len(rb); j++ {
			if ra[i-1] == rb[j-1] {
				curr[j] = prev[j-1] + 1
			} else if prev[j] >= curr[j-1] {
				curr[j] = prev[j]
			} else {
				curr[j] = curr[j-1]
			}
		}
		prev, curr = curr, prev
	}
	lcs := prev[len(rb)]
	return 2 * float64(lcs) / float64(len(ra)+len(rb))
}

func truncateRunes(s string, n int) []rune {
	runes := []rune(s)
	if len(runes) > n {
		runes = runes[:n]
	}
	return runes
}

// extractEntities pulls the query's salient spans: 2+-character CJK runs,
// 2+-letter words and 2+-digit numbers.
func extractEntities(query string) []string {
	var entities []string
	entities = append(entities, cjkRunPattern.FindAllString(query, -1)...)
	entities = append(entities, wordRunPattern.FindAllString(query, -1)...)
	entities = append(entities, digitRunPattern.FindAllString(query, -1)...)
	return entities
}

func entityRatio(entities []string, content string) float64 {
	if len(entities) == 0 {
		return 0
	}
	lower := strings.ToLower(content)
	var shared int
	for _, entity := range entities {
		if strings.Contains(lower, strings.ToLower(entity)) {
			shared++
		}
	}
	return float64(shared) / float64(len(entities))
}

// qualityScore is a heuristic proxy for "informative" turns: content length
// peaking in the 50-200 char band, interrogative punctuation, quotation marks.
func qualityScore(content string) float64 {
	runes := []rune(content)
	n := len(runes)

	var length float64
	switch {
	case n == 0:
		length = 0
	case n < 50:
		length = float64(n) / 50
	case n <= 200:
		length = 1.0
	default:
		length = clamp(200/float64(n), 0.3, 1.0)
	}

	var interrogative float64
	if strings.ContainsAny(content, "?？") {
		interrogative = 1.0
	}
	var quoted float64
	if strings.ContainsAny(content, `"'“”‘’「」『』`) {
		quoted = 1.0
	}

	return 0.5*length + 0.25*interrogative + 0.25*quoted
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
