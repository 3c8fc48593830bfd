package scan

import (
	"strconv"
	"strings"
)

const (
	DefaultMinScore = 0
	DefaultMaxScore = 180
)

// Pair is one extracted (display name, score) couple.
type Pair struct {
	Name  string `json:"name"`
	Score int    `json:"score"`
}

// Extraction is the outcome of tokenizing one block of OCR text. Tokens that
// could not be paired are carried in Unmatched in input order, never dropped.
type Extraction struct {
	Pairs     []Pair   `json:"pairs"`
	Unmatched []string `json:"unmatched,omitempty"`
}

// Extractor pairs name tokens with score tokens from free-form OCR output.
// It never fails: malformed input degrades to unmatched tokens.
type Extractor struct {
	minScore int
	maxScore int
}

// NewExtractor builds an extractor accepting scores in [minScore, maxScore].
// Passing maxScore <= 0 selects the defaults.
func NewExtractor(minScore, maxScore int) *Extractor {
	if maxScore <= 0 {
		minScore = DefaultMinScore
		maxScore = DefaultMaxScore
	}
	return &Extractor{minScore: minScore, maxScore: maxScore}
}

// Extract tokenizes text and pairs names with scores. The input is run
// through two complementary passes, one assuming names precede their score
// and one assuming scores precede their names, and the pass leaving fewer
// unmatched tokens wins. Ties go to the name-first reading, which matches
// the row order of the in-game result screen.
func (e *Extractor) Extract(text string) Extraction {
	tokens := tokenize(text)
	if len(tokens) == 0 {
		return Extraction{}
	}

	nfPairs, nfOrphans := e.pairNameFirst(tokens)
	sfPairs, sfOrphans := e.pairScoreFirst(tokens)

	if len(sfOrphans) < len(nfOrphans) {
		return Extraction{Pairs: sfPairs, Unmatched: sfOrphans}
	}
	return Extraction{Pairs: nfPairs, Unmatched: nfOrphans}
}

// pairNameFirst reads tokens assuming "name [name ...] score" rows. Name
// tokens accumulate until a score token closes the pair; a score with no
// accumulated name is an orphan, as are trailing names at end of input.
func (e *Extractor) pairNameFirst(tokens []string) ([]Pair, []string) {
	var (
		pairs   []Pair
		orphans []string
		names   []string
	)
	for _, tok := range tokens {
		score, ok := e.scoreToken(tok)
		if !ok {
			names = append(names, tok)
			continue
		}
		if len(names) == 0 {
			orphans = append(orphans, tok)
			continue
		}
		pairs = append(pairs, Pair{Name: strings.Join(names, " "), Score: score})
		names = names[:0]
	}
	orphans = append(orphans, names...)
	return pairs, orphans
}

// pairScoreFirst reads tokens assuming "score name [name ...]" rows. A score
// token opens a pending pair which the following name tokens attach to; the
// next score token or end of input closes it. A pending score that collected
// no names is an orphan, as are names seen before the first score.
func (e *Extractor) pairScoreFirst(tokens []string) ([]Pair, []string) {
	var (
		pairs      []Pair
		orphans    []string
		names      []string
		pending    int
		pendingTok string
		open       bool
	)
	flush := func() {
		if !open {
			return
		}
		if len(names) == 0 {
			orphans = append(orphans, pendingTok)
			return
		}
		pairs = append(pairs, Pair{Name: strings.Join(names, " "), Score: pending})
		names = names[:0]
	}
	for _, tok := range tokens {
		score, ok := e.scoreToken(tok)
		if !ok {
			if !open {
				orphans = append(orphans, tok)
				continue
			}
			names = append(names, tok)
			continue
		}
		flush()
		pending, pendingTok, open = score, tok, true
	}
	flush()
	return pairs, orphans
}

// scoreToken reports whether tok is an integer inside the accepted score
// range. Out-of-range integers are treated as name material since gamer tags
// are frequently numeric.
func (e *Extractor) scoreToken(tok string) (int, bool) {
	n, err := strconv.Atoi(tok)
	if err != nil {
		return 0, false
	}
	if n < e.minScore || n > e.maxScore {
		return 0, false
	}
	return n, true
}

// tokenize splits OCR text on whitespace and strips the punctuation OCR
// tends to glue onto tokens. Tokens that are pure punctuation disappear.
func tokenize(text string) []string {
	fields := strings.Fields(text)
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, ".,;:|()[]")
		if f == "" {
			continue
		}
		out = append(out, f)
	}
	return out
}
