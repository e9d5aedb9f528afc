// Package match scores semantic similarity of short strings (role labels,
// task descriptions) for sub-agent reuse and template selection.
//
// The score blends three dimensions: exact keyword overlap, fuzzy token
// similarity (edit distance), and synonym-group expansion.
package match

import (
	"strings"
	"sync"
)

// Default weights and threshold.
const (
	WeightKeyword = 0.5
	WeightFuzzy   = 0.2
	WeightSynonym = 0.3

	DefaultMinScore = 0.3
)

var stopWords = map[string]bool{
	"the": true, "and": true, "for": true, "with": true, "that": true,
	"this": true, "from": true, "you": true, "your": true, "are": true,
	"was": true, "were": true, "will": true, "can": true, "could": true,
	"should": true, "would": true, "about": true, "into": true, "over": true,
	"some": true, "any": true, "all": true, "has": true, "have": true,
	"had": true, "not": true, "but": true, "its": true, "our": true,
	"out": true, "who": true, "how": true, "what": true, "when": true,
	"where": true, "which": true, "then": true, "than": true, "them": true,
	"they": true, "their": true, "been": true, "being": true, "also": true,
	"each": true, "more": true, "most": true, "other": true, "such": true,
	"very": true, "just": true, "only": true, "both": true, "does": true,
	"please": true, "need": true, "want": true, "help": true, "make": true,
	"using": true, "use": true, "new": true, "get": true,
}

// builtinSynonyms seeds the synonym table. Each inner slice is one group.
var builtinSynonyms = [][]string{
	{"developer", "engineer", "coder", "programmer", "dev"},
	{"research", "analyze", "investigate", "study", "examine"},
	{"researcher", "analyst", "investigator", "specialist"},
	{"write", "compose", "draft", "author", "create"},
	{"writer", "author", "copywriter"},
	{"review", "critique", "evaluate", "assess", "audit"},
	{"fix", "repair", "debug", "troubleshoot", "resolve"},
	{"plan", "design", "architect", "outline"},
	{"data", "dataset", "statistics", "stats"},
	{"test", "verify", "validate", "check"},
	{"summarize", "condense", "digest", "recap"},
	{"translate", "localize", "convert"},
	{"search", "find", "locate", "lookup"},
	{"report", "document", "brief"},
	{"manage", "organize", "coordinate", "schedule"},
	{"finance", "financial", "accounting", "budget"},
	{"legal", "law", "compliance", "regulatory"},
	{"market", "marketing", "advertising", "promotion"},
	{"expert", "professional", "consultant"},
	{"assistant", "helper", "aide"},
	{"build", "construct", "implement", "develop"},
	{"code", "software", "program", "script"},
}

// Matcher scores query/target pairs. Safe for concurrent use; synonym
// groups may be extended at runtime.
type Matcher struct {
	mu       sync.RWMutex
	synonyms map[string]int // word → group id
	groups   int
	minScore float64
}

// New creates a Matcher with the built-in synonym table and the default
// minimum score.
func New() *Matcher {
	m := &Matcher{
		synonyms: make(map[string]int),
		minScore: DefaultMinScore,
	}
	for _, group := range builtinSynonyms {
		m.addGroup(group)
	}
	return m
}

// SetMinScore overrides the FindBest acceptance threshold.
func (m *Matcher) SetMinScore(s float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.minScore = s
}

// AddSynonyms registers an additional synonym group at runtime. Words are
// normalized through the tokenizer; a group with fewer than 2 usable words
// is a no-op.
func (m *Matcher) AddSynonyms(words []string) {
	var usable []string
	for _, w := range words {
		toks := Tokenize(w)
		if len(toks) == 1 {
			usable = append(usable, toks[0])
		}
	}
	if len(usable) < 2 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.addGroup(usable)
}

// addGroup merges a group into the table. If any member already belongs to
// a group, the new members join that group.
func (m *Matcher) addGroup(words []string) {
	id := -1
	for _, w := range words {
		if g, ok := m.synonyms[w]; ok {
			id = g
			break
		}
	}
	if id < 0 {
		id = m.groups
		m.groups++
	}
	for _, w := range words {
		m.synonyms[w] = id
	}
}

// Tokenize lowercases, replaces non-alphanumeric runes with spaces, splits,
// and drops stop words and tokens of length <= 2.
func Tokenize(s string) []string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte(' ')
		}
	}

	var tokens []string
	for _, tok := range strings.Fields(b.String()) {
		if len(tok) <= 2 || stopWords[tok] {
			continue
		}
		tokens = append(tokens, tok)
	}
	return tokens
}

// Score returns the hybrid similarity of query vs target in [0,1].
func (m *Matcher) Score(query, target string) float64 {
	q := Tokenize(query)
	t := Tokenize(target)
	if len(q) == 0 || len(t) == 0 {
		return 0
	}

	targetSet := make(map[string]bool, len(t))
	for _, tok := range t {
		targetSet[tok] = true
	}

	keyword := keywordOverlap(q, t, targetSet)
	fuzzy := fuzzyScore(q, t)
	synonym := m.synonymScore(q, targetSet)

	score := WeightKeyword*keyword + WeightFuzzy*fuzzy + WeightSynonym*synonym
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

// keywordOverlap = exact matches / min(|query|, |target|).
func keywordOverlap(q, t []string, targetSet map[string]bool) float64 {
	matches := 0
	seen := make(map[string]bool, len(q))
	for _, tok := range q {
		if seen[tok] {
			continue
		}
		seen[tok] = true
		if targetSet[tok] {
			matches++
		}
	}
	denom := len(seen)
	// Count distinct target tokens for the min.
	distinctT := len(targetSet)
	if distinctT < denom {
		denom = distinctT
	}
	if denom == 0 {
		return 0
	}
	return float64(matches) / float64(denom)
}

// fuzzyScore averages, over query tokens, the best token similarity against
// the target; only contributions above 0.5 count.
func fuzzyScore(q, t []string) float64 {
	total := 0.0
	for _, qt := range q {
		best := 0.0
		for _, tt := range t {
			if sim := tokenSimilarity(qt, tt); sim > best {
				best = sim
			}
		}
		if best > 0.5 {
			total += best
		}
	}
	return total / float64(len(q))
}

// tokenSimilarity: 1.0 equal; 0.8 containment with both length >= 4;
// otherwise 1 - levenshtein/maxLen.
func tokenSimilarity(a, b string) float64 {
	if a == b {
		return 1.0
	}
	if len(a) >= 4 && len(b) >= 4 &&
		(strings.Contains(a, b) || strings.Contains(b, a)) {
		return 0.8
	}
	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}
	if maxLen == 0 {
		return 0
	}
	return 1.0 - float64(levenshtein(a, b))/float64(maxLen)
}

// synonymScore = query tokens absent from target but with a synonym-group
// peer present in target, divided by |query tokens|.
func (m *Matcher) synonymScore(q []string, targetSet map[string]bool) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	// Group ids present in the target.
	targetGroups := make(map[int]bool)
	for tok := range targetSet {
		if g, ok := m.synonyms[tok]; ok {
			targetGroups[g] = true
		}
	}

	hits := 0
	for _, tok := range q {
		if targetSet[tok] {
			continue
		}
		if g, ok := m.synonyms[tok]; ok && targetGroups[g] {
			hits++
		}
	}
	return float64(hits) / float64(len(q))
}

// Candidate pairs an arbitrary id with its searchable text.
type Candidate struct {
	ID   string
	Text string
}

// FindBest returns the highest-scoring candidate meeting the minimum score,
// with ties broken by encounter order. ok is false when nothing qualifies.
func (m *Matcher) FindBest(query string, candidates []Candidate) (best Candidate, score float64, ok bool) {
	m.mu.RLock()
	min := m.minScore
	m.mu.RUnlock()

	bestScore := -1.0
	for _, c := range candidates {
		s := m.Score(query, c.Text)
		if s > bestScore {
			bestScore = s
			best = c
		}
	}
	if bestScore < min || bestScore < 0 {
		return Candidate{}, 0, false
	}
	return best, bestScore, true
}

// levenshtein computes edit distance with a two-row rolling buffer.
func levenshtein(a, b string) int {
	if a == b {
		return 0
	}
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}

	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = minInt(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}

func minInt(vals ...int) int {
	m := vals[0]
	for _, v := range vals[1:] {
		if v < m {
			m = v
		}
	}
	return m
}
