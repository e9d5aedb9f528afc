package compactor

import "strings"

// DefaultSimilarityThreshold is the shingle-Jaccard cutoff for dropping a
// near-duplicate message.
const DefaultSimilarityThreshold = 0.6

// shingles returns the word-trigram shingle set of a message body.
func shingles(text string) map[string]bool {
	words := strings.Fields(strings.ToLower(text))
	set := make(map[string]bool)
	if len(words) < 3 {
		// Short bodies shingle as a whole so tiny duplicates still compare.
		if len(words) > 0 {
			set[strings.Join(words, " ")] = true
		}
		return set
	}
	for i := 0; i+2 < len(words); i++ {
		set[words[i]+" "+words[i+1]+" "+words[i+2]] = true
	}
	return set
}

func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for s := range a {
		if b[s] {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

// DedupMessages compares message bodies pairwise by trigram-shingle Jaccard
// similarity; when a pair scores at or above the threshold the earlier
// message is dropped. Returns the survivors (order preserved) and the
// number of duplicates removed.
func DedupMessages(bodies []string, threshold float64) ([]string, int) {
	if threshold <= 0 {
		threshold = DefaultSimilarityThreshold
	}

	sets := make([]map[string]bool, len(bodies))
	for i, b := range bodies {
		sets[i] = shingles(b)
	}

	drop := make([]bool, len(bodies))
	removed := 0
	for i := 0; i < len(bodies); i++ {
		if drop[i] {
			continue
		}
		for j := i + 1; j < len(bodies); j++ {
			if drop[j] {
				continue
			}
			if jaccard(sets[i], sets[j]) >= threshold {
				// Later occurrence wins; the earlier is the duplicate.
				drop[i] = true
				removed++
				break
			}
		}
	}

	out := make([]string, 0, len(bodies))
	for i, b := range bodies {
		if !drop[i] {
			out = append(out, b)
		}
	}
	return out, removed
}
