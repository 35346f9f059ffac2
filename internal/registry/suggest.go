package registry

import (
	"math"

	"github.com/agnivade/levenshtein"
)

// MaxSuggestDistance is the largest edit distance still offered as a
// "did you mean" suggestion.
const MaxSuggestDistance = 3

// SuggestContract returns the registered contract name closest to name,
// or "" when nothing is close enough.
func (r *Registry) SuggestContract(name string) string {
	candidates := make([]string, 0, len(r.contractKeys))
	for _, k := range r.contractKeys {
		candidates = append(candidates, r.contracts[k].name)
	}
	return closest(name, candidates)
}

// SuggestChain returns the chain key closest to ref, or "".
func (r *Registry) SuggestChain(ref string) string {
	candidates := make([]string, 0, len(r.chainOrder))
	for _, id := range r.chainOrder {
		candidates = append(candidates, r.chains[id].Key)
	}
	return closest(ref, candidates)
}

func closest(input string, candidates []string) string {
	input = normalizeKey(input)
	if input == "" {
		return ""
	}

	minDist := math.MaxInt
	var suggestion string
	for _, c := range candidates {
		dist := levenshtein.ComputeDistance(input, normalizeKey(c))
		if dist < minDist {
			minDist = dist
			suggestion = c
		}
	}

	if minDist <= MaxSuggestDistance && minDist < len(input) {
		return suggestion
	}
	return ""
}
