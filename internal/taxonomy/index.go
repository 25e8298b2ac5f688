package taxonomy

import (
	"finconv/internal"
	"finconv/internal/util"
)

// Index holds the lookup structures the matcher runs against. It is built
// once from the concept table and is safe for concurrent reads.
type Index struct {
	ConceptsByID        map[int]internal.TaxonomyConcept
	ByLabel             map[string][]int
	ByTag               map[string]int
	SynonymToID         map[string]int
	TokenToConceptIDs   map[string]map[int]struct{}
	NormalizedLabelByID map[int]string
}

func BuildIndex(concepts []internal.TaxonomyConcept) *Index {
	idx := &Index{
		ConceptsByID:        map[int]internal.TaxonomyConcept{},
		ByLabel:             map[string][]int{},
		ByTag:               map[string]int{},
		SynonymToID:         map[string]int{},
		TokenToConceptIDs:   map[string]map[int]struct{}{},
		NormalizedLabelByID: map[int]string{},
	}

	for _, c := range concepts {
		idx.ConceptsByID[c.ID] = c
		norm := util.NormalizeLabel(c.Label)
		idx.NormalizedLabelByID[c.ID] = norm
		idx.ByLabel[norm] = append(idx.ByLabel[norm], c.ID)
		idx.ByTag[util.NormalizeLabel(c.Tag)] = c.ID

		for _, syn := range c.Synonyms {
			normSyn := util.NormalizeLabel(syn)
			if normSyn == "" {
				continue
			}
			if _, taken := idx.SynonymToID[normSyn]; !taken {
				idx.SynonymToID[normSyn] = c.ID
			}
		}

		for _, token := range util.Tokenize(c.Label) {
			if _, ok := idx.TokenToConceptIDs[token]; !ok {
				idx.TokenToConceptIDs[token] = map[int]struct{}{}
			}
			idx.TokenToConceptIDs[token][c.ID] = struct{}{}
		}
	}

	return idx
}
