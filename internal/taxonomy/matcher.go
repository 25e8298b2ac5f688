package taxonomy

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"

	"finconv/internal"
	"finconv/internal/config"
	"finconv/internal/util"
)

// MatchContext carries the optional scoping hints for one match call.
type MatchContext struct {
	Sector        string
	StatementKind internal.StatementKind
}

// Matcher maps free-text line-item labels to taxonomy concepts using a
// staged strategy: exact, fuzzy, assisted, then best-of-all fallback. Each
// stage is a pure function over the index; nothing here mutates shared
// state, so one Matcher serves concurrent jobs.
type Matcher struct {
	cfg     config.Config
	index   *Index
	learned map[string]internal.LearnedMapping
	scorer  Scorer
}

func NewMatcher(cfg config.Config, concepts []internal.TaxonomyConcept, learned []internal.LearnedMapping, scorer Scorer) *Matcher {
	m := &Matcher{
		cfg:     cfg,
		index:   BuildIndex(concepts),
		learned: map[string]internal.LearnedMapping{},
		scorer:  scorer,
	}
	if m.scorer == nil {
		m.scorer = NewStaticScorer()
	}
	for _, lm := range learned {
		key := mappingKey(lm.Label, deref(lm.Sector), deref(lm.StatementKind))
		// Keep-higher-confidence on duplicate labels.
		if existing, ok := m.learned[key]; ok && existing.Confidence >= lm.Confidence {
			continue
		}
		m.learned[key] = lm
	}
	return m
}

// Match returns the accepted taxonomy match for one line item. Nil means no
// stage cleared its threshold and no candidate cleared the fallback floor;
// the item then requires manual mapping.
func (m *Matcher) Match(ctx context.Context, item internal.LineItem, mctx MatchContext) *internal.TaxonomyMatch {
	if strings.TrimSpace(item.Label) == "" {
		return nil
	}

	var all []internal.TaxonomyMatch

	if match := m.exactStage(item.Label, mctx); match != nil {
		if match.Confidence >= m.cfg.ExactThreshold {
			return match
		}
		all = append(all, *match)
	}

	fuzzy, candidates := m.fuzzyStage(item.Label, mctx)
	if fuzzy != nil && fuzzy.Confidence >= m.cfg.FuzzyThreshold {
		return fuzzy
	}
	for _, c := range candidates {
		all = append(all, internal.TaxonomyMatch{Tag: c.Tag, Framework: c.Framework, Confidence: c.Confidence, Method: internal.MethodFuzzy})
	}

	if assisted := m.assistedStage(ctx, item, mctx); assisted != nil {
		if assisted.Confidence >= m.cfg.AssistThreshold {
			return assisted
		}
		all = append(all, *assisted)
	}

	return m.fallback(all)
}

// MatchAll annotates items in place, processing fixed-size batches; batches
// run concurrently since matches are pure and item-local.
func (m *Matcher) MatchAll(ctx context.Context, items []internal.LineItem, mctx MatchContext) []internal.LineItem {
	batchSize := m.cfg.MatchBatchSize
	if batchSize <= 0 {
		batchSize = 50
	}

	var wg sync.WaitGroup
	for start := 0; start < len(items); start += batchSize {
		end := start + batchSize
		if end > len(items) {
			end = len(items)
		}
		wg.Add(1)
		go func(batch []internal.LineItem) {
			defer wg.Done()
			for i := range batch {
				if batch[i].Match != nil {
					// Parsers that carry standardized tags pre-match.
					continue
				}
				batch[i].Match = m.Match(ctx, batch[i], mctx)
			}
		}(items[start:end])
	}
	wg.Wait()
	return items
}

// exactStage checks learned mappings first (scoped, then unscoped), then
// the taxonomy's own canonical names and tags. A direct table hit is fixed
// at confidence 100.
func (m *Matcher) exactStage(label string, mctx MatchContext) *internal.TaxonomyMatch {
	for _, key := range []string{
		mappingKey(label, mctx.Sector, string(mctx.StatementKind)),
		mappingKey(label, "", string(mctx.StatementKind)),
		mappingKey(label, "", ""),
	} {
		if lm, ok := m.learned[key]; ok {
			return &internal.TaxonomyMatch{
				Tag:        lm.Tag,
				Framework:  lm.Framework,
				Confidence: lm.Confidence,
				Method:     internal.MethodExact,
			}
		}
	}

	norm := util.NormalizeLabel(label)
	if ids := m.index.ByLabel[norm]; len(ids) > 0 {
		c := m.index.ConceptsByID[ids[0]]
		return &internal.TaxonomyMatch{Tag: c.Tag, Framework: c.Framework, Confidence: 100, Method: internal.MethodExact, Synonyms: c.Synonyms}
	}
	if id, ok := m.index.ByTag[norm]; ok {
		c := m.index.ConceptsByID[id]
		return &internal.TaxonomyMatch{Tag: c.Tag, Framework: c.Framework, Confidence: 100, Method: internal.MethodExact, Synonyms: c.Synonyms}
	}
	return nil
}

// fuzzyStage shortlists by containment/token overlap and scores each
// candidate with the word-overlap formula.
func (m *Matcher) fuzzyStage(label string, mctx MatchContext) (*internal.TaxonomyMatch, []internal.MatchCandidate) {
	norm := util.NormalizeLabel(label)
	shortlist := m.shortlist(norm, mctx)
	if len(shortlist) == 0 {
		return nil, nil
	}

	candidates := make([]internal.MatchCandidate, 0, len(shortlist))
	for _, id := range shortlist {
		c := m.index.ConceptsByID[id]
		score := m.scoreCandidate(norm, id, c)
		candidates = append(candidates, internal.MatchCandidate{
			Tag:        c.Tag,
			Label:      c.Label,
			Framework:  c.Framework,
			Confidence: score,
		})
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Confidence > candidates[j].Confidence })
	if len(candidates) > 5 {
		candidates = candidates[:5]
	}

	top := candidates[0]
	match := &internal.TaxonomyMatch{
		Tag:        top.Tag,
		Framework:  top.Framework,
		Confidence: top.Confidence,
		Method:     internal.MethodFuzzy,
	}
	if id, ok := m.index.ByTag[util.NormalizeLabel(top.Tag)]; ok {
		match.Synonyms = m.index.ConceptsByID[id].Synonyms
	}
	return match, candidates
}

func (m *Matcher) scoreCandidate(normQuery string, id int, c internal.TaxonomyConcept) float64 {
	normCandidate := m.index.NormalizedLabelByID[id]
	if normQuery == normCandidate {
		return 100
	}
	if synID, ok := m.index.SynonymToID[normQuery]; ok && synID == id {
		return 95
	}

	queryTokens := util.Tokenize(normQuery)
	candidateTokens := util.Tokenize(normCandidate)
	candidateSet := map[string]struct{}{}
	for _, t := range candidateTokens {
		candidateSet[t] = struct{}{}
	}

	score := 0.0
	for _, qt := range queryTokens {
		if _, ok := candidateSet[qt]; ok {
			score += 20
			continue
		}
		for _, ct := range candidateTokens {
			if strings.Contains(ct, qt) || strings.Contains(qt, ct) {
				score += 10
				break
			}
		}
	}

	lenA, lenB := float64(len(normQuery)), float64(len(normCandidate))
	if maxLen := math.Max(lenA, lenB); maxLen > 0 {
		score -= 20 * math.Abs(lenA-lenB) / maxLen
	}

	return clamp(score, 0, 100)
}

// shortlist finds concepts by shared tokens, substring containment and
// bigram similarity on the label, honoring sector/statement-kind scoping
// when the concept declares one.
func (m *Matcher) shortlist(normQuery string, mctx MatchContext) []int {
	ids := map[int]struct{}{}

	if id, ok := m.index.SynonymToID[normQuery]; ok {
		ids[id] = struct{}{}
	}
	for _, token := range util.Tokenize(normQuery) {
		for id := range m.index.TokenToConceptIDs[token] {
			ids[id] = struct{}{}
		}
	}
	for id, normLabel := range m.index.NormalizedLabelByID {
		if strings.Contains(normLabel, normQuery) || strings.Contains(normQuery, normLabel) ||
			util.DiceCoefficient(normQuery, normLabel) >= 0.5 {
			ids[id] = struct{}{}
		}
	}

	out := make([]int, 0, len(ids))
	for id := range ids {
		c := m.index.ConceptsByID[id]
		if c.StatementKind != nil && mctx.StatementKind != "" && mctx.StatementKind != internal.StatementUnknown &&
			*c.StatementKind != string(mctx.StatementKind) {
			continue
		}
		if c.Sector != nil && mctx.Sector != "" && !strings.EqualFold(*c.Sector, mctx.Sector) {
			continue
		}
		out = append(out, id)
	}
	sort.Ints(out)
	return out
}

func (m *Matcher) assistedStage(ctx context.Context, item internal.LineItem, mctx MatchContext) *internal.TaxonomyMatch {
	hint := ScoreHint{
		Sector:        mctx.Sector,
		StatementKind: string(mctx.StatementKind),
	}
	if item.NumberValue != nil {
		hint.Magnitude = math.Abs(*item.NumberValue)
	}
	match, ok := m.scorer.Score(ctx, item.Label, hint)
	if !ok {
		return nil
	}
	match.Confidence = clamp(match.Confidence, 0, 100)
	match.Method = internal.MethodAssisted
	return match
}

// fallback selects the highest-confidence candidate produced by any stage,
// accepting it only above the floor.
func (m *Matcher) fallback(all []internal.TaxonomyMatch) *internal.TaxonomyMatch {
	var best *internal.TaxonomyMatch
	for i := range all {
		if best == nil || all[i].Confidence > best.Confidence {
			best = &all[i]
		}
	}
	if best == nil || best.Confidence < m.cfg.FallbackFloor {
		return nil
	}
	out := *best
	return &out
}

func mappingKey(label, sector, kind string) string {
	return util.NormalizeLabel(label) + "|" + strings.ToLower(sector) + "|" + strings.ToLower(kind)
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

func deref(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
