package images

import (
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"endochat/internal/domain"
)

// KeywordSet ties a catalog image to the phrases that make it relevant.
type KeywordSet struct {
	Filename string
	Keywords []string
}

// DefaultKeywords covers the reference images of the endocrinology corpus in
// English, French and Arabic.
func DefaultKeywords() []KeywordSet {
	return []KeywordSet{
		{
			Filename: "programme_formation_insulinotherapie.png",
			Keywords: []string{
				"insulin therapy training", "functional insulin", "training program",
				"therapeutic education", "insulinothérapie", "programme de formation",
				"éducation thérapeutique", "برنامج تدريب", "العلاج بالأنسولين", "التثقيف العلاجي",
			},
		},
		{
			Filename: "gestion_hypoglycemie.png",
			Keywords: []string{
				"hypoglycemia", "hypoglycaemia", "low blood sugar", "blood sugar is low",
				"sugar levels are too low", "hypoglycémie", "glycémie basse",
				"نقص السكر", "انخفاض السكر",
			},
		},
		{
			Filename: "objectifs_glycemiques.png",
			Keywords: []string{
				"glycemic target", "blood sugar goal", "glucose target", "hba1c target",
				"target values", "monitoring targets", "objectifs glycémiques",
				"objectif glycémique", "cibles glycémiques", "الأهداف السكرية", "أهداف السكر",
			},
		},
	}
}

// Matcher scores catalog images against a query by counting the keywords the
// query contains.
type Matcher struct {
	catalog  domain.ImageCatalog
	keywords []KeywordSet
}

// NewMatcher lower-cases and copies the keyword sets; nil selects DefaultKeywords.
func NewMatcher(catalog domain.ImageCatalog, keywords []KeywordSet) *Matcher {
	if keywords == nil {
		keywords = DefaultKeywords()
	}
	sets := make([]KeywordSet, 0, len(keywords))
	for _, ks := range keywords {
		lowered := make([]string, 0, len(ks.Keywords))
		for _, kw := range ks.Keywords {
			if kw = strings.ToLower(strings.TrimSpace(kw)); kw != "" {
				lowered = append(lowered, kw)
			}
		}
		sets = append(sets, KeywordSet{Filename: ks.Filename, Keywords: lowered})
	}
	return &Matcher{catalog: catalog, keywords: sets}
}

// Match returns the relevant images ordered by descending score. Ties keep
// keyword-set order. An empty or failing catalog yields no images. The
// keyword sets already span every supported language, so lang does not
// narrow the search.
func (m *Matcher) Match(query string, lang domain.Language) []domain.ImageMatch {
	if m == nil || m.catalog == nil || strings.TrimSpace(query) == "" {
		return nil
	}
	all, err := m.catalog.AllImages()
	if err != nil {
		log.Warn().Err(err).Msg("Image catalog unavailable")
		return nil
	}
	if len(all) == 0 {
		return nil
	}
	byName := make(map[string]domain.ImageEntry, len(all))
	for _, img := range all {
		byName[img.Filename] = img
	}

	q := strings.ToLower(query)
	var matches []domain.ImageMatch
	for _, ks := range m.keywords {
		entry, ok := byName[ks.Filename]
		if !ok {
			continue
		}
		score := 0
		for _, kw := range ks.Keywords {
			if strings.Contains(q, kw) {
				score++
			}
		}
		if score > 0 {
			matches = append(matches, domain.ImageMatch{ImageEntry: entry, Score: score})
		}
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })

	log.Debug().Str("lang", string(lang)).Int("matches", len(matches)).Msg("Image relevance computed")
	return matches
}
