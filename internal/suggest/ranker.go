package suggest

import (
	"sort"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/LaNNy-kz/web-weather-20/internal/models"
)

// Direction selects the sort order for ranked suggestions.
type Direction int

const (
	Ascending Direction = iota
	Descending
)

// ParseDirection maps a query-string value to a Direction. Anything but
// "desc" sorts ascending.
func ParseDirection(s string) Direction {
	if s == "desc" {
		return Descending
	}
	return Ascending
}

// Suggestion is one ranked geocode candidate with the display name chosen
// for the requested language.
type Suggestion struct {
	DisplayName string              `json:"displayName"`
	Candidate   models.GeoCandidate `json:"candidate"`
}

// Rank produces a locale-aware sorted copy of the candidates. The display
// name per entry prefers the candidate's localized spelling for the
// requested language and falls back to the base name. Sorting uses the
// language's collation rules on the display name, tie-breaking on country
// then state so same-named places group together predictably. The input
// slice is not modified; this is a pure transform with no cache or network
// interaction.
func Rank(candidates []models.GeoCandidate, lang string, dir Direction) []Suggestion {
	tag, err := language.Parse(lang)
	if err != nil || tag == language.Und {
		tag = language.English
	}
	base, _ := tag.Base()
	col := collate.New(tag)

	out := make([]Suggestion, len(candidates))
	for i, c := range candidates {
		out[i] = Suggestion{
			DisplayName: c.LocalName(base.String()),
			Candidate:   c,
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		cmp := col.CompareString(out[i].DisplayName, out[j].DisplayName)
		if cmp == 0 {
			cmp = col.CompareString(out[i].Candidate.Country, out[j].Candidate.Country)
		}
		if cmp == 0 {
			cmp = col.CompareString(out[i].Candidate.State, out[j].Candidate.State)
		}
		if dir == Descending {
			return cmp > 0
		}
		return cmp < 0
	})
	return out
}
