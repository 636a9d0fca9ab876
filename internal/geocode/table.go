package geocode

import (
	_ "embed"
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"

	"fleetlive.io/internal/models"
)

//go:embed cities.yaml
var citiesYAML []byte

// City is one static lookup entry.
type City struct {
	Name string  `yaml:"name"`
	Lat  float64 `yaml:"lat"`
	Lng  float64 `yaml:"lng"`
}

func (c City) LatLng() models.LatLng {
	return models.LatLng{Lat: c.Lat, Lng: c.Lng}
}

// Table is an ordered list of known places.
type Table []City

// DefaultTable parses the embedded city list.
func DefaultTable() (Table, error) {
	return ParseTable(citiesYAML)
}

// ParseTable decodes a YAML list of cities. Names are stored normalized.
func ParseTable(data []byte) (Table, error) {
	var cities []City
	if err := yaml.Unmarshal(data, &cities); err != nil {
		return nil, fmt.Errorf("parsing city table: %w", err)
	}
	for i := range cities {
		cities[i].Name = normalize(cities[i].Name)
	}
	return Table(cities), nil
}

// Exact returns the city whose name equals text, ignoring case and accents.
func (t Table) Exact(text string) (City, bool) {
	q := normalize(text)
	if q == "" {
		return City{}, false
	}
	for _, c := range t {
		if c.Name == q {
			return c, true
		}
	}
	return City{}, false
}

// Substring returns the first city whose name appears as whole words inside text, or whose name
// contains text (for queries of at least minPartialQuery characters). A longer city
// name wins over a shorter one it contains.
func (t Table) Substring(text string) (City, bool) {
	q := normalize(text)
	if q == "" {
		return City{}, false
	}
	padded := " " + words(q) + " "
	var best City
	found := false
	for _, c := range t {
		if strings.Contains(padded, " "+c.Name+" ") || (len(q) >= minPartialQuery && strings.Contains(c.Name, q)) {
			if !found || len(c.Name) > len(best.Name) {
				best = c
				found = true
			}
		}
	}
	return best, found
}

const minPartialQuery = 3

// stripMarks decomposes accented letters and drops the combining marks.
func stripMarks(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// words replaces punctuation with spaces so names can be matched on word boundaries.
func words(s string) string {
	return strings.Join(strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}), " ")
}

func normalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = stripMarks(s)
	return strings.Join(strings.Fields(s), " ")
}
