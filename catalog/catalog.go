// Package catalog holds the car list the rounds draw from: loading it from
// CSV, fuzzy search, random picks within a budget, and the class/value bands.
package catalog

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/samber/lo"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// MaxSearchResults caps Search.
const MaxSearchResults = 20

var ErrMissingColumns = errors.New("catalog: csv needs Vehicle and Value columns")

// Car 车辆
type Car struct {
	Name  string `json:"name"`
	Value int    `json:"value"`

	normalized string
}

type Catalog struct {
	cars []Car
}

// New builds a catalog from an in-memory list.
func New(cars []Car) *Catalog {
	c := &Catalog{cars: make([]Car, 0, len(cars))}
	for _, car := range cars {
		if car.Name == "" {
			continue
		}
		car.normalized = NormalizeSearchText(car.Name)
		c.cars = append(c.cars, car)
	}
	return c
}

// Load reads the catalog CSV at path.
func Load(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Parse(f)
}

// Parse reads a CSV with a header row containing "Vehicle" and "Value".
// Values keep only their digits ("$1,250,000" -> 1250000); rows without a
// name or digits are skipped.
func Parse(r io.Reader) (*Catalog, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return New(nil), nil
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: read header: %w", err)
	}
	vehicleIdx := lo.IndexOf(header, "Vehicle")
	valueIdx := lo.IndexOf(header, "Value")
	if vehicleIdx < 0 || valueIdx < 0 {
		return nil, ErrMissingColumns
	}

	var cars []Car
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("catalog: read row: %w", err)
		}
		if vehicleIdx >= len(record) || valueIdx >= len(record) {
			continue
		}
		value, ok := digits(record[valueIdx])
		if !ok || record[vehicleIdx] == "" {
			continue
		}
		cars = append(cars, Car{Name: record[vehicleIdx], Value: value})
	}
	return New(cars), nil
}

func digits(s string) (int, bool) {
	kept := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)
	if kept == "" {
		return 0, false
	}
	v, err := strconv.Atoi(kept)
	return v, err == nil
}

func (c *Catalog) Len() int { return len(c.cars) }

func (c *Catalog) Cars() []Car { return c.cars }

// Lookup finds a car by exact name, ignoring case.
func (c *Catalog) Lookup(name string) (Car, bool) {
	return lo.Find(c.cars, func(car Car) bool { return strings.EqualFold(car.Name, name) })
}

// WithinBudget returns the cars whose value is at most budget. A budget <= 0
// means no limit.
func (c *Catalog) WithinBudget(budget int) []Car {
	if budget <= 0 {
		return c.cars
	}
	return lo.Filter(c.cars, func(car Car, _ int) bool { return car.Value <= budget })
}

// Random picks a uniformly random car within budget.
func (c *Catalog) Random(rng *rand.Rand, budget int) (Car, bool) {
	cars := c.WithinBudget(budget)
	if len(cars) == 0 {
		return Car{}, false
	}
	return cars[rng.IntN(len(cars))], true
}

// Search ranks cars within budget against query and returns up to
// MaxSearchResults names, best first.
func (c *Catalog) Search(query string, budget int) []string {
	q := NormalizeSearchText(query)
	if q == "" {
		return nil
	}

	type scored struct {
		name  string
		score int
	}
	var hits []scored
	for _, car := range c.WithinBudget(budget) {
		if s := FuzzyScore(car.normalized, q); s > 0 {
			hits = append(hits, scored{car.Name, s})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })
	if len(hits) > MaxSearchResults {
		hits = hits[:MaxSearchResults]
	}
	return lo.Map(hits, func(h scored, _ int) string { return h.name })
}

var foldAccents = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// NormalizeSearchText folds accents, lowercases, turns every run of
// characters outside [a-z0-9] into one space and trims.
func NormalizeSearchText(s string) string {
	folded, _, err := transform.String(foldAccents, s)
	if err != nil {
		folded = s
	}
	folded = strings.ToLower(folded)

	var b strings.Builder
	space := false
	for _, r := range folded {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
			continue
		}
		space = true
	}
	return b.String()
}

// FuzzyScore scores an already-normalized name against a normalized query.
// A substring hit scores 1000+; otherwise every query token has to appear in
// some name token, scoring 10+. Zero means no match.
func FuzzyScore(name, query string) int {
	if query == "" {
		return 0
	}
	if strings.Contains(name, query) {
		return 1000 + max(0, 50-abs(len(name)-len(query)))
	}

	nameTokens := strings.Fields(name)
	queryTokens := strings.Fields(query)
	prefixes := 0
	for _, qt := range queryTokens {
		found := false
		for _, nt := range nameTokens {
			if strings.Contains(nt, qt) {
				found = true
				break
			}
		}
		if !found {
			return 0
		}
		if lo.SomeBy(nameTokens, func(nt string) bool { return strings.HasPrefix(nt, qt) }) {
			prefixes++
		}
	}
	return 10 + prefixes + max(0, 5-abs(len(nameTokens)-len(queryTokens)))
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
