package catalog

import (
	"math/rand/v2"

	"github.com/samber/lo"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Band is an inclusive value range sampled in Step increments.
type Band struct {
	Min  int
	Max  int
	Step int
}

// FullBand is used when a round does not restrict the class.
var FullBand = Band{Min: 50_000, Max: 500_000, Step: 25_000}

// Class is a car class label with its value bracket and display colour.
type Class struct {
	Label string
	Band  Band
	Color int
}

var Classes = []Class{
	{Label: "D", Band: Band{50_000, 100_000, 25_000}, Color: 0x3dbaea},
	{Label: "C", Band: Band{75_000, 125_000, 25_000}, Color: 0xf6bf31},
	{Label: "B", Band: Band{100_000, 150_000, 25_000}, Color: 0xff6533},
	{Label: "A", Band: Band{125_000, 175_000, 25_000}, Color: 0xfc355a},
	{Label: "S1", Band: Band{250_000, 350_000, 25_000}, Color: 0xbd5ee4},
	{Label: "S2", Band: Band{350_000, 500_000, 25_000}, Color: 0x1567d6},
}

// DefaultColor is used for replies not tied to a class.
const DefaultColor = 0x5865f2

func ClassByLabel(label string) (Class, bool) {
	return lo.Find(Classes, func(c Class) bool { return c.Label == label })
}

// ClassColor returns the colour for label, or DefaultColor.
func ClassColor(label string) int {
	if c, ok := ClassByLabel(label); ok {
		return c.Color
	}
	return DefaultColor
}

// RandomClass picks a class uniformly.
func RandomClass(rng *rand.Rand) Class {
	return Classes[rng.IntN(len(Classes))]
}

// Values lists every value the band can produce, ascending.
func (b Band) Values() []int {
	if b.Step <= 0 || b.Max < b.Min {
		return []int{b.Min}
	}
	var out []int
	for v := b.Min; v <= b.Max; v += b.Step {
		out = append(out, v)
	}
	return out
}

// Draw returns min + step*k with k uniform over 0..floor((max-min)/step).
func (b Band) Draw(rng *rand.Rand) int {
	if b.Step <= 0 || b.Max <= b.Min {
		return b.Min
	}
	steps := (b.Max - b.Min) / b.Step
	return b.Min + b.Step*rng.IntN(steps+1)
}

var printer = message.NewPrinter(language.English)

// FormatMoney renders whole dollars with thousands separators, e.g. $125,000.
func FormatMoney(v int) string {
	return printer.Sprintf("$%d", v)
}
