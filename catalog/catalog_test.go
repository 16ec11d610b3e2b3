package catalog

import (
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleCSV = `Vehicle,Value,Class
Ford Mustang GT,"$45,000",C
Ford Focus RS,"$60,000",B
"Porsche 911 GT3 RS",$250000,S1
Lamborghini Huracán,$320000,S1
,$10000,D
Broken Row,n/a,D
`

func sampleCatalog(t *testing.T) *Catalog {
	t.Helper()
	c, err := Parse(strings.NewReader(sampleCSV))
	require.NoError(t, err)
	return c
}

func TestParse(t *testing.T) {
	c := sampleCatalog(t)

	want := []string{"Ford Mustang GT", "Ford Focus RS", "Porsche 911 GT3 RS", "Lamborghini Huracán"}
	got := make([]string, 0, c.Len())
	for _, car := range c.Cars() {
		got = append(got, car.Name)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("cars mismatch (-want +got):\n%s", diff)
	}

	car, ok := c.Lookup("ford focus rs")
	require.True(t, ok)
	assert.Equal(t, 60000, car.Value)
}

func TestParse_MissingColumns(t *testing.T) {
	_, err := Parse(strings.NewReader("Name,Price\nx,1\n"))
	assert.ErrorIs(t, err, ErrMissingColumns)
}

func TestNormalizeSearchText(t *testing.T) {
	tests := map[string]string{
		"  Porsche 911 GT3-RS ": "porsche 911 gt3 rs",
		"Lamborghini Huracán":   "lamborghini huracan",
		"!!!":                   "",
		"A__B":                  "a b",
	}
	for in, want := range tests {
		assert.Equal(t, want, NormalizeSearchText(in), "input %q", in)
	}
}

func TestFuzzyScore(t *testing.T) {
	// substring hit
	assert.Equal(t, 1000+50-(len("ford focus rs")-len("focus")), FuzzyScore("ford focus rs", "focus"))
	// token match: both tokens are prefixes, token counts 3 vs 2
	assert.Equal(t, 10+2+4, FuzzyScore("ford focus rs", "ford rs"))
	// one token missing
	assert.Zero(t, FuzzyScore("ford focus rs", "ford civic"))
	assert.Zero(t, FuzzyScore("ford focus rs", ""))
}

func TestSearch(t *testing.T) {
	c := sampleCatalog(t)

	assert.Equal(t, []string{"Ford Focus RS", "Ford Mustang GT"}, c.Search("ford", 0))
	assert.Equal(t, []string{"Ford Mustang GT"}, c.Search("ford", 50000), "budget filters the pool")
	assert.Equal(t, []string{"Lamborghini Huracán"}, c.Search("huracan", 0))
	assert.Empty(t, c.Search("   ", 0))
}

func TestRandomWithinBudget(t *testing.T) {
	c := sampleCatalog(t)
	rng := rand.New(rand.NewPCG(1, 2))

	for i := 0; i < 50; i++ {
		car, ok := c.Random(rng, 60000)
		require.True(t, ok)
		assert.LessOrEqual(t, car.Value, 60000)
	}
	_, ok := c.Random(rng, 1000)
	assert.False(t, ok)
}

func TestBandDraw(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 7))
	allowed := map[int]bool{}
	for _, v := range FullBand.Values() {
		allowed[v] = true
	}
	require.Len(t, allowed, 19)

	for i := 0; i < 500; i++ {
		v := FullBand.Draw(rng)
		assert.True(t, allowed[v], "value %d not on the band", v)
	}

	d, ok := ClassByLabel("D")
	require.True(t, ok)
	assert.Equal(t, []int{50000, 75000, 100000}, d.Band.Values())
	assert.Equal(t, 0x3dbaea, ClassColor("D"))
	assert.Equal(t, DefaultColor, ClassColor("Z"))
}

func TestFormatMoney(t *testing.T) {
	assert.Equal(t, "$125,000", FormatMoney(125000))
	assert.Equal(t, "$500", FormatMoney(500))
}

func TestLoadIcons(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Drag.png"), []byte("x"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested"), 0o755))

	icons, err := LoadIcons(dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "Drag.png"), icons.For("drag"))
	assert.Empty(t, icons.For("rally"))

	missing, err := LoadIcons(filepath.Join(dir, "nope"))
	require.NoError(t, err)
	assert.Empty(t, missing)
}
