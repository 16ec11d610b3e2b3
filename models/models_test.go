package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLapTime(t *testing.T) {
	tests := []struct {
		in   string
		want int
		ok   bool
	}{
		{"1:23.456", 83456, true},
		{"0:59.9", 59900, true},
		{"2:05.12", 125120, true},
		{"10:00.000", 600000, true},
		{"1:60.000", 0, false},
		{"1:23", 0, false},
		{"1:23.4567", 0, false},
		{"abc", 0, false},
	}
	for _, tt := range tests {
		got, ok := ParseLapTime(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestFormatLapTime(t *testing.T) {
	assert.Equal(t, "1:23.456", FormatLapTime(83456))
	assert.Equal(t, "0:05.007", FormatLapTime(5007))
}

func TestRaceTypeValid(t *testing.T) {
	assert.True(t, RaceDrag.Valid())
	assert.True(t, RaceAll.Valid())
	assert.False(t, RaceType("karting").Valid())
	assert.True(t, (&Round{RaceType: RaceAll}).IsSeries())
}

func TestPlayerName(t *testing.T) {
	assert.Equal(t, "Dee", Player{Username: "dee99", DisplayName: "Dee"}.Name())
	assert.Equal(t, "dee99", Player{Username: "dee99"}.Name())
}
