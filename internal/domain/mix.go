package domain

import (
	"math"
	"strconv"
	"strings"
)

// ZeroVolume is the largest volume still treated as silence.
const ZeroVolume = 0.009

// Mix is what one listener hears of one speaker.
type Mix struct {
	FrontBack float64 `json:"fb"`
	LeftRight float64 `json:"lr"`
	UpDown    float64 `json:"ud"`
	Volume    float64 `json:"vol"`
}

// Silent is the mix that mutes a speaker for a listener.
var Silent = Mix{}

func (m Mix) IsSilent() bool {
	return m.Volume == 0
}

// CanonicalVolume maps volumes at or below ZeroVolume to 0 and rounds the rest
// to two decimals.
func CanonicalVolume(v float64) float64 {
	if v <= ZeroVolume {
		return 0
	}
	return Round(v, 2)
}

// Round rounds v to the given number of decimals.
func Round(v float64, decimals int) float64 {
	p := math.Pow(10, float64(decimals))
	return math.Round(v*p) / p
}

// Command renders the pmx line that makes listener hear speaker with m.
func (m Mix) Command(speaker, listener string) string {
	var b strings.Builder
	b.WriteString("pmx=")
	for _, v := range [...]float64{m.FrontBack, m.LeftRight, m.UpDown, m.Volume} {
		b.WriteString(strconv.FormatFloat(v, 'f', -1, 64))
		b.WriteByte(':')
	}
	b.WriteString(speaker)
	b.WriteByte(':')
	b.WriteString(listener)
	return b.String()
}
