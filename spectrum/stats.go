package spectrum

import (
	"math"

	dspstats "github.com/cwbudde/algo-dsp/stats/time"
)

// SaturationCounts is the full scale value of the 16-bit ADC
const SaturationCounts = math.MaxUint16

// Stats summarizes a spectrum
type Stats struct {
	Max    float64 `json:"max"`
	MaxPos int     `json:"maxPos"`
	Min    float64 `json:"min"`
	Mean   float64 `json:"mean"`

	// Saturated is true if any raw sample reached full scale
	Saturated bool `json:"saturated"`

	// Blank is true if every sample is zero
	Blank bool `json:"blank"`
}

// Summarize computes Stats over s
func Summarize(s []float64) Stats {
	if len(s) == 0 {
		return Stats{Blank: true}
	}
	st := dspstats.Calculate(s)
	return Stats{
		Max:       st.Max,
		MaxPos:    st.MaxPos,
		Min:       st.Min,
		Mean:      st.DC,
		Saturated: st.Max >= SaturationCounts,
		Blank:     st.Max == 0 && st.Min == 0,
	}
}
