// Package sampler derives the randomized generation parameters of a request.
package sampler

import (
	"botconvo/pkg/types"
)

// Reserved markers bounding a generated text.
const (
	StartOfText = "<|startoftext|>"
	EndOfText   = "<|endoftext|>"
)

// Sampling ranges, half-open.
const (
	MinLength = 30
	MaxLength = 100
	// temperature is drawn in hundredths
	MinTempCenti = 60
	MaxTempCenti = 80
)

// Derive builds the parameters for one request. An empty prompt and a missing
// prompt are the same case: the prefix is the start marker alone.
// Length is drawn before temperature.
func Derive(prompt string, rng RandomSource) types.GenerationParams {
	length := rng.Range(MinLength, MaxLength)
	centi := rng.Range(MinTempCenti, MaxTempCenti)
	prefix := StartOfText
	if prompt != "" {
		prefix += prompt
	}
	return types.GenerationParams{
		LengthTokens: length,
		Temperature:  centiToFloat(centi),
		PromptPrefix: prefix,
	}
}

// centiToFloat maps n to the float64 nearest n/100. Both operands are exact and
// the quotient is rounded once, so a given n always yields the same value as the
// literal 0.nn.
func centiToFloat(n int) float64 {
	return float64(n) / 100
}
