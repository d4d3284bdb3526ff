package admission

import "math/rand/v2"

// Source yields uniform values in [0, 1). *rand.Rand satisfies it.
type Source interface {
	Float64() float64
}

type globalSource struct{}

func (globalSource) Float64() float64 { return rand.Float64() }

// Sampler is the probabilistic gate for the sampled run policy.
type Sampler struct {
	src Source
}

// NewSampler returns a Sampler drawing from src, or from the process-wide
// source when src is nil.
func NewSampler(src Source) *Sampler {
	if src == nil {
		src = globalSource{}
	}
	return &Sampler{src: src}
}

// Decide draws once from [0, 100) and accepts iff the draw is below
// sampleRatePercent. 0 never accepts; 100 always does.
func (s *Sampler) Decide(sampleRatePercent int) bool {
	draw := s.src.Float64() * 100
	return draw < float64(sampleRatePercent)
}
