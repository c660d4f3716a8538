package generate

import "github.com/user/gopherpaint/pkg/media"

// Pricing is the flat per-generation cost in USD for each kind of output.
type Pricing struct {
	Image float64
	Video float64
}

// DefaultPricing matches the published per-item rates of the default models.
func DefaultPricing() Pricing {
	return Pricing{Image: 0.04, Video: 3.20}
}

// Cost returns the charge for one successful generation in mode.
func (p Pricing) Cost(mode media.Mode) float64 {
	if mode.IsVideo() {
		return p.Video
	}
	return p.Image
}
