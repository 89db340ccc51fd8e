package app

// Smoother keeps an exponential moving average of probability vectors:
// ema = alpha*ema + (1-alpha)*p. The first vector seeds the average.
type Smoother struct {
	alpha float64
	ema   []float64
}

// NewSmoother returns a smoother with the given weight on history.
// alpha is clamped to [0, 1).
func NewSmoother(alpha float64) *Smoother {
	if alpha < 0 {
		alpha = 0
	}
	if alpha >= 1 {
		alpha = 0.99
	}
	return &Smoother{alpha: alpha}
}

// Update folds p into the average and returns a copy of it. A vector of a
// different length than the history restarts the average.
func (s *Smoother) Update(p []float64) []float64 {
	if len(s.ema) != len(p) {
		s.ema = append(s.ema[:0], p...)
	} else {
		for i, v := range p {
			s.ema[i] = s.alpha*s.ema[i] + (1-s.alpha)*v
		}
	}
	out := make([]float64, len(s.ema))
	copy(out, s.ema)
	return out
}

// Reset drops the history.
func (s *Smoother) Reset() {
	s.ema = s.ema[:0]
}

// Decide returns the best label when its probability reaches threshold.
// The lowest index wins ties.
func Decide(labels []string, p []float64, threshold float64) (string, float64, bool) {
	best, bestV := -1, -1.0
	for i, v := range p {
		if v > bestV {
			best, bestV = i, v
		}
	}
	if best < 0 || best >= len(labels) || bestV < threshold {
		return "", bestV, false
	}
	return labels[best], bestV, true
}
