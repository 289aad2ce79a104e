package momentum

import "fmt"

// Horizons are the lags (in own-series trading positions) of the plain period returns
// stored next to the weighted score.
type Horizons struct {
	ThreeMonth  int
	SixMonth    int
	TwelveMonth int
}

// Scorer computes the weighted multi-window momentum score of a single close series.
//
// With windows L1 < L2 < ... < Lk and L0 = 0, the score at position i is
// sum_j w_j * (P[i-L(j-1)] - P[i-Lj]) / P[i-Lj]. It is undefined when i < Lk or when
// any of the reference closes is zero.
type Scorer struct {
	windows  []int
	weights  []float64
	horizons Horizons
}

func NewScorer(windows []int, weights []float64, horizons Horizons) (*Scorer, error) {
	if len(windows) == 0 || len(windows) != len(weights) {
		return nil, fmt.Errorf("momentum: %d windows for %d weights", len(windows), len(weights))
	}
	prev := 0
	for _, w := range windows {
		if w <= prev {
			return nil, fmt.Errorf("momentum: windows must be positive and increasing, got %v", windows)
		}
		prev = w
	}
	return &Scorer{
		windows:  append([]int(nil), windows...),
		weights:  append([]float64(nil), weights...),
		horizons: horizons,
	}, nil
}

// MaxWindow is the history length a score needs.
func (s *Scorer) MaxWindow() int {
	m := s.windows[len(s.windows)-1]
	for _, h := range []int{s.horizons.ThreeMonth, s.horizons.SixMonth, s.horizons.TwelveMonth} {
		if h > m {
			m = h
		}
	}
	return m
}

// Point holds the outputs for one position of the series. Nil means undefined.
type Point struct {
	Score     *float64
	Return3M  *float64
	Return6M  *float64
	Return12M *float64
}

// Score evaluates every position of closes, which must hold only defined values in
// date order.
func (s *Scorer) Score(closes []float64) []Point {
	out := make([]Point, len(closes))
	for i := range closes {
		out[i] = Point{
			Score:     s.weighted(closes, i),
			Return3M:  periodReturn(closes, i, s.horizons.ThreeMonth),
			Return6M:  periodReturn(closes, i, s.horizons.SixMonth),
			Return12M: periodReturn(closes, i, s.horizons.TwelveMonth),
		}
	}
	return out
}

func (s *Scorer) weighted(closes []float64, i int) *float64 {
	if i < s.windows[len(s.windows)-1] {
		return nil
	}
	score := 0.0
	near := closes[i]
	for j, lag := range s.windows {
		far := closes[i-lag]
		if far == 0 {
			return nil
		}
		score += s.weights[j] * (near - far) / far
		near = far
	}
	return &score
}

func periodReturn(closes []float64, i, lag int) *float64 {
	if lag <= 0 || i < lag || closes[i-lag] == 0 {
		return nil
	}
	r := closes[i]/closes[i-lag] - 1
	return &r
}
