package strategy

import "math"

// softmaxWeights turns raw values into a probability distribution.
// Subtracting the max before exponentiating keeps it numerically stable for
// both very large and very negative values.
func softmaxWeights(values []float64) []float64 {
	if len(values) == 0 {
		return nil
	}
	max := values[0]
	for _, v := range values[1:] {
		if v > max {
			max = v
		}
	}
	weights := make([]float64, len(values))
	var sum float64
	for i, v := range values {
		w := math.Exp(v - max)
		weights[i] = w
		sum += w
	}
	if sum == 0 {
		for i := range weights {
			weights[i] = 1
		}
		return weights
	}
	for i := range weights {
		weights[i] /= sum
	}
	return weights
}

// pickWeighted draws an index in [0, len(weights)) proportional to weights.
// Falls back to uniform selection if every weight is zero.
func pickWeighted(weights []float64, rnd interface{ Float64() float64 }) int {
	var total float64
	for _, w := range weights {
		total += w
	}
	if total <= 0 {
		return int(rnd.Float64() * float64(len(weights)))
	}
	r := rnd.Float64() * total
	var acc float64
	for i, w := range weights {
		acc += w
		if r < acc {
			return i
		}
	}
	return len(weights) - 1
}

// pickBySoftmaxValue weights each candidate by a softmax of its value and
// draws one index. exploration_probability is not consulted here; the
// uniform-draw branch lives in selectByValue, which does not call this.
func pickBySoftmaxValue(values []float64, rnd interface{ Float64() float64 }) int {
	return pickWeighted(softmaxWeights(values), rnd)
}
