package forecast

import "math"

// Scaler standardizes features to zero mean and unit variance. Columns
// with zero variance are passed through unscaled.
type Scaler struct {
	mean  []float64
	scale []float64
}

// FitScaler computes per-column mean and standard deviation.
func FitScaler(X [][]float64) *Scaler {
	if len(X) == 0 {
		return &Scaler{}
	}
	d := len(X[0])
	mean := make([]float64, d)
	scale := make([]float64, d)

	for _, row := range X {
		for j, v := range row {
			mean[j] += v
		}
	}
	n := float64(len(X))
	for j := range mean {
		mean[j] /= n
	}
	for _, row := range X {
		for j, v := range row {
			dev := v - mean[j]
			scale[j] += dev * dev
		}
	}
	for j := range scale {
		scale[j] = math.Sqrt(scale[j] / n)
		if scale[j] == 0 {
			scale[j] = 1
		}
	}
	return &Scaler{mean: mean, scale: scale}
}

// Transform returns a standardized copy of one feature vector.
func (s *Scaler) Transform(x []float64) []float64 {
	if len(s.mean) == 0 {
		return append([]float64(nil), x...)
	}
	out := make([]float64, len(x))
	for j, v := range x {
		out[j] = (v - s.mean[j]) / s.scale[j]
	}
	return out
}

// TransformAll standardizes every row.
func (s *Scaler) TransformAll(X [][]float64) [][]float64 {
	out := make([][]float64, len(X))
	for i, row := range X {
		out[i] = s.Transform(row)
	}
	return out
}
