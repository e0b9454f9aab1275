package rally

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// MinFitPoints is the minimum number of samples required for a quadratic fit.
const MinFitPoints = 3

// pivotThreshold is the minimum acceptable pivot magnitude (relative to the
// largest normal-equation entry) during elimination. Systems below it are
// reported as unfittable rather than solved into garbage.
const pivotThreshold = 1e-12

// QuadraticFit holds the least-squares quadratic y = A*x² + B*x + C and its
// goodness-of-fit metrics. RSquared can be negative for pathological fits;
// callers should treat such fits as "no fit".
type QuadraticFit struct {
	A, B, C float64

	RSquared    float64 // coefficient of determination
	ResidualRMS float64 // root-mean-square residual
	PointCount  int
}

// Eval evaluates the fitted quadratic at x.
func (f QuadraticFit) Eval(x float64) float64 {
	return f.A*x*x + f.B*x + f.C
}

// Vertex returns the x and y coordinates of the parabola's extremum. For a
// degenerate fit (A ≈ 0) it returns the midpoint evaluation instead.
func (f QuadraticFit) Vertex() (x, y float64) {
	if math.Abs(f.A) < 1e-15 {
		return 0, f.C
	}
	x = -f.B / (2 * f.A)
	return x, f.Eval(x)
}

// FitQuadratic computes the least-squares quadratic through the given
// samples. It returns ok=false when fewer than MinFitPoints samples are
// supplied or the normal equations are singular (for example all x values
// identical). Collinear points produce a valid fit with A ≈ 0.
func FitQuadratic(xs, ys []float64) (QuadraticFit, bool) {
	if len(xs) != len(ys) || len(xs) < MinFitPoints {
		return QuadraticFit{}, false
	}

	// Normal equations for [A B C]:
	//   [Σx⁴ Σx³ Σx²] [A]   [Σx²y]
	//   [Σx³ Σx² Σx ] [B] = [Σxy ]
	//   [Σx² Σx  n  ] [C]   [Σy  ]
	var s1, s2, s3, s4 float64
	var sy, sxy, sx2y float64
	for i, x := range xs {
		x2 := x * x
		s1 += x
		s2 += x2
		s3 += x2 * x
		s4 += x2 * x2
		y := ys[i]
		sy += y
		sxy += x * y
		sx2y += x2 * y
	}
	n := float64(len(xs))

	m := [3][4]float64{
		{s4, s3, s2, sx2y},
		{s3, s2, s1, sxy},
		{s2, s1, n, sy},
	}

	coeffs, ok := solveGaussian(m)
	if !ok {
		return QuadraticFit{}, false
	}

	fit := QuadraticFit{
		A:          coeffs[0],
		B:          coeffs[1],
		C:          coeffs[2],
		PointCount: len(xs),
	}

	meanY := stat.Mean(ys, nil)
	var ssRes, ssTot float64
	for i, x := range xs {
		r := ys[i] - fit.Eval(x)
		ssRes += r * r
		d := ys[i] - meanY
		ssTot += d * d
	}
	if ssTot > 0 {
		fit.RSquared = 1 - ssRes/ssTot
	}
	fit.ResidualRMS = math.Sqrt(ssRes / n)

	return fit, true
}

// solveGaussian solves a 3x3 augmented system with partial pivoting. Returns
// ok=false when any pivot is too small relative to the system's magnitude,
// which indicates a singular or near-singular matrix.
func solveGaussian(m [3][4]float64) ([3]float64, bool) {
	var scale float64
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			if a := math.Abs(m[i][j]); a > scale {
				scale = a
			}
		}
	}
	if scale == 0 {
		return [3]float64{}, false
	}

	for col := 0; col < 3; col++ {
		// Select the row with the largest absolute value in this column.
		pivotRow := col
		pivotAbs := math.Abs(m[col][col])
		for r := col + 1; r < 3; r++ {
			if a := math.Abs(m[r][col]); a > pivotAbs {
				pivotAbs = a
				pivotRow = r
			}
		}
		if pivotAbs < pivotThreshold*scale {
			return [3]float64{}, false
		}
		if pivotRow != col {
			m[col], m[pivotRow] = m[pivotRow], m[col]
		}

		for r := col + 1; r < 3; r++ {
			factor := m[r][col] / m[col][col]
			for c := col; c < 4; c++ {
				m[r][c] -= factor * m[col][c]
			}
		}
	}

	var out [3]float64
	for i := 2; i >= 0; i-- {
		sum := m[i][3]
		for j := i + 1; j < 3; j++ {
			sum -= m[i][j] * out[j]
		}
		out[i] = sum / m[i][i]
	}
	return out, true
}
