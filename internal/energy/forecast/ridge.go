package forecast

import (
	"errors"

	"gonum.org/v1/gonum/mat"
)

// Ridge is an L2-regularized linear regressor solved in closed form.
type Ridge struct {
	lambda float64
	beta   *mat.VecDense // includes intercept as the last coefficient
}

// NewRidge creates an unfitted ridge regressor with the given
// regularization strength.
func NewRidge(lambda float64) *Ridge {
	return &Ridge{lambda: lambda}
}

// withIntercept appends a constant 1 column to the design matrix.
func withIntercept(X [][]float64) *mat.Dense {
	n, d := len(X), len(X[0])
	m := mat.NewDense(n, d+1, nil)
	for i, row := range X {
		for j, v := range row {
			m.Set(i, j, v)
		}
		m.Set(i, d, 1)
	}
	return m
}

// Fit solves (XᵀX + λI)β = Xᵀy via Cholesky, falling back to a
// pseudo-inverse through thin SVD when the normal matrix is not
// positive definite.
func (r *Ridge) Fit(X [][]float64, y []float64) error {
	if len(X) == 0 {
		return errors.New("ridge: empty training set")
	}
	Xm := withIntercept(X)
	yv := mat.NewVecDense(len(y), y)

	var xtx mat.Dense
	xtx.Mul(Xm.T(), Xm)
	n, _ := xtx.Dims()
	for i := 0; i < n; i++ {
		xtx.Set(i, i, xtx.At(i, i)+r.lambda)
	}

	sym := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := 0; j <= i; j++ {
			sym.SetSym(i, j, xtx.At(i, j))
		}
	}

	var xty mat.VecDense
	xty.MulVec(Xm.T(), yv)

	var chol mat.Cholesky
	if chol.Factorize(sym) {
		var beta mat.VecDense
		if err := chol.SolveVecTo(&beta, &xty); err == nil {
			r.beta = &beta
			return nil
		}
	}

	// Degenerate normal matrix. Solve the least-squares problem directly.
	var svd mat.SVD
	if !svd.Factorize(Xm, mat.SVDThin) {
		return errors.New("ridge: SVD factorization failed")
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	s := svd.Values(nil)

	var uty mat.VecDense
	uty.MulVec(u.T(), yv)
	for i := range s {
		if s[i] > 1e-12 {
			uty.SetVec(i, uty.AtVec(i)/s[i])
		} else {
			uty.SetVec(i, 0)
		}
	}
	var beta mat.VecDense
	beta.MulVec(&v, &uty)
	r.beta = &beta
	return nil
}

// Predict evaluates the fitted model on one feature vector.
func (r *Ridge) Predict(x []float64) (float64, error) {
	if r.beta == nil {
		return 0, errors.New("ridge: not fitted")
	}
	sum := r.beta.AtVec(len(x)) // intercept
	for j, v := range x {
		sum += r.beta.AtVec(j) * v
	}
	return sum, nil
}
