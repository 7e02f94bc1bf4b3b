package forecast

import (
	"errors"
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
)

// Adam hyperparameters, fixed.
const (
	adamLR    = 0.01
	adamBeta1 = 0.9
	adamBeta2 = 0.999
	adamEps   = 1e-8
)

// layer is one fully connected layer with its Adam moment estimates.
type layer struct {
	w, b   *mat.Dense
	mw, vw *mat.Dense
	mb, vb *mat.Dense
}

func newLayer(in, out int, rng *rand.Rand) *layer {
	w := mat.NewDense(in, out, nil)
	for i := 0; i < in; i++ {
		for j := 0; j < out; j++ {
			w.Set(i, j, rng.NormFloat64()*0.1)
		}
	}
	return &layer{
		w:  w,
		b:  mat.NewDense(1, out, nil),
		mw: mat.NewDense(in, out, nil),
		vw: mat.NewDense(in, out, nil),
		mb: mat.NewDense(1, out, nil),
		vb: mat.NewDense(1, out, nil),
	}
}

// MLP is a small feed-forward network with ReLU hidden layers and a
// linear output, trained with Adam on mean squared error.
type MLP struct {
	layers []*layer
	epochs int
	batch  int
	step   int
	fitted bool
}

// NewMLP builds a network with the given hidden layer sizes.
func NewMLP(inputDim int, hidden []int, epochs int, seed uint64) *MLP {
	rng := rand.New(rand.NewSource(seed))
	sizes := append([]int{inputDim}, hidden...)
	sizes = append(sizes, 1)

	m := &MLP{epochs: epochs, batch: 32}
	for i := 0; i < len(sizes)-1; i++ {
		m.layers = append(m.layers, newLayer(sizes[i], sizes[i+1], rng))
	}
	return m
}

func relu(x float64) float64 {
	if x > 0 {
		return x
	}
	return 0
}

func reluDeriv(x float64) float64 {
	if x > 0 {
		return 1
	}
	return 0
}

// Fit trains on shuffled minibatches for the configured epoch count.
func (m *MLP) Fit(X [][]float64, y []float64, seed uint64) error {
	if len(X) == 0 {
		return errors.New("mlp: empty training set")
	}
	d := len(X[0])
	rng := rand.New(rand.NewSource(seed))

	for e := 0; e < m.epochs; e++ {
		idx := rng.Perm(len(y))
		for i := 0; i < len(y); i += m.batch {
			j := i + m.batch
			if j > len(y) {
				j = len(y)
			}
			bx := mat.NewDense(j-i, d, nil)
			by := mat.NewVecDense(j-i, nil)
			for r, p := 0, i; p < j; p, r = p+1, r+1 {
				bx.SetRow(r, X[idx[p]])
				by.SetVec(r, y[idx[p]])
			}
			m.step++
			m.stepBatch(bx, by)
		}
	}
	m.fitted = true
	return nil
}

// stepBatch runs one forward/backward pass and applies Adam updates.
func (m *MLP) stepBatch(bx *mat.Dense, by *mat.VecDense) {
	n, _ := bx.Dims()
	L := len(m.layers)

	// Forward, keeping pre-activations and activations per layer.
	zs := make([]*mat.Dense, L)
	as := make([]*mat.Dense, L+1)
	as[0] = bx
	for l, ly := range m.layers {
		_, out := ly.w.Dims()
		var z mat.Dense
		z.Mul(as[l], ly.w)
		for i := 0; i < n; i++ {
			for j := 0; j < out; j++ {
				z.Set(i, j, z.At(i, j)+ly.b.At(0, j))
			}
		}
		zs[l] = &z
		if l == L-1 {
			as[l+1] = &z // linear output
			continue
		}
		a := mat.NewDense(n, out, nil)
		for i := 0; i < n; i++ {
			for j := 0; j < out; j++ {
				a.Set(i, j, relu(z.At(i, j)))
			}
		}
		as[l+1] = a
	}

	// Backward. dL/dyhat for MSE.
	delta := mat.NewDense(n, 1, nil)
	for i := 0; i < n; i++ {
		delta.Set(i, 0, 2*(as[L].At(i, 0)-by.AtVec(i))/float64(n))
	}

	for l := L - 1; l >= 0; l-- {
		ly := m.layers[l]
		_, out := ly.w.Dims()

		var dw mat.Dense
		dw.Mul(as[l].T(), delta)
		db := mat.NewDense(1, out, nil)
		for j := 0; j < out; j++ {
			s := 0.0
			for i := 0; i < n; i++ {
				s += delta.At(i, j)
			}
			db.Set(0, j, s)
		}

		if l > 0 {
			var da mat.Dense
			da.Mul(delta, ly.w.T())
			rows, cols := da.Dims()
			next := mat.NewDense(rows, cols, nil)
			for i := 0; i < rows; i++ {
				for j := 0; j < cols; j++ {
					next.Set(i, j, da.At(i, j)*reluDeriv(zs[l-1].At(i, j)))
				}
			}
			delta = next
		}

		adamUpdate(ly.w, &dw, ly.mw, ly.vw, m.step)
		adamUpdate(ly.b, db, ly.mb, ly.vb, m.step)
	}
}

// adamUpdate applies one Adam step to a parameter matrix in place.
func adamUpdate(w, dw, mw, vw *mat.Dense, t int) {
	r, c := w.Dims()
	bc1 := 1 - math.Pow(adamBeta1, float64(t))
	bc2 := 1 - math.Pow(adamBeta2, float64(t))
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			g := dw.At(i, j)
			mw.Set(i, j, adamBeta1*mw.At(i, j)+(1-adamBeta1)*g)
			vw.Set(i, j, adamBeta2*vw.At(i, j)+(1-adamBeta2)*g*g)
			mhat := mw.At(i, j) / bc1
			vhat := vw.At(i, j) / bc2
			w.Set(i, j, w.At(i, j)-adamLR*mhat/(math.Sqrt(vhat)+adamEps))
		}
	}
}

// Predict evaluates one feature vector.
func (m *MLP) Predict(x []float64) (float64, error) {
	if !m.fitted {
		return 0, errors.New("mlp: not fitted")
	}
	cur := x
	for l, ly := range m.layers {
		_, out := ly.w.Dims()
		next := make([]float64, out)
		for j := 0; j < out; j++ {
			s := ly.b.At(0, j)
			for k, v := range cur {
				s += v * ly.w.At(k, j)
			}
			if l < len(m.layers)-1 {
				s = relu(s)
			}
			next[j] = s
		}
		cur = next
	}
	return cur[0], nil
}
