package forecast

import (
	"math"
	"sort"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat"
)

// treeNode is one node of a regression tree. Leaves predict the mean
// target of the samples they cover.
type treeNode struct {
	feature int
	thresh  float64
	left    *treeNode
	right   *treeNode
	leaf    bool
	value   float64
}

// ForestParams configures a bagged regression forest.
type ForestParams struct {
	NumTrees      int
	MaxDepth      int
	MinSamples    int
	FeatureSample float64 // fraction of features considered per split
	Seed          uint64
}

// Forest is a bagged ensemble of variance-minimizing regression trees.
type Forest struct {
	trees  []*treeNode
	params ForestParams
}

// NewForest creates an unfitted forest.
func NewForest(params ForestParams) *Forest {
	if params.MinSamples <= 0 {
		params.MinSamples = 2
	}
	if params.FeatureSample <= 0 || params.FeatureSample > 1 {
		params.FeatureSample = 0.6
	}
	return &Forest{params: params}
}

func variance(y []float64) float64 {
	if len(y) == 0 {
		return 0
	}
	m := stat.Mean(y, nil)
	v := 0.0
	for _, t := range y {
		d := t - m
		v += d * d
	}
	return v / float64(len(y))
}

// buildTree grows one tree by greedy variance reduction, considering
// quartile split candidates on a random feature subset per node.
func buildTree(X [][]float64, y []float64, depth int, p ForestParams, mtry int, rng *rand.Rand) *treeNode {
	if depth >= p.MaxDepth || len(y) <= p.MinSamples {
		return &treeNode{leaf: true, value: stat.Mean(y, nil)}
	}
	n := len(y)
	featIdx := rng.Perm(len(X[0]))[:mtry]

	bestFeat := -1
	bestThresh := 0.0
	bestScore := math.Inf(1)
	var bestLX, bestRX [][]float64
	var bestLY, bestRY []float64

	for _, f := range featIdx {
		vals := make([]float64, n)
		for i := range X {
			vals[i] = X[i][f]
		}
		sort.Float64s(vals)
		for _, th := range []float64{vals[n/4], vals[n/2], vals[3*n/4]} {
			var lx, rx [][]float64
			var ly, ry []float64
			for i := range X {
				if X[i][f] <= th {
					lx = append(lx, X[i])
					ly = append(ly, y[i])
				} else {
					rx = append(rx, X[i])
					ry = append(ry, y[i])
				}
			}
			if len(lx) == 0 || len(rx) == 0 {
				continue
			}
			score := variance(ly)*float64(len(ly)) + variance(ry)*float64(len(ry))
			if score < bestScore {
				bestScore = score
				bestFeat, bestThresh = f, th
				bestLX, bestRX = lx, rx
				bestLY, bestRY = ly, ry
			}
		}
	}

	if bestFeat == -1 {
		return &treeNode{leaf: true, value: stat.Mean(y, nil)}
	}
	return &treeNode{
		feature: bestFeat,
		thresh:  bestThresh,
		left:    buildTree(bestLX, bestLY, depth+1, p, mtry, rng),
		right:   buildTree(bestRX, bestRY, depth+1, p, mtry, rng),
	}
}

func (t *treeNode) predict(x []float64) float64 {
	if t.leaf {
		return t.value
	}
	if x[t.feature] <= t.thresh {
		return t.left.predict(x)
	}
	return t.right.predict(x)
}

// Fit trains the forest on bootstrap resamples of the training set.
func (f *Forest) Fit(X [][]float64, y []float64) {
	rng := rand.New(rand.NewSource(f.params.Seed))
	mtry := int(math.Max(1, math.Round(float64(len(X[0]))*f.params.FeatureSample)))

	f.trees = make([]*treeNode, 0, f.params.NumTrees)
	n := len(y)
	for t := 0; t < f.params.NumTrees; t++ {
		bx := make([][]float64, n)
		by := make([]float64, n)
		for i := 0; i < n; i++ {
			idx := rng.Intn(n)
			bx[i] = X[idx]
			by[i] = y[idx]
		}
		f.trees = append(f.trees, buildTree(bx, by, 0, f.params, mtry, rng))
	}
}

// Predict averages the per-tree predictions for one feature vector.
func (f *Forest) Predict(x []float64) float64 {
	if len(f.trees) == 0 {
		return 0
	}
	sum := 0.0
	for _, t := range f.trees {
		sum += t.predict(x)
	}
	return sum / float64(len(f.trees))
}
