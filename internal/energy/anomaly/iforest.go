package anomaly

import (
	"math"

	"golang.org/x/exp/rand"
)

// isoNode is a node of one isolation tree.
type isoNode struct {
	feature int
	split   float64
	left    *isoNode
	right   *isoNode
	size    int
	leaf    bool
}

// IsolationForest isolates outliers by random axis-aligned splits:
// anomalous points need fewer splits to end up alone, so shorter average
// path lengths mean higher anomaly scores.
type IsolationForest struct {
	numTrees   int
	sampleSize int
	trees      []*isoNode
	rng        *rand.Rand
}

// NewIsolationForest creates a forest with the given tree count and
// per-tree subsample size.
func NewIsolationForest(numTrees, sampleSize int, seed uint64) *IsolationForest {
	return &IsolationForest{
		numTrees:   numTrees,
		sampleSize: sampleSize,
		rng:        rand.New(rand.NewSource(seed)),
	}
}

// Fit builds the trees on random subsamples of the feature matrix.
func (f *IsolationForest) Fit(X [][]float64) {
	if len(X) == 0 {
		f.trees = nil
		return
	}
	sample := f.sampleSize
	if sample > len(X) {
		sample = len(X)
	}
	maxDepth := int(math.Ceil(math.Log2(float64(sample))))

	f.trees = make([]*isoNode, f.numTrees)
	for t := 0; t < f.numTrees; t++ {
		sub := f.subsample(X, sample)
		f.trees[t] = f.buildNode(sub, 0, maxDepth)
	}
}

func (f *IsolationForest) subsample(X [][]float64, size int) [][]float64 {
	if len(X) <= size {
		return X
	}
	idx := f.rng.Perm(len(X))[:size]
	out := make([][]float64, size)
	for i, j := range idx {
		out[i] = X[j]
	}
	return out
}

func (f *IsolationForest) buildNode(X [][]float64, depth, maxDepth int) *isoNode {
	if len(X) <= 1 || depth >= maxDepth {
		return &isoNode{leaf: true, size: len(X)}
	}

	feature := f.rng.Intn(len(X[0]))
	minVal, maxVal := X[0][feature], X[0][feature]
	for _, row := range X {
		if row[feature] < minVal {
			minVal = row[feature]
		}
		if row[feature] > maxVal {
			maxVal = row[feature]
		}
	}
	if minVal == maxVal {
		return &isoNode{leaf: true, size: len(X)}
	}

	split := minVal + f.rng.Float64()*(maxVal-minVal)
	var left, right [][]float64
	for _, row := range X {
		if row[feature] < split {
			left = append(left, row)
		} else {
			right = append(right, row)
		}
	}
	if len(left) == 0 || len(right) == 0 {
		return &isoNode{leaf: true, size: len(X)}
	}

	return &isoNode{
		feature: feature,
		split:   split,
		left:    f.buildNode(left, depth+1, maxDepth),
		right:   f.buildNode(right, depth+1, maxDepth),
		size:    len(X),
	}
}

func (f *IsolationForest) pathLength(x []float64, node *isoNode, depth int) float64 {
	if node == nil || node.leaf {
		if node != nil && node.size > 1 {
			return float64(depth) + harmonicPathLength(float64(node.size))
		}
		return float64(depth)
	}
	if x[node.feature] < node.split {
		return f.pathLength(x, node.left, depth+1)
	}
	return f.pathLength(x, node.right, depth+1)
}

// Score returns the anomaly score of one point in [0,1]: 2^(−E[h(x)]/c(n)).
// Scores near 1 indicate isolation after very few splits.
func (f *IsolationForest) Score(x []float64) float64 {
	if len(f.trees) == 0 {
		return 0
	}
	total := 0.0
	for _, tree := range f.trees {
		total += f.pathLength(x, tree, 0)
	}
	avg := total / float64(len(f.trees))
	c := harmonicPathLength(float64(f.sampleSize))
	if c == 0 {
		return 0
	}
	return math.Pow(2, -avg/c)
}

// harmonicPathLength is c(n), the expected path length of an unsuccessful
// BST search over n points.
func harmonicPathLength(n float64) float64 {
	if n <= 1 {
		return 0
	}
	if n == 2 {
		return 1
	}
	h := math.Log(n-1) + 0.5772156649 // Euler-Mascheroni
	return 2*h - 2*(n-1)/n
}
