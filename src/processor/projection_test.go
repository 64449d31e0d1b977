package processor

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"testing"

	"SalesInsight/src/dataset"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// blobsCSV 生成三团分离明显的数据, 第 i 行属于第 i%3 团
func blobsCSV(n int) string {
	rng := rand.New(rand.NewSource(1))
	centers := [][3]float64{{0, 0, 0}, {20, 20, 0}, {0, 20, 20}}
	var b strings.Builder
	b.WriteString("X,Y,Z,W,CITY\n")
	for i := 0; i < n; i++ {
		c := centers[i%3]
		fmt.Fprintf(&b, "%f,%f,%f,%f,c%d\n",
			c[0]+rng.NormFloat64(), c[1]+rng.NormFloat64(), c[2]+rng.NormFloat64(),
			c[0]+c[1]+rng.NormFloat64(), i%3)
	}
	return b.String()
}

func TestProjectDefaults(t *testing.T) {
	tbl := tableFromCSV(t, blobsCSV(60))

	res, err := Project(tbl, DefaultProjectionOptions())
	require.NoError(t, err)

	assert.Equal(t, []string{"X", "Y", "Z", "W"}, res.Columns)
	assert.Equal(t, 60, res.Rows)
	require.Len(t, res.Components, 60)
	require.Len(t, res.ExplainedVarianceRatio, 3)

	sum := 0.0
	for i, r := range res.ExplainedVarianceRatio {
		assert.GreaterOrEqual(t, float64(r), 0.0)
		if i > 0 {
			assert.GreaterOrEqual(t, res.ExplainedVarianceRatio[i-1], r)
		}
		sum += float64(r)
	}
	assert.LessOrEqual(t, sum, 1.0+1e-9)

	labels := map[int]int{}
	for _, p := range res.Components {
		require.Len(t, p.Scores, 3)
		require.NotNil(t, p.Cluster)
		assert.GreaterOrEqual(t, *p.Cluster, 0)
		assert.Less(t, *p.Cluster, 3)
		labels[*p.Cluster]++
	}
	// 三团数据应被完整分开
	assert.Equal(t, map[int]int{0: 20, 1: 20, 2: 20}, labels)
	for i, p := range res.Components {
		assert.Equal(t, i%3, *p.Cluster)
	}
}

func TestProjectDeterministic(t *testing.T) {
	tbl := tableFromCSV(t, blobsCSV(45))
	opts := DefaultProjectionOptions()
	opts.Clusters = 4

	first, err := Project(tbl, opts)
	require.NoError(t, err)
	second, err := Project(tbl, opts)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	a, err := json.Marshal(first)
	require.NoError(t, err)
	b, err := json.Marshal(second)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

func TestProjectWithoutClustering(t *testing.T) {
	tbl := tableFromCSV(t, blobsCSV(10))
	opts := DefaultProjectionOptions()
	opts.Components = 2
	opts.Cluster = false
	opts.Clusters = 0

	res, err := Project(tbl, opts)
	require.NoError(t, err)
	for _, p := range res.Components {
		assert.Nil(t, p.Cluster)
		assert.Len(t, p.Scores, 2)
	}

	b, err := json.Marshal(res.Components[0])
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(b), `{"PC1":`))
	assert.NotContains(t, string(b), "cluster")
}

func TestProjectDropsIncompleteRows(t *testing.T) {
	tbl := tableFromCSV(t, "A,B\n1,2\n2,NA\n3,5\n4,9\n")
	opts := DefaultProjectionOptions()
	opts.Components = 2
	opts.Clusters = 2

	res, err := Project(tbl, opts)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Rows)
	assert.Len(t, res.Components, 3)
}

func TestProjectDropsInfiniteRows(t *testing.T) {
	tbl := tableFromCSV(t, "A,B,C\n1,2,3\n2,inf,1\n3,5,4\n4,9,-Infinity\n5,1,2\n")
	for _, c := range []string{"A", "B", "C"} {
		require.Equal(t, dataset.Numeric, tbl.Kinds()[c])
	}
	opts := DefaultProjectionOptions()
	opts.Components = 2
	opts.Clusters = 2

	res, err := Project(tbl, opts)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Rows)
	for _, p := range res.Components {
		for _, s := range p.Scores {
			assert.False(t, math.IsNaN(s))
		}
	}

	// 有限行不足时仍是可映射的错误
	var insufficient *dataset.InsufficientDataError
	_, err = Project(tableFromCSV(t, "A,B\n1,inf\n2,3\n"), opts)
	assert.ErrorAs(t, err, &insufficient)
}

func TestProjectSignConvention(t *testing.T) {
	tbl := tableFromCSV(t, "A,B\n1,1\n2,2\n3,3\n")
	opts := DefaultProjectionOptions()
	opts.Components = 1
	opts.Cluster = false

	res, err := Project(tbl, opts)
	require.NoError(t, err)
	// 第一主成分方向为 (+,+), 得分随 A 增大
	assert.Less(t, res.Components[0].Scores[0], res.Components[2].Scores[0])
	assert.InDelta(t, 1.0, float64(res.ExplainedVarianceRatio[0]), 1e-9)
}

func TestProjectZeroVariance(t *testing.T) {
	tbl := tableFromCSV(t, "A,B\n5,1\n5,1\n5,1\n")
	opts := DefaultProjectionOptions()
	opts.Components = 2
	opts.Clusters = 2

	res, err := Project(tbl, opts)
	require.NoError(t, err)
	for _, r := range res.ExplainedVarianceRatio {
		assert.Equal(t, Float(0), r)
	}
	for _, p := range res.Components {
		for _, s := range p.Scores {
			assert.False(t, math.IsNaN(s))
		}
	}
}

func TestProjectErrors(t *testing.T) {
	var (
		insufficient *dataset.InsufficientDataError
		invalid      *dataset.InvalidParameterError
	)

	onlyText := tableFromCSV(t, "ORDERDATE,CITY\n2021-01-01,x\n2021-01-02,y\n")
	_, err := Project(onlyText, DefaultProjectionOptions())
	assert.ErrorAs(t, err, &insufficient)

	tbl := tableFromCSV(t, blobsCSV(6))
	opts := DefaultProjectionOptions()
	opts.Components = 0
	_, err = Project(tbl, opts)
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "n_components", invalid.Name)

	opts = DefaultProjectionOptions()
	opts.Components = 5
	_, err = Project(tbl, opts)
	assert.ErrorAs(t, err, &insufficient)

	opts = DefaultProjectionOptions()
	opts.Clusters = 7
	_, err = Project(tbl, opts)
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "n_clusters", invalid.Name)

	opts.Clusters = 0
	_, err = Project(tbl, opts)
	assert.ErrorAs(t, err, &invalid)

	oneRow := tableFromCSV(t, "A,B\n1,2\n")
	opts = DefaultProjectionOptions()
	opts.Components = 1
	_, err = Project(oneRow, opts)
	assert.ErrorAs(t, err, &insufficient)

	fewRows := tableFromCSV(t, "A,B,C\n1,2,3\n4,5,7\n")
	opts.Components = 3
	opts.Cluster = false
	_, err = Project(fewRows, opts)
	assert.ErrorAs(t, err, &insufficient)
}

func TestKMeansSeparatesPoints(t *testing.T) {
	X := [][]float64{{0, 0}, {0.1, 0}, {10, 10}, {10.1, 10}, {0, 0.1}}
	km := KMeans{K: 2, NInit: 5, MaxIter: 100, Tolerance: 1e-4}
	km.Fit(X, rand.New(rand.NewSource(42)))

	assert.Equal(t, []int{0, 0, 1, 1, 0}, km.Labels)
	assert.Len(t, km.Centroids, 2)
	assert.InDelta(t, 0.0183, km.Inertia, 1e-3)
}

func TestKMeansIdenticalPoints(t *testing.T) {
	X := [][]float64{{1, 1}, {1, 1}, {1, 1}}
	km := KMeans{K: 3, NInit: 2, MaxIter: 10}
	km.Fit(X, rand.New(rand.NewSource(42)))

	assert.Len(t, km.Labels, 3)
	assert.Equal(t, 0.0, km.Inertia)
	for _, l := range km.Labels {
		assert.GreaterOrEqual(t, l, 0)
		assert.Less(t, l, 3)
	}
}

func TestProjectionPointJSON(t *testing.T) {
	c := 2
	p := ProjectionPoint{Scores: []float64{1.5, -2}, Cluster: &c}
	b, err := json.Marshal(p)
	require.NoError(t, err)
	assert.Equal(t, `{"PC1":1.5,"PC2":-2,"cluster":2}`, string(b))

	var back ProjectionPoint
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, p.Scores, back.Scores)
	require.NotNil(t, back.Cluster)
	assert.Equal(t, 2, *back.Cluster)
}
