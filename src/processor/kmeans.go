package processor

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// KMeans 将样本划分为 K 个簇. 所有随机选择都来自同一个 rng, 相同种子得到相同结果.
type KMeans struct {
	K         int
	NInit     int     // 不同初始化的次数, 取惯性最小的一次
	MaxIter   int     // 单次运行的最大迭代次数
	Tolerance float64 // 中心移动量相对于数据平均方差的收敛阈值

	Centroids [][]float64
	Labels    []int
	Inertia   float64 // 样本到所属中心距离平方和
}

// Fit 对 X (n 行, 每行一个样本) 聚类, 调用方保证 1 <= K <= n
func (m *KMeans) Fit(X [][]float64, rng *rand.Rand) {
	tol := m.Tolerance * meanVariance(X)

	m.Inertia = math.Inf(1)
	for run := 0; run < max(1, m.NInit); run++ {
		centroids := m.initCenters(X, rng)
		labels, inertia := m.lloyd(X, centroids, tol)
		if inertia < m.Inertia {
			m.Centroids, m.Labels, m.Inertia = centroids, labels, inertia
		}
	}
	m.relabel()
}

// initCenters k-means++ 初始化
func (m *KMeans) initCenters(X [][]float64, rng *rand.Rand) [][]float64 {
	n := len(X)
	centroids := make([][]float64, 0, m.K)
	centroids = append(centroids, append([]float64(nil), X[rng.Intn(n)]...))

	distSq := make([]float64, n)
	for len(centroids) < m.K {
		total := 0.0
		for i, x := range X {
			_, d2 := nearest(x, centroids)
			distSq[i] = d2
			total += d2
		}

		// 所有样本都与已有中心重合
		if total == 0 {
			centroids = append(centroids, append([]float64(nil), X[rng.Intn(n)]...))
			continue
		}

		r := rng.Float64() * total
		chosen := n - 1
		cumulative := 0.0
		for i, d2 := range distSq {
			cumulative += d2
			if cumulative > r {
				chosen = i
				break
			}
		}
		centroids = append(centroids, append([]float64(nil), X[chosen]...))
	}
	return centroids
}

// lloyd 迭代直到中心移动量不超过 tol 或达到 MaxIter, centroids 原地更新
func (m *KMeans) lloyd(X [][]float64, centroids [][]float64, tol float64) ([]int, float64) {
	n, p := len(X), len(X[0])
	labels := make([]int, n)
	sums := make([][]float64, m.K)
	for k := range sums {
		sums[k] = make([]float64, p)
	}
	counts := make([]int, m.K)

	for it := 0; it < max(1, m.MaxIter); it++ {
		for i, x := range X {
			labels[i], _ = nearest(x, centroids)
		}

		for k := range sums {
			for j := range sums[k] {
				sums[k][j] = 0
			}
			counts[k] = 0
		}
		for i, x := range X {
			floats.Add(sums[labels[i]], x)
			counts[labels[i]]++
		}

		shift := 0.0
		for k := range centroids {
			if counts[k] == 0 {
				continue // 空簇保持原中心
			}
			floats.Scale(1/float64(counts[k]), sums[k])
			shift += sqDist(sums[k], centroids[k])
			copy(centroids[k], sums[k])
		}
		if shift <= tol {
			break
		}
	}

	inertia := 0.0
	for i, x := range X {
		var d2 float64
		labels[i], d2 = nearest(x, centroids)
		inertia += d2
	}
	return labels, inertia
}

// relabel 按首次出现的顺序重新编号簇
func (m *KMeans) relabel() {
	mapping := make(map[int]int, m.K)
	for _, l := range m.Labels {
		if _, ok := mapping[l]; !ok {
			mapping[l] = len(mapping)
		}
	}
	for k := 0; k < len(m.Centroids); k++ {
		if _, ok := mapping[k]; !ok {
			mapping[k] = len(mapping)
		}
	}

	centroids := make([][]float64, len(m.Centroids))
	for old, c := range m.Centroids {
		centroids[mapping[old]] = c
	}
	m.Centroids = centroids
	for i, l := range m.Labels {
		m.Labels[i] = mapping[l]
	}
}

func nearest(x []float64, centroids [][]float64) (int, float64) {
	best, bestD2 := 0, math.Inf(1)
	for k, c := range centroids {
		if d2 := sqDist(x, c); d2 < bestD2 {
			best, bestD2 = k, d2
		}
	}
	return best, bestD2
}

func sqDist(a, b []float64) float64 {
	d := floats.Distance(a, b, 2)
	return d * d
}

func meanVariance(X [][]float64) float64 {
	if len(X) == 0 {
		return 0
	}
	p := len(X[0])
	col := make([]float64, len(X))
	total := 0.0
	for j := 0; j < p; j++ {
		for i := range X {
			col[i] = X[i][j]
		}
		_, v := stat.PopMeanVariance(col, nil)
		total += v
	}
	return total / float64(p)
}
