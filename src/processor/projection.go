package processor

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"strconv"

	"SalesInsight/src/dataset"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// ProjectionOptions PCA 和 k-means 的参数
type ProjectionOptions struct {
	Components int
	Cluster    bool
	Clusters   int
	Seed       int64
	NInit      int
	MaxIter    int
	Tolerance  float64
}

func DefaultProjectionOptions() ProjectionOptions {
	return ProjectionOptions{
		Components: 3,
		Cluster:    true,
		Clusters:   3,
		Seed:       42,
		NInit:      10,
		MaxIter:    300,
		Tolerance:  1e-4,
	}
}

// ProjectionPoint 一行样本在主成分上的得分, 以及可选的簇编号
type ProjectionPoint struct {
	Scores  []float64
	Cluster *int
}

// MarshalJSON 输出 {"PC1": .., "PC2": .., "cluster": ..}, 键按顺序排列
func (p ProjectionPoint) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, s := range p.Scores {
		if i > 0 {
			buf.WriteByte(',')
		}
		v, err := Float(s).MarshalJSON()
		if err != nil {
			return nil, err
		}
		buf.WriteString(strconv.Quote(fmt.Sprintf("PC%d", i+1)))
		buf.WriteByte(':')
		buf.Write(v)
	}
	if p.Cluster != nil {
		if len(p.Scores) > 0 {
			buf.WriteByte(',')
		}
		buf.WriteString(`"cluster":`)
		buf.WriteString(strconv.Itoa(*p.Cluster))
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (p *ProjectionPoint) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	p.Scores = p.Scores[:0]
	for i := 1; ; i++ {
		v, ok := raw[fmt.Sprintf("PC%d", i)]
		if !ok {
			break
		}
		var f Float
		if err := json.Unmarshal(v, &f); err != nil {
			return err
		}
		p.Scores = append(p.Scores, float64(f))
	}
	p.Cluster = nil
	if v, ok := raw["cluster"]; ok {
		var c int
		if err := json.Unmarshal(v, &c); err != nil {
			return err
		}
		p.Cluster = &c
	}
	return nil
}

type ProjectionResult struct {
	Columns                []string          `json:"columns"`
	ExplainedVarianceRatio []Float           `json:"explained_variance_ratio"`
	Components             []ProjectionPoint `json:"components"`
	Rows                   int               `json:"rows"`
}

// Project 标准化数值列后做 PCA, 可选地在主成分得分上做 k-means
func Project(t *dataset.Table, opts ProjectionOptions) (ProjectionResult, error) {
	k := opts.Components
	if k < 1 {
		return ProjectionResult{}, &dataset.InvalidParameterError{Name: "n_components", Reason: "must be >= 1"}
	}

	cols := t.NumericColumns()
	if len(cols) < k {
		return ProjectionResult{}, &dataset.InsufficientDataError{
			Reason: fmt.Sprintf("%d numeric columns, %d components requested", len(cols), k),
		}
	}

	rows, err := completeRows(t, cols)
	if err != nil {
		return ProjectionResult{}, err
	}
	n := len(rows)
	if n < 2 || n < k {
		return ProjectionResult{}, &dataset.InsufficientDataError{
			Reason: fmt.Sprintf("%d complete rows, need at least %d", n, max(2, k)),
		}
	}
	if opts.Cluster && (opts.Clusters < 1 || opts.Clusters > n) {
		return ProjectionResult{}, &dataset.InvalidParameterError{
			Name:   "n_clusters",
			Reason: fmt.Sprintf("must be between 1 and %d", n),
		}
	}

	X := standardize(rows, len(cols))

	var pc stat.PC
	if ok := pc.PrincipalComponents(X, nil); !ok {
		return ProjectionResult{}, &dataset.InsufficientDataError{Reason: "principal component decomposition failed"}
	}
	var vecs mat.Dense
	pc.VectorsTo(&vecs)
	vars := pc.VarsTo(nil)

	d := len(cols)
	directions := mat.DenseCopyOf(vecs.Slice(0, d, 0, k))
	normalizeSigns(directions)

	var scores mat.Dense
	scores.Mul(X, directions)

	total := floats.Sum(vars)
	ratios := make([]Float, k)
	for i := range ratios {
		if total > 0 {
			ratios[i] = Float(vars[i] / total)
		}
	}

	points := make([]ProjectionPoint, n)
	scoreRows := make([][]float64, n)
	for i := range points {
		scoreRows[i] = mat.Row(nil, i, &scores)
		points[i].Scores = scoreRows[i]
	}

	if opts.Cluster {
		km := KMeans{
			K:         opts.Clusters,
			NInit:     opts.NInit,
			MaxIter:   opts.MaxIter,
			Tolerance: opts.Tolerance,
		}
		km.Fit(scoreRows, rand.New(rand.NewSource(opts.Seed)))
		for i := range points {
			label := km.Labels[i]
			points[i].Cluster = &label
		}
	}

	return ProjectionResult{
		Columns:                cols,
		ExplainedVarianceRatio: ratios,
		Components:             points,
		Rows:                   n,
	}, nil
}

// completeRows 返回所有列都不缺失的行
func completeRows(t *dataset.Table, cols []string) ([][]float64, error) {
	data := make([][]float64, len(cols))
	for j, c := range cols {
		v, err := t.Floats(c)
		if err != nil {
			return nil, err
		}
		data[j] = v
	}

	var rows [][]float64
	for i := 0; i < t.Nrow(); i++ {
		row := make([]float64, len(cols))
		complete := true
		for j := range cols {
			if !finite(data[j][i]) {
				complete = false
				break
			}
			row[j] = data[j][i]
		}
		if complete {
			rows = append(rows, row)
		}
	}
	return rows, nil
}

// standardize 按列减均值除以总体标准差, 方差为 0 的列置 0
func standardize(rows [][]float64, d int) *mat.Dense {
	n := len(rows)
	X := mat.NewDense(n, d, nil)
	col := make([]float64, n)
	for j := 0; j < d; j++ {
		for i := range rows {
			col[i] = rows[i][j]
		}
		mean, std := stat.PopMeanStdDev(col, nil)
		for i := range rows {
			if std == 0 {
				X.Set(i, j, 0)
				continue
			}
			X.Set(i, j, (col[i]-mean)/std)
		}
	}
	return X
}

// normalizeSigns 使每个方向上绝对值最大的载荷为正
func normalizeSigns(directions *mat.Dense) {
	r, c := directions.Dims()
	for j := 0; j < c; j++ {
		best := 0.0
		for i := 0; i < r; i++ {
			if v := directions.At(i, j); math.Abs(v) > math.Abs(best) {
				best = v
			}
		}
		if best < 0 {
			for i := 0; i < r; i++ {
				directions.Set(i, j, -directions.At(i, j))
			}
		}
	}
}
