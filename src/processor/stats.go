package processor

import (
	"fmt"
	"math"
	"sort"

	"SalesInsight/src/config"
	"SalesInsight/src/dataset"
	"SalesInsight/src/utils"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// SummaryResult 指定数值列的汇总
type SummaryResult struct {
	Total Float `json:"total"`
	Mean  Float `json:"mean"`
	Max   Float `json:"max"`
	Min   Float `json:"min"`
	Count int   `json:"count"` // 非缺失值个数
	Rows  int   `json:"rows"`
}

type DatePoint struct {
	Date  string `json:"date"`
	Value Float  `json:"value"`
}

// GroupedSeries 按自然日汇总, 日期升序
type GroupedSeries []DatePoint

type CorrelationMatrix struct {
	Columns []string  `json:"columns"`
	Values  [][]Float `json:"values"`
}

type DistributionSummary struct {
	Column string `json:"column"`
	Count  int    `json:"count"`
	Mean   Float  `json:"mean"`
	Std    Float  `json:"std"`
	Min    Float  `json:"min"`
	Max    Float  `json:"max"`
	Q25    Float  `json:"25%"`
	Q50    Float  `json:"50%"`
	Q75    Float  `json:"75%"`
}

type Bin struct {
	Lower Float `json:"lower"`
	Upper Float `json:"upper"`
	Count int   `json:"count"`
}

type Histogram struct {
	Column string `json:"column"`
	Bins   []Bin  `json:"bins"`
}

// numericValues 返回列中非缺失的有限数值
func numericValues(t *dataset.Table, column string) ([]float64, error) {
	kind, ok := t.Kind(column)
	if !ok {
		return nil, &dataset.ColumnNotFoundError{Column: column}
	}
	if kind != dataset.Numeric {
		return nil, &dataset.InsufficientDataError{Reason: fmt.Sprintf("column %q is not numeric", column)}
	}
	raw, err := t.Floats(column)
	if err != nil {
		return nil, err
	}
	values := make([]float64, 0, len(raw))
	for _, v := range raw {
		if finite(v) {
			values = append(values, v)
		}
	}
	if len(values) == 0 {
		return nil, &dataset.InsufficientDataError{Reason: fmt.Sprintf("column %q has no numeric values", column)}
	}
	return values, nil
}

// Summary 计算数值列的总和, 均值, 最大值, 最小值
func Summary(t *dataset.Table, valueCol string) (SummaryResult, error) {
	values, err := numericValues(t, valueCol)
	if err != nil {
		return SummaryResult{}, err
	}
	return SummaryResult{
		Total: Float(floats.Sum(values)),
		Mean:  Float(stat.Mean(values, nil)),
		Max:   Float(floats.Max(values)),
		Min:   Float(floats.Min(values)),
		Count: len(values),
		Rows:  t.Nrow(),
	}, nil
}

// GroupedByDate 按自然日对数值列求和. 时间无法解析的行被忽略, 缺失值和 ±Inf 不计入.
func GroupedByDate(t *dataset.Table, timeCol, valueCol string) (GroupedSeries, error) {
	if !t.HasColumn(timeCol) {
		return nil, &dataset.ColumnNotFoundError{Column: timeCol}
	}
	kind, ok := t.Kind(valueCol)
	if !ok {
		return nil, &dataset.ColumnNotFoundError{Column: valueCol}
	}
	if kind != dataset.Numeric {
		return nil, &dataset.InsufficientDataError{Reason: fmt.Sprintf("column %q is not numeric", valueCol)}
	}

	keys, err := dayKeys(t, timeCol)
	if err != nil {
		return nil, err
	}
	values, err := t.Floats(valueCol)
	if err != nil {
		return nil, err
	}

	sums := make(map[string]float64)
	for i, day := range keys {
		if day == "" {
			continue
		}
		v := values[i]
		if !finite(v) {
			v = 0
		}
		sums[day] += v
	}

	days := make([]string, 0, len(sums))
	for d := range sums {
		days = append(days, d)
	}
	sort.Strings(days)

	out := make(GroupedSeries, 0, len(days))
	for _, d := range days {
		out = append(out, DatePoint{Date: d, Value: Float(sums[d])})
	}
	return out, nil
}

// dayKeys 每行所属的自然日, 无法解析的行为空串
func dayKeys(t *dataset.Table, timeCol string) ([]string, error) {
	keys := make([]string, t.Nrow())
	if timeCol == t.TimeColumn() {
		times, err := t.Times()
		if err != nil {
			return nil, err
		}
		for i, ts := range times {
			keys[i] = ts.Format("2006-01-02")
		}
		return keys, nil
	}

	stamps, err := t.Strings(timeCol)
	if err != nil {
		return nil, err
	}
	for i, s := range stamps {
		if ts, err := utils.ParseTime(s); err == nil {
			keys[i] = ts.Format("2006-01-02")
		}
	}
	return keys, nil
}

// Correlation 数值列两两之间的 Pearson 相关系数, 使用两列同时非缺失的行.
// 少于两对观测或方差为 0 时为 NaN.
func Correlation(t *dataset.Table) (CorrelationMatrix, error) {
	cols := t.NumericColumns()
	data := make([][]float64, len(cols))
	for i, c := range cols {
		v, err := t.Floats(c)
		if err != nil {
			return CorrelationMatrix{}, err
		}
		data[i] = v
	}

	values := make([][]Float, len(cols))
	for i := range values {
		values[i] = make([]Float, len(cols))
	}
	for i := range cols {
		for j := i; j < len(cols); j++ {
			r := Float(pairwisePearson(data[i], data[j], i == j))
			values[i][j] = r
			values[j][i] = r
		}
	}

	if cols == nil {
		cols = []string{}
	}
	return CorrelationMatrix{Columns: cols, Values: values}, nil
}

func pairwisePearson(a, b []float64, diagonal bool) float64 {
	x := make([]float64, 0, len(a))
	y := make([]float64, 0, len(b))
	for i := range a {
		if !finite(a[i]) || !finite(b[i]) {
			continue
		}
		x = append(x, a[i])
		y = append(y, b[i])
	}
	if len(x) < 2 || stat.Variance(x, nil) == 0 || stat.Variance(y, nil) == 0 {
		return math.NaN()
	}
	if diagonal {
		return 1
	}
	r := stat.Correlation(x, y, nil)
	// 浮点误差可能略超出 [-1, 1]
	return math.Max(-1, math.Min(1, r))
}

// Distribution 描述性统计, 分位数为最近秩之间线性插值
func Distribution(t *dataset.Table, column string) (DistributionSummary, error) {
	values, err := numericValues(t, column)
	if err != nil {
		return DistributionSummary{}, err
	}

	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	std := math.NaN()
	if len(sorted) > 1 {
		std = stat.StdDev(sorted, nil)
	}

	return DistributionSummary{
		Column: column,
		Count:  len(sorted),
		Mean:   Float(stat.Mean(sorted, nil)),
		Std:    Float(std),
		Min:    Float(sorted[0]),
		Max:    Float(sorted[len(sorted)-1]),
		Q25:    Float(Quantile(sorted, 0.25)),
		Q50:    Float(Quantile(sorted, 0.5)),
		Q75:    Float(Quantile(sorted, 0.75)),
	}, nil
}

// Quantile sorted 必须已升序排列. 位置 q*(n-1) 处线性插值.
func Quantile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return math.NaN()
	}
	if q <= 0 {
		return sorted[0]
	}
	if q >= 1 {
		return sorted[len(sorted)-1]
	}
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	w := pos - float64(lo)
	return sorted[lo]*(1-w) + sorted[hi]*w
}

// BuildHistogram 等宽分箱, 最后一个箱包含上界. 所有值相同时取 [v-0.5, v+0.5].
func BuildHistogram(t *dataset.Table, column string, bins int) (Histogram, error) {
	if bins < 1 || bins > config.MaxHistogramBins {
		return Histogram{}, &dataset.InvalidParameterError{
			Name:   "bins",
			Reason: fmt.Sprintf("must be between 1 and %d", config.MaxHistogramBins),
		}
	}
	values, err := numericValues(t, column)
	if err != nil {
		return Histogram{}, err
	}

	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	lo, hi := sorted[0], sorted[len(sorted)-1]
	if lo == hi {
		lo, hi = lo-0.5, hi+0.5
	}

	edges := floats.Span(make([]float64, bins+1), lo, hi)
	dividers := append([]float64(nil), edges...)
	dividers[bins] = math.Nextafter(hi, math.Inf(1))
	counts := stat.Histogram(nil, dividers, sorted, nil)

	out := Histogram{Column: column, Bins: make([]Bin, bins)}
	for i := range out.Bins {
		out.Bins[i] = Bin{
			Lower: Float(edges[i]),
			Upper: Float(edges[i+1]),
			Count: int(counts[i]),
		}
	}
	return out, nil
}
