package render

import (
	"fmt"
	"image/color"
	"io"
	"math"
	"sort"
	"time"

	"SalesInsight/src/dataset"
	"SalesInsight/src/processor"

	"github.com/wcharczuk/go-chart/v2"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette/moreland"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// Renderer 把分析结果画成 PNG
type Renderer struct {
	Width  int
	Height int
}

func New(width, height int) *Renderer {
	return &Renderer{Width: width, Height: height}
}

func insufficient(what string) error {
	return &dataset.InsufficientDataError{Reason: "nothing to plot for " + what}
}

// padRange 最小值等于最大值时给坐标轴一个非零跨度, 否则返回 nil 使用自动范围
func padRange(min, max, pad float64) chart.Range {
	if min < max {
		return nil
	}
	return &chart.ContinuousRange{Min: min - pad, Max: max + pad}
}

// GroupedChart 每日汇总折线图
func (r *Renderer) GroupedChart(w io.Writer, series processor.GroupedSeries, valueColumn string) error {
	if len(series) == 0 {
		return insufficient("grouped series")
	}

	xs := make([]time.Time, 0, len(series))
	ys := make([]float64, 0, len(series))
	for _, p := range series {
		day, err := time.Parse("2006-01-02", p.Date)
		if err != nil {
			return fmt.Errorf("grouped series date %q: %w", p.Date, err)
		}
		xs = append(xs, day)
		ys = append(ys, float64(p.Value))
	}

	ch := chart.Chart{
		Title:  valueColumn + " by day",
		Width:  r.Width,
		Height: r.Height,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeDateValueFormatter,
			Range:          padRange(chart.TimeToFloat64(xs[0]), chart.TimeToFloat64(xs[len(xs)-1]), float64(24*time.Hour)),
		},
		YAxis: chart.YAxis{
			Range: padRange(minOf(ys), maxOf(ys), 1),
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name: valueColumn,
				Style: chart.Style{
					StrokeWidth: 2,
					StrokeColor: chart.GetDefaultColor(0),
					DotWidth:    dotWidth(len(xs)),
					DotColor:    chart.GetDefaultColor(0),
				},
				XValues: xs,
				YValues: ys,
			},
		},
	}
	return ch.Render(chart.PNG, w)
}

// 单点时画出圆点, 否则只有折线
func dotWidth(n int) float64 {
	if n == 1 {
		return 5
	}
	return chart.Disabled
}

// DistributionChart 直方图
func (r *Renderer) DistributionChart(w io.Writer, h processor.Histogram) error {
	if len(h.Bins) == 0 {
		return insufficient("histogram")
	}

	bars := make([]chart.Value, len(h.Bins))
	highest := 1.0
	for i, b := range h.Bins {
		bars[i] = chart.Value{
			Label: fmt.Sprintf("%.4g", float64(b.Lower)),
			Value: float64(b.Count),
		}
		highest = math.Max(highest, float64(b.Count))
	}

	spacing := 2
	barWidth := (r.Width-120)/len(bars) - spacing
	if barWidth < 1 {
		barWidth = 1
	}

	bc := chart.BarChart{
		Title:      "Distribution of " + h.Column,
		Width:      r.Width,
		Height:     r.Height,
		BarWidth:   barWidth,
		BarSpacing: spacing,
		YAxis: chart.YAxis{
			Range: &chart.ContinuousRange{Min: 0, Max: highest},
		},
		Bars: bars,
	}
	return bc.Render(chart.PNG, w)
}

// ProjectionChart PC1/PC2 散点图, 每个簇一个系列
func (r *Renderer) ProjectionChart(w io.Writer, p processor.ProjectionResult) error {
	if len(p.Components) == 0 {
		return insufficient("projection")
	}

	type group struct{ xs, ys []float64 }
	groups := map[int]*group{}
	var xs, ys []float64
	for _, pt := range p.Components {
		x, y := 0.0, 0.0
		if len(pt.Scores) > 0 {
			x = pt.Scores[0]
		}
		if len(pt.Scores) > 1 {
			y = pt.Scores[1]
		}
		label := -1
		if pt.Cluster != nil {
			label = *pt.Cluster
		}
		g, ok := groups[label]
		if !ok {
			g = &group{}
			groups[label] = g
		}
		g.xs = append(g.xs, x)
		g.ys = append(g.ys, y)
		xs = append(xs, x)
		ys = append(ys, y)
	}

	labels := make([]int, 0, len(groups))
	for l := range groups {
		labels = append(labels, l)
	}
	sort.Ints(labels)

	series := make([]chart.Series, 0, len(labels))
	for i, l := range labels {
		name := fmt.Sprintf("cluster %d", l)
		if l < 0 {
			name = "rows"
		}
		series = append(series, chart.ContinuousSeries{
			Name: name,
			Style: chart.Style{
				StrokeWidth: chart.Disabled,
				DotWidth:    4,
				DotColor:    chart.GetDefaultColor(i),
			},
			XValues: groups[l].xs,
			YValues: groups[l].ys,
		})
	}

	ch := chart.Chart{
		Title:  "PCA projection",
		Width:  r.Width,
		Height: r.Height,
		XAxis: chart.XAxis{
			Name:  "PC1",
			Range: padRange(minOf(xs), maxOf(xs), 1),
		},
		YAxis: chart.YAxis{
			Name:  "PC2",
			Range: padRange(minOf(ys), maxOf(ys), 1),
		},
		Series: series,
	}
	ch.Elements = []chart.Renderable{chart.Legend(&ch)}
	return ch.Render(chart.PNG, w)
}

// CorrelationHeatmap 相关矩阵热力图, 未定义的格子为灰色
func (r *Renderer) CorrelationHeatmap(w io.Writer, m processor.CorrelationMatrix) error {
	if len(m.Columns) == 0 {
		return insufficient("correlation matrix")
	}

	p := plot.New()
	p.Title.Text = "Correlation matrix"

	hm := plotter.NewHeatMap(corrGrid{m}, moreland.SmoothBlueRed().Palette(255))
	hm.Min, hm.Max = -1, 1
	hm.NaN = color.Gray{Y: 0xc0}
	p.Add(hm)

	// 行从上到下与列顺序一致
	rows := make([]string, len(m.Columns))
	for i, c := range m.Columns {
		rows[len(m.Columns)-1-i] = c
	}
	p.NominalX(m.Columns...)
	p.NominalY(rows...)

	wt, err := p.WriterTo(vg.Length(r.Width)*vg.Inch/96, vg.Length(r.Height)*vg.Inch/96, "png")
	if err != nil {
		return err
	}
	_, err = wt.WriteTo(w)
	return err
}

// corrGrid 将相关矩阵适配为 plotter.GridXYZ
type corrGrid struct {
	m processor.CorrelationMatrix
}

func (g corrGrid) Dims() (c, r int) { return len(g.m.Columns), len(g.m.Columns) }

func (g corrGrid) Z(c, r int) float64 {
	n := len(g.m.Columns)
	return float64(g.m.Values[n-1-r][c])
}

func (g corrGrid) X(c int) float64 { return float64(c) }
func (g corrGrid) Y(r int) float64 { return float64(r) }

func minOf(v []float64) float64 {
	m := math.Inf(1)
	for _, x := range v {
		m = math.Min(m, x)
	}
	return m
}

func maxOf(v []float64) float64 {
	m := math.Inf(-1)
	for _, x := range v {
		m = math.Max(m, x)
	}
	return m
}
