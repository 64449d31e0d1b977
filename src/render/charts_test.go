package render

import (
	"bytes"
	"math"
	"testing"

	"SalesInsight/src/dataset"
	"SalesInsight/src/processor"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pngMagic = []byte("\x89PNG\r\n\x1a\n")

func assertPNG(t *testing.T, buf *bytes.Buffer) {
	t.Helper()
	require.Greater(t, buf.Len(), len(pngMagic))
	assert.Equal(t, pngMagic, buf.Bytes()[:len(pngMagic)])
}

func TestGroupedChart(t *testing.T) {
	r := New(800, 400)

	var buf bytes.Buffer
	err := r.GroupedChart(&buf, processor.GroupedSeries{
		{Date: "2021-01-01", Value: 150},
		{Date: "2021-01-02", Value: 30},
		{Date: "2021-01-05", Value: 90},
	}, "SALES")
	require.NoError(t, err)
	assertPNG(t, &buf)
}

func TestGroupedChartSinglePoint(t *testing.T) {
	r := New(800, 400)

	var buf bytes.Buffer
	require.NoError(t, r.GroupedChart(&buf, processor.GroupedSeries{{Date: "2021-01-01", Value: 10}}, "SALES"))
	assertPNG(t, &buf)
}

func TestGroupedChartErrors(t *testing.T) {
	r := New(800, 400)

	var insufficient *dataset.InsufficientDataError
	assert.ErrorAs(t, r.GroupedChart(&bytes.Buffer{}, nil, "SALES"), &insufficient)
	assert.Error(t, r.GroupedChart(&bytes.Buffer{}, processor.GroupedSeries{{Date: "bad", Value: 1}}, "SALES"))
}

func TestDistributionChart(t *testing.T) {
	r := New(800, 400)
	h := processor.Histogram{
		Column: "SALES",
		Bins: []processor.Bin{
			{Lower: 0, Upper: 2, Count: 2},
			{Lower: 2, Upper: 4, Count: 2},
			{Lower: 4, Upper: 6, Count: 1},
			{Lower: 6, Upper: 8, Count: 0},
			{Lower: 8, Upper: 10, Count: 1},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, r.DistributionChart(&buf, h))
	assertPNG(t, &buf)

	var insufficient *dataset.InsufficientDataError
	assert.ErrorAs(t, r.DistributionChart(&bytes.Buffer{}, processor.Histogram{Column: "SALES"}), &insufficient)
}

func TestProjectionChart(t *testing.T) {
	r := New(800, 400)
	c0, c1 := 0, 1
	p := processor.ProjectionResult{
		Columns: []string{"A", "B"},
		Components: []processor.ProjectionPoint{
			{Scores: []float64{-1, 0.5}, Cluster: &c0},
			{Scores: []float64{-1.2, 0.4}, Cluster: &c0},
			{Scores: []float64{2, -0.3}, Cluster: &c1},
		},
		Rows: 3,
	}

	var buf bytes.Buffer
	require.NoError(t, r.ProjectionChart(&buf, p))
	assertPNG(t, &buf)
}

func TestProjectionChartSingleComponent(t *testing.T) {
	r := New(800, 400)
	p := processor.ProjectionResult{
		Components: []processor.ProjectionPoint{
			{Scores: []float64{-1}},
			{Scores: []float64{1}},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, r.ProjectionChart(&buf, p))
	assertPNG(t, &buf)

	var insufficient *dataset.InsufficientDataError
	assert.ErrorAs(t, r.ProjectionChart(&bytes.Buffer{}, processor.ProjectionResult{}), &insufficient)
}

func TestCorrelationHeatmap(t *testing.T) {
	r := New(600, 600)
	nan := processor.Float(math.NaN())
	m := processor.CorrelationMatrix{
		Columns: []string{"A", "B", "C"},
		Values: [][]processor.Float{
			{1, 0.8, nan},
			{0.8, 1, -0.2},
			{nan, -0.2, nan},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, r.CorrelationHeatmap(&buf, m))
	assertPNG(t, &buf)
}

func TestCorrelationHeatmapSingleColumn(t *testing.T) {
	r := New(600, 600)
	m := processor.CorrelationMatrix{
		Columns: []string{"A"},
		Values:  [][]processor.Float{{1}},
	}

	var buf bytes.Buffer
	require.NoError(t, r.CorrelationHeatmap(&buf, m))
	assertPNG(t, &buf)

	var insufficient *dataset.InsufficientDataError
	assert.ErrorAs(t, r.CorrelationHeatmap(&bytes.Buffer{}, processor.CorrelationMatrix{}), &insufficient)
}
