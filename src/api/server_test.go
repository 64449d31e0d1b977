package api

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"SalesInsight/src/dataset"
	"SalesInsight/src/datasource/file"
	"SalesInsight/src/processor"
	"SalesInsight/src/render"
	"SalesInsight/src/session"
	"SalesInsight/src/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

const salesCSV = `ORDERDATE,SALES,QTY,PRICE,CITY
2021-01-01,100,10,10,Paris
2021-01-01,50,5,10,Lyon
2021-01-02,30,2,15,Nice
2021-01-03,80,4,20,Paris
2021-01-03,60,6,10,Lyon
2021-01-04,90,3,30,Nice
`

type testEnv struct {
	server  *Server
	handler http.Handler
	session *session.Session
	logger  *storage.Logger
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger, err := storage.NewLogger(filepath.Join(t.TempDir(), "app.log"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = logger.Close() })

	sess := session.New(file.Options{Encodings: []string{"utf-8"}, TimeColumn: "ORDERDATE"}, "SALES")
	srv := NewServer(sess, logger, render.New(640, 360), Options{
		ValueColumn:    "SALES",
		TimeColumn:     "ORDERDATE",
		HistogramBins:  4,
		MaxUploadBytes: 1 << 20,
		Projection:     processor.DefaultProjectionOptions(),
	})
	return &testEnv{server: srv, handler: srv.Routes(), session: sess, logger: logger}
}

func (e *testEnv) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func (e *testEnv) upload(t *testing.T, name, content string) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", name)
	require.NoError(t, err)
	_, err = fw.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func errorMessage(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	decode(t, rec, &body)
	return body["error"]
}

func TestIndex(t *testing.T) {
	env := newTestEnv(t)
	rec := env.get(t, "/")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "message")
}

func TestEndpointsBeforeUpload(t *testing.T) {
	env := newTestEnv(t)

	for _, path := range []string{
		"/summary", "/grouped", "/correlation", "/distribution", "/histogram", "/pca",
		"/plot/grouped", "/plot/correlation", "/plot/distribution", "/plot/pca", "/export.xlsx",
	} {
		rec := env.get(t, path)
		assert.Equal(t, http.StatusConflict, rec.Code, path)
		assert.Contains(t, errorMessage(t, rec), "no dataset loaded", path)
	}

	var st session.Status
	decode(t, env.get(t, "/status"), &st)
	assert.Equal(t, session.Empty, st.State)
}

func TestUploadAndQuery(t *testing.T) {
	env := newTestEnv(t)

	rec := env.upload(t, "sales.csv", salesCSV)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var up struct {
		Message     string   `json:"message"`
		Rows        int      `json:"rows"`
		Columns     int      `json:"columns"`
		ColumnNames []string `json:"column_names"`
	}
	decode(t, rec, &up)
	assert.Equal(t, 6, up.Rows)
	assert.Equal(t, 5, up.Columns)
	assert.Equal(t, []string{"ORDERDATE", "SALES", "QTY", "PRICE", "CITY"}, up.ColumnNames)

	var sum processor.SummaryResult
	decode(t, env.get(t, "/summary"), &sum)
	assert.Equal(t, processor.SummaryResult{Total: 410, Mean: processor.Float(410.0 / 6), Max: 100, Min: 30, Count: 6, Rows: 6}, sum)

	rec = env.get(t, "/grouped")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[
		{"date":"2021-01-01","value":150},
		{"date":"2021-01-02","value":30},
		{"date":"2021-01-03","value":140},
		{"date":"2021-01-04","value":90}
	]`, rec.Body.String())

	var corr processor.CorrelationMatrix
	decode(t, env.get(t, "/correlation"), &corr)
	assert.Equal(t, []string{"SALES", "QTY", "PRICE"}, corr.Columns)
	assert.Equal(t, processor.Float(1), corr.Values[0][0])

	var dist processor.DistributionSummary
	decode(t, env.get(t, "/distribution?column=QTY"), &dist)
	assert.Equal(t, "QTY", dist.Column)
	assert.Equal(t, processor.Float(2), dist.Min)

	var hist processor.Histogram
	decode(t, env.get(t, "/histogram"), &hist)
	assert.Equal(t, "SALES", hist.Column)
	assert.Len(t, hist.Bins, 4)

	var proj processor.ProjectionResult
	rec = env.get(t, "/pca?n_components=2&n_clusters=2")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	decode(t, rec, &proj)
	assert.Equal(t, 6, proj.Rows)
	require.Len(t, proj.Components, 6)
	assert.Len(t, proj.Components[0].Scores, 2)
	assert.NotNil(t, proj.Components[0].Cluster)

	rec = env.get(t, "/pca?n_components=1&cluster=false")
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &proj)
	assert.Nil(t, proj.Components[0].Cluster)

	var st session.Status
	decode(t, env.get(t, "/status"), &st)
	assert.Equal(t, session.Loaded, st.State)
	assert.Equal(t, "sales.csv", st.Source)
}

func TestPlots(t *testing.T) {
	env := newTestEnv(t)
	require.Equal(t, http.StatusOK, env.upload(t, "sales.csv", salesCSV).Code)

	for _, path := range []string{
		"/plot/grouped",
		"/plot/correlation",
		"/plot/distribution?bins=3",
		"/plot/pca?n_components=2&n_clusters=2",
	} {
		rec := env.get(t, path)
		require.Equal(t, http.StatusOK, rec.Code, path+": "+rec.Body.String())
		assert.Equal(t, "image/png", rec.Header().Get("Content-Type"), path)
		assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("\x89PNG")), path)
	}
}

func TestErrorMapping(t *testing.T) {
	env := newTestEnv(t)
	require.Equal(t, http.StatusOK, env.upload(t, "sales.csv", salesCSV).Code)

	tests := []struct {
		path   string
		status int
	}{
		{"/distribution?column=REVENUE", http.StatusNotFound},
		{"/histogram?column=REVENUE", http.StatusNotFound},
		{"/distribution?column=CITY", http.StatusUnprocessableEntity},
		{"/pca?n_components=5", http.StatusUnprocessableEntity},
		{"/pca?n_components=0", http.StatusBadRequest},
		{"/pca?n_components=abc", http.StatusBadRequest},
		{"/pca?n_clusters=99", http.StatusBadRequest},
		{"/pca?cluster=maybe", http.StatusBadRequest},
		{"/histogram?bins=0", http.StatusBadRequest},
		{"/histogram?bins=4611686018427387904", http.StatusBadRequest},
		{"/plot/distribution?bins=1001", http.StatusBadRequest},
		{"/plot/distribution?bins=x", http.StatusBadRequest},
	}
	for _, tt := range tests {
		rec := env.get(t, tt.path)
		assert.Equal(t, tt.status, rec.Code, tt.path)
		assert.NotEmpty(t, errorMessage(t, rec), tt.path)
	}
}

func TestUploadErrors(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/upload", strings.NewReader("plain"))
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.upload(t, "broken.csv", "A,B\n")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, errorMessage(t, rec), "broken.csv")

	// 失败的上传使会话进入错误状态
	rec = env.get(t, "/summary")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, errorMessage(t, rec), "broken.csv")

	var st session.Status
	decode(t, env.get(t, "/status"), &st)
	assert.Equal(t, session.Failed, st.State)
}

func TestExport(t *testing.T) {
	env := newTestEnv(t)
	require.Equal(t, http.StatusOK, env.upload(t, "sales.csv", salesCSV).Code)

	rec := env.get(t, "/export.xlsx")
	require.Equal(t, http.StatusOK, rec.Code)

	f, err := excelize.OpenReader(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows("Sheet1")
	require.NoError(t, err)
	require.Len(t, rows, 7)
	assert.Equal(t, "ORDERDATE", rows[0][0])
	assert.Equal(t, "2021-01-01 00:00:00", rows[1][0])
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{&dataset.NotLoadedError{Cause: &dataset.LoadError{Source: "x", Reason: "bad"}}, http.StatusConflict},
		{fmt.Errorf("wrapped: %w", &dataset.ColumnNotFoundError{Column: "A"}), http.StatusNotFound},
		{&dataset.InsufficientDataError{Reason: "none"}, http.StatusUnprocessableEntity},
		{&dataset.InvalidParameterError{Name: "bins", Reason: "must be >= 1"}, http.StatusBadRequest},
		{&dataset.LoadError{Source: "x", Reason: "bad"}, http.StatusBadRequest},
		{&http.MaxBytesError{Limit: 10}, http.StatusRequestEntityTooLarge},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.status, statusFor(tt.err), tt.err.Error())
	}
}

func TestLogStream(t *testing.T) {
	env := newTestEnv(t)
	ts := httptest.NewServer(env.handler)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/logs")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	env.logger.Info("hello stream")

	lines := make(chan string, 1)
	go func() {
		line, _ := bufio.NewReader(resp.Body).ReadString('\n')
		lines <- line
	}()
	select {
	case line := <-lines:
		assert.Contains(t, line, "INFO: hello stream")
	case <-time.After(5 * time.Second):
		t.Fatal("no log line received")
	}
}
