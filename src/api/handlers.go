package api

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"SalesInsight/src/dataset"
	"SalesInsight/src/processor"
	"SalesInsight/src/utils"
)

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "API active. Use POST /upload to load a dataset, then the GET endpoints for data or images.",
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.session.Status())
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes)
	if err := r.ParseMultipartForm(s.opts.MaxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, r, err)
			return
		}
		s.writeError(w, r, &dataset.InvalidParameterError{Name: "file", Reason: "expected a multipart form with a file field"})
		return
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, r, &dataset.InvalidParameterError{Name: "file", Reason: "no file uploaded"})
		return
	}
	defer f.Close()
	if header.Filename == "" {
		s.writeError(w, r, &dataset.InvalidParameterError{Name: "file", Reason: "no file selected"})
		return
	}

	data, err := io.ReadAll(f)
	if err != nil {
		s.writeError(w, r, fmt.Errorf("读取上传文件失败: %w", err))
		return
	}

	name := filepath.Base(header.Filename)
	if err := s.session.Load(data, name); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.logger.Infof("数据集已加载: %s (%d bytes)", name, len(data))

	st := s.session.Status()
	writeJSON(w, http.StatusOK, map[string]any{
		"message":      "file loaded",
		"rows":         st.Rows,
		"columns":      st.Columns,
		"column_names": st.ColumnNames,
	})
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	t, err := s.session.Current()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := processor.Summary(t, s.opts.ValueColumn)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) grouped() (processor.GroupedSeries, error) {
	t, err := s.session.Current()
	if err != nil {
		return nil, err
	}
	return processor.GroupedByDate(t, s.opts.TimeColumn, s.opts.ValueColumn)
}

func (s *Server) handleGrouped(w http.ResponseWriter, r *http.Request) {
	series, err := s.grouped()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, series)
}

func (s *Server) correlation() (processor.CorrelationMatrix, error) {
	t, err := s.session.Current()
	if err != nil {
		return processor.CorrelationMatrix{}, err
	}
	return processor.Correlation(t)
}

func (s *Server) handleCorrelation(w http.ResponseWriter, r *http.Request) {
	m, err := s.correlation()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleDistribution(w http.ResponseWriter, r *http.Request) {
	t, err := s.session.Current()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	d, err := processor.Distribution(t, s.column(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) histogram(r *http.Request) (processor.Histogram, error) {
	bins, err := intParam(r, "bins", s.opts.HistogramBins)
	if err != nil {
		return processor.Histogram{}, err
	}
	t, err := s.session.Current()
	if err != nil {
		return processor.Histogram{}, err
	}
	return processor.BuildHistogram(t, s.column(r), bins)
}

func (s *Server) handleHistogram(w http.ResponseWriter, r *http.Request) {
	h, err := s.histogram(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h)
}

// projection 解析 n_components, cluster, n_clusters 后执行 PCA
func (s *Server) projection(r *http.Request) (processor.ProjectionResult, error) {
	opts := s.opts.Projection
	var err error
	if opts.Components, err = intParam(r, "n_components", opts.Components); err != nil {
		return processor.ProjectionResult{}, err
	}
	if opts.Cluster, err = boolParam(r, "cluster", opts.Cluster); err != nil {
		return processor.ProjectionResult{}, err
	}
	if opts.Clusters, err = intParam(r, "n_clusters", opts.Clusters); err != nil {
		return processor.ProjectionResult{}, err
	}

	t, err := s.session.Current()
	if err != nil {
		return processor.ProjectionResult{}, err
	}
	return processor.Project(t, opts)
}

func (s *Server) handlePCA(w http.ResponseWriter, r *http.Request) {
	res, err := s.projection(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handlePlotGrouped(w http.ResponseWriter, r *http.Request) {
	series, err := s.grouped()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writePNG(w, r, func(buf *bytes.Buffer) error {
		return s.renderer.GroupedChart(buf, series, s.opts.ValueColumn)
	})
}

func (s *Server) handlePlotCorrelation(w http.ResponseWriter, r *http.Request) {
	m, err := s.correlation()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writePNG(w, r, func(buf *bytes.Buffer) error {
		return s.renderer.CorrelationHeatmap(buf, m)
	})
}

func (s *Server) handlePlotDistribution(w http.ResponseWriter, r *http.Request) {
	h, err := s.histogram(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writePNG(w, r, func(buf *bytes.Buffer) error {
		return s.renderer.DistributionChart(buf, h)
	})
}

func (s *Server) handlePlotPCA(w http.ResponseWriter, r *http.Request) {
	res, err := s.projection(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writePNG(w, r, func(buf *bytes.Buffer) error {
		return s.renderer.ProjectionChart(buf, res)
	})
}

// writePNG 先渲染到内存, 失败时仍可返回 JSON 错误
func (s *Server) writePNG(w http.ResponseWriter, r *http.Request, draw func(*bytes.Buffer) error) {
	var buf bytes.Buffer
	if err := draw(&buf); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	_, _ = buf.WriteTo(w)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	t, err := s.session.Current()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var buf bytes.Buffer
	if err := utils.WriteExcel(t.DataFrame(), &buf); err != nil {
		s.writeError(w, r, fmt.Errorf("导出 xlsx 失败: %w", err))
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="dataset.xlsx"`)
	_, _ = buf.WriteTo(w)
}

// handleLogs 以分块方式持续推送日志, 直到客户端断开或日志关闭
func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, r, errors.New("streaming unsupported"))
		return
	}

	sub := s.logger.Subscribe()
	defer s.logger.Unsubscribe(sub)

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case line, ok := <-sub:
			if !ok {
				return
			}
			if _, err := io.WriteString(w, line); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (s *Server) column(r *http.Request) string {
	if c := strings.TrimSpace(r.URL.Query().Get("column")); c != "" {
		return c
	}
	return s.opts.ValueColumn
}

func intParam(r *http.Request, name string, def int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &dataset.InvalidParameterError{Name: name, Reason: fmt.Sprintf("%q is not an integer", raw)}
	}
	return v, nil
}

func boolParam(r *http.Request, name string, def bool) (bool, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, &dataset.InvalidParameterError{Name: name, Reason: fmt.Sprintf("%q is not a boolean", raw)}
	}
	return v, nil
}
