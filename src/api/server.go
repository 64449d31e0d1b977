package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"SalesInsight/src/dataset"
	"SalesInsight/src/processor"
	"SalesInsight/src/render"
	"SalesInsight/src/session"
	"SalesInsight/src/storage"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Options 分发层需要的配置, 由 config 组装
type Options struct {
	ValueColumn    string
	TimeColumn     string
	HistogramBins  int
	MaxUploadBytes int64
	Projection     processor.ProjectionOptions
}

// Server 把请求转发给会话和分析函数, 并序列化结果
type Server struct {
	session  *session.Session
	logger   *storage.Logger
	renderer *render.Renderer
	opts     Options
}

func NewServer(sess *session.Session, logger *storage.Logger, renderer *render.Renderer, opts Options) *Server {
	return &Server{session: sess, logger: logger, renderer: renderer, opts: opts}
}

// Routes 构建 chi 路由
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		s.requestLogger,
		middleware.Recoverer,
	)

	r.Get("/", s.handleIndex)
	r.Get("/status", s.handleStatus)
	r.Post("/upload", s.handleUpload)

	r.Get("/summary", s.handleSummary)
	r.Get("/grouped", s.handleGrouped)
	r.Get("/correlation", s.handleCorrelation)
	r.Get("/distribution", s.handleDistribution)
	r.Get("/histogram", s.handleHistogram)
	r.Get("/pca", s.handlePCA)

	r.Route("/plot", func(r chi.Router) {
		r.Get("/grouped", s.handlePlotGrouped)
		r.Get("/correlation", s.handlePlotCorrelation)
		r.Get("/distribution", s.handlePlotDistribution)
		r.Get("/pca", s.handlePlotPCA)
	})

	r.Get("/export.xlsx", s.handleExport)
	r.Get("/logs", s.handleLogs)
	return r
}

// requestLogger 每个请求结束后写一行访问日志
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			s.logger.Infof("%s %s %d %dB %v reqid=%s",
				r.Method, r.URL.Path, status, ww.BytesWritten(), time.Since(start), middleware.GetReqID(r.Context()))
		}()
		next.ServeHTTP(ww, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor 错误类型到 HTTP 状态码
func statusFor(err error) int {
	var (
		notLoaded    *dataset.NotLoadedError
		notFound     *dataset.ColumnNotFoundError
		insufficient *dataset.InsufficientDataError
		invalid      *dataset.InvalidParameterError
		loadErr      *dataset.LoadError
		tooLarge     *http.MaxBytesError
	)
	switch {
	case errors.As(err, &notLoaded):
		return http.StatusConflict
	case errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.As(err, &insufficient):
		return http.StatusUnprocessableEntity
	case errors.As(err, &invalid):
		return http.StatusBadRequest
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.As(err, &loadErr):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Errorf("%s %s: %v", r.Method, r.URL.Path, err)
	} else {
		s.logger.Warningf("%s %s: %v", r.Method, r.URL.Path, err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
