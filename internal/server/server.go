package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"annotex/internal/index"
	"annotex/internal/ner"
	"annotex/internal/stats"
	"annotex/internal/trace"
)

type Analyzer interface {
	Analyze(ctx context.Context, text string) (ner.Analysis, error)
	Types() []string
}

type DocumentStore interface {
	Put(ctx context.Context, doc index.Document) error
	Get(ctx context.Context, id string) (index.Document, error)
	Search(ctx context.Context, field, entityType, query string) ([]index.Document, error)
	All(ctx context.Context) ([]index.Document, error)
}

type Options struct {
	Pipeline        Analyzer
	Mapper          *index.Mapper
	Store           DocumentStore
	Readiness       ner.LoadResult
	TraceSampleRate float64
	Logger          *zap.Logger
}

type Server struct {
	pipeline   Analyzer
	mapper     *index.Mapper
	store      DocumentStore
	readiness  ner.LoadResult
	sampleRate float64
	logger     *zap.Logger
	started    time.Time
}

func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		pipeline:   opts.Pipeline,
		mapper:     opts.Mapper,
		store:      opts.Store,
		readiness:  opts.Readiness,
		sampleRate: opts.TraceSampleRate,
		logger:     logger,
		started:    time.Now(),
	}
}

// SetupRouter registers the document routes only when a store is configured.
func (s *Server) SetupRouter() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())

	r.GET("/healthz", s.Health)
	v1 := r.Group("/v1")
	v1.POST("/annotate", s.Annotate)
	if s.store != nil && s.mapper != nil {
		v1.POST("/documents", s.AddDocument)
		v1.GET("/documents/:id", s.GetDocument)
		v1.GET("/search", s.Search)
		v1.GET("/stats", s.Stats)
	}
	return r
}

// ListenAndServe blocks until ctx is canceled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.SetupRouter(), ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrap(err, "listen")
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.logger.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}

type AnnotateRequest struct {
	Text    string `json:"text"`
	Explain bool   `json:"explain"`
}

type AnnotateResponse struct {
	TraceID    string              `json:"trace_id"`
	Entities   map[string][]string `json:"entities"`
	Tokens     []ner.Token         `json:"tokens,omitempty"`
	Candidates []ner.Annotation    `json:"candidates,omitempty"`
	Resolved   []ner.Annotation    `json:"resolved,omitempty"`
}

func (s *Server) Annotate(c *gin.Context) {
	var req AnnotateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	tr := trace.NewDocumentTrace(s.sampleRate)
	a, err := s.pipeline.Analyze(trace.WithContext(c.Request.Context(), tr), req.Text)
	if err != nil {
		s.fail(c, err, "annotate")
		return
	}
	resp := AnnotateResponse{TraceID: tr.ID, Entities: a.Entities.Lists()}
	if req.Explain {
		resp.Tokens = a.Tokens
		resp.Candidates = a.Candidates
		resp.Resolved = a.Resolved
	}
	c.JSON(http.StatusOK, resp)
}

type AddDocumentRequest struct {
	Field   string `json:"field"`
	Content string `json:"content" binding:"required"`
}

func (s *Server) AddDocument(c *gin.Context) {
	var req AddDocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	ctx := c.Request.Context()
	doc, err := s.mapper.Map(ctx, req.Field, req.Content)
	if err != nil {
		s.fail(c, err, "map document")
		return
	}
	if err := s.store.Put(ctx, doc); err != nil {
		s.fail(c, err, "store document")
		return
	}
	c.JSON(http.StatusCreated, doc)
}

func (s *Server) GetDocument(c *gin.Context) {
	doc, err := s.store.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err, "get document")
		return
	}
	c.JSON(http.StatusOK, doc)
}

func (s *Server) Search(c *gin.Context) {
	field := strings.TrimSpace(c.Query("field"))
	if field == "" {
		field = s.mapper.DefaultField()
	}
	typ := strings.TrimSpace(c.Query("type"))
	q := c.Query("q")
	if typ == "" || strings.TrimSpace(q) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "type and q are required"})
		return
	}
	docs, err := s.store.Search(c.Request.Context(), field, typ, q)
	if err != nil {
		s.fail(c, err, "search")
		return
	}
	c.JSON(http.StatusOK, gin.H{"documents": docs, "total": len(docs)})
}

func (s *Server) Stats(c *gin.Context) {
	docs, err := s.store.All(c.Request.Context())
	if err != nil {
		s.fail(c, err, "stats")
		return
	}
	c.JSON(http.StatusOK, stats.Collect(docs, stats.Options{
		Now:    time.Now().UTC(),
		Status: s.status(),
		Uptime: time.Since(s.started),
	}))
}

type loadFailure struct {
	Loader string `json:"loader"`
	Error  string `json:"error"`
}

func (s *Server) Health(c *gin.Context) {
	failures := make([]loadFailure, 0, len(s.readiness.Failures))
	for _, f := range s.readiness.Failures {
		failures = append(failures, loadFailure{Loader: f.Loader, Error: f.Err.Error()})
	}
	c.JSON(http.StatusOK, gin.H{
		"status":   s.status(),
		"types":    s.pipeline.Types(),
		"failures": failures,
	})
}

func (s *Server) status() string {
	if s.readiness.Ready() {
		return "running"
	}
	return "degraded"
}

func (s *Server) fail(c *gin.Context, err error, op string) {
	switch {
	case errors.Is(err, index.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, index.ErrInvalidField):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		s.logger.Error(op+" failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to " + op})
	}
}
