package node

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tinytelemetry/searchmatrix/internal/blevestore"
	"github.com/tinytelemetry/searchmatrix/internal/duckdb"
	"github.com/tinytelemetry/searchmatrix/internal/model"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 64 << 20

func (s *Server) observe() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		code := c.Writer.Status()
		s.requests.WithLabelValues(route, strconv.Itoa(code)).Inc()
		level.Debug(s.logger).Log("msg", "request", "method", c.Request.Method, "route", route, "status", code, "duration", time.Since(start))
	}
}

func (s *Server) basicAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, pass, ok := c.Request.BasicAuth()
		if !ok || user != s.cfg.Username || pass != s.cfg.Password {
			c.Header("WWW-Authenticate", `Basic realm="searchmatrix"`)
			abort(c, http.StatusUnauthorized, ErrTypeSecurity, "missing or invalid credentials")
			return
		}
		c.Next()
	}
}

func (s *Server) metricsHandler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}

func abort(c *gin.Context, status int, typ, reason string) {
	c.AbortWithStatusJSON(status, ErrorBody{Error: ErrorDetail{Type: typ, Reason: reason}, Status: status})
}

// fail maps an engine error onto the HTTP error envelope.
func (s *Server) fail(c *gin.Context, err error) {
	status, typ := http.StatusInternalServerError, ErrTypeInternal
	switch {
	case errors.Is(err, ErrUnsupportedSyntax):
		status, typ = http.StatusBadRequest, ErrTypeUnsupported
	case errors.Is(err, ErrMalformedQuery):
		status, typ = http.StatusBadRequest, ErrTypeParsing
	case errors.Is(err, ErrQueryFailed):
		status, typ = http.StatusBadRequest, ErrTypeQueryFailed
	case errors.Is(err, duckdb.ErrQueryNotAllowed):
		status, typ = http.StatusBadRequest, ErrTypeQueryNotAllowed
	case errors.Is(err, blevestore.ErrWindowTooLarge):
		status, typ = http.StatusBadRequest, ErrTypeWindowTooLarge
	case errors.Is(err, duckdb.ErrIndexNotFound), errors.Is(err, blevestore.ErrIndexNotFound):
		status, typ = http.StatusNotFound, ErrTypeIndexNotFound
	case errors.Is(err, duckdb.ErrIndexExists), errors.Is(err, blevestore.ErrIndexExists):
		status, typ = http.StatusConflict, ErrTypeIndexExists
	case errors.Is(err, duckdb.ErrInvalidDocument), errors.Is(err, blevestore.ErrInvalidDocument):
		status, typ = http.StatusBadRequest, ErrTypeDocumentRejected
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}
	if status >= http.StatusInternalServerError {
		level.Error(s.logger).Log("msg", "request failed", "path", c.Request.URL.Path, "err", err)
	}
	abort(c, status, typ, err.Error())
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, s.Health(c.Request.Context()))
}

func (s *Server) handleSettings(c *gin.Context) {
	indices, err := s.engine.Indices(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	if indices == nil {
		indices = []string{}
	}
	s.mu.Lock()
	started := s.startTime
	s.mu.Unlock()

	c.JSON(http.StatusOK, Settings{
		ClusterName: s.cfg.ClusterName,
		Version:     s.cfg.Version.String(),
		DataPath:    s.cfg.DataPath,
		Env:         redacted(s.cfg.Env),
		Indices:     indices,
		StartedAt:   started,
	})
}

func (s *Server) handleCreateIndex(c *gin.Context) {
	index := c.Param("index")
	if err := s.engine.CreateIndex(c.Request.Context(), index); err != nil {
		s.fail(c, err)
		return
	}
	level.Info(s.logger).Log("msg", "index created", "index", index)
	c.JSON(http.StatusOK, Acknowledged{Acknowledged: true, Index: index})
}

func (s *Server) handleDeleteIndex(c *gin.Context) {
	index := c.Param("index")
	if err := s.engine.DeleteIndex(c.Request.Context(), index); err != nil {
		s.fail(c, err)
		return
	}
	level.Info(s.logger).Log("msg", "index deleted", "index", index)
	c.JSON(http.StatusOK, Acknowledged{Acknowledged: true, Index: index})
}

func (s *Server) handleBulk(c *gin.Context) {
	index := c.Param("index")
	var docs []model.Document
	if err := json.NewDecoder(http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes)).Decode(&docs); err != nil {
		abort(c, http.StatusBadRequest, ErrTypeParsing, "bulk body must be a JSON array of documents: "+err.Error())
		return
	}

	start := time.Now()
	n, err := s.engine.InsertDocuments(c.Request.Context(), index, docs)
	if err != nil {
		s.fail(c, err)
		return
	}
	level.Info(s.logger).Log("msg", "bulk import", "index", index, "items", n)
	c.JSON(http.StatusOK, BulkResponse{Index: index, Items: n, TookMs: time.Since(start).Milliseconds()})
}

func (s *Server) handleQuery(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes))
	if err != nil {
		abort(c, http.StatusBadRequest, ErrTypeParsing, err.Error())
		return
	}
	res, err := s.engine.Query(c.Request.Context(), body)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}
