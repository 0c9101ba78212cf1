package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"archivist/internal/logging"
	"archivist/internal/services"
	"archivist/internal/workflow"
)

const requestIDHeader = "X-Request-ID"

// StatusProvider reports runner diagnostics. *workflow.Runner implements it.
type StatusProvider interface {
	Status(ctx context.Context) workflow.StatusSummary
}

type server struct {
	jobs   *JobService
	status StatusProvider
	logger *slog.Logger
}

// NewRouter builds the admin API. status may be nil when no runner is
// attached; tokens must not be nil.
func NewRouter(jobs *JobService, status StatusProvider, tokens *TokenService, logger *slog.Logger) *gin.Engine {
	if logger == nil {
		logger = logging.NewNop()
	}
	srv := &server{
		jobs:   jobs,
		status: status,
		logger: logger.With(logging.String(logging.FieldComponent, "api")),
	}

	r := gin.New()
	r.Use(gin.Recovery(), srv.requestContext())
	r.GET("/health", srv.health)

	authed := r.Group("/", authMiddleware(tokens))
	authed.GET("/jobs", srv.listJobs)
	authed.GET("/jobs/stats", srv.jobStats)
	authed.GET("/jobs/:id", srv.getJob)
	authed.POST("/jobs", srv.enqueueJob)
	authed.POST("/jobs/:id/retry", srv.retryJob)
	authed.GET("/segments/:id/assets", srv.segmentAssets)
	return r
}

// requestContext tags the request context with a request id and logs the
// request once it completes.
func (s *server) requestContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(requestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header(requestIDHeader, requestID)
		c.Request = c.Request.WithContext(services.WithRequestID(c.Request.Context(), requestID))

		start := time.Now()
		c.Next()
		logging.WithContext(c.Request.Context(), s.logger).Debug("api request",
			logging.Event("api_request"),
			logging.String("method", c.Request.Method),
			logging.String("path", c.FullPath()),
			logging.Int("status", c.Writer.Status()),
			logging.Duration("elapsed", time.Since(start)),
		)
	}
}

func (s *server) health(c *gin.Context) {
	ctx := c.Request.Context()
	resp := HealthResponse{Ledger: "ok", Runner: RunnerStatus{JobStats: map[string]int{}, HandlerHealth: []HandlerHealth{}}}
	ready := true
	if err := s.jobs.Ping(ctx); err != nil {
		resp.Ledger = err.Error()
		ready = false
	}
	if s.status != nil {
		summary := s.status.Status(ctx)
		resp.Runner = FromStatusSummary(summary)
		ready = ready && summary.Ready()
	}
	resp.Ready = ready
	code := http.StatusOK
	if !ready {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, resp)
}

func (s *server) listJobs(c *gin.Context) {
	jobs, err := s.jobs.List(c.Request.Context(), ListFilter{
		Statuses: c.QueryArray("status"),
		Kind:     c.Query("kind"),
		Limit:    parseInt(c.Query("limit"), 0),
	})
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, JobListResponse{Jobs: jobs})
}

func (s *server) jobStats(c *gin.Context) {
	counts, err := s.jobs.Stats(c.Request.Context())
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, JobStatsResponse{Counts: counts})
}

func (s *server) getJob(c *gin.Context) {
	job, err := s.jobs.Describe(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	if job == nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "job not found", Code: "not_found"})
		return
	}
	c.JSON(http.StatusOK, JobResponse{Job: *job})
}

func (s *server) enqueueJob(c *gin.Context) {
	raw, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "unreadable body", Code: "validation"})
		return
	}
	job, err := s.jobs.Enqueue(c.Request.Context(), raw)
	if err != nil {
		s.respondError(c, err)
		return
	}
	logging.WithContext(c.Request.Context(), s.logger).Info("job enqueued",
		logging.Event("job_enqueued"),
		logging.JobID(job.ID),
		logging.JobKind(job.Kind),
		logging.String("subject", subjectOf(c)),
	)
	c.JSON(http.StatusCreated, JobResponse{Job: *job})
}

func (s *server) retryJob(c *gin.Context) {
	id := c.Param("id")
	result, err := RetryFailedJobsByID(c.Request.Context(), s.jobs, []string{id})
	if err != nil {
		s.respondError(c, err)
		return
	}
	code := http.StatusOK
	if len(result.Jobs) == 1 {
		switch result.Jobs[0].Outcome {
		case RetryJobNotFound:
			code = http.StatusNotFound
		case RetryJobNotFailed:
			code = http.StatusConflict
		}
	}
	c.JSON(code, result)
}

func (s *server) segmentAssets(c *gin.Context) {
	id := c.Param("id")
	assets, err := s.jobs.SegmentAssets(c.Request.Context(), id)
	if err != nil {
		s.respondError(c, err)
		return
	}
	if assets == nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "segment not found", Code: "not_found"})
		return
	}
	c.JSON(http.StatusOK, AssetListResponse{SegmentID: id, Assets: assets})
}

func (s *server) respondError(c *gin.Context, err error) {
	status, code := errorStatus(err)
	if status >= http.StatusInternalServerError {
		logging.ErrorWithContext(logging.WithContext(c.Request.Context(), s.logger), "api request failed", "api_error",
			logging.String("path", c.FullPath()),
			logging.Error(err),
		)
	}
	c.JSON(status, ErrorResponse{Error: services.FailureMessage(err), Code: code})
}

func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, services.ErrValidation):
		return http.StatusBadRequest, "validation"
	case errors.Is(err, services.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, services.ErrTimeout):
		return http.StatusGatewayTimeout, "timeout"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func subjectOf(c *gin.Context) string {
	if claims := ClaimsFrom(c); claims != nil {
		return claims.Subject
	}
	return ""
}

func parseInt(s string, def int) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 0 {
		return def
	}
	return n
}
