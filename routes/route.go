package routes

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"coderunner/executor"
	"coderunner/model"
	"coderunner/pkg"
	"coderunner/service"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const Version = "1.0.0"

// Executor is the orchestrator surface the HTTP layer needs.
type Executor interface {
	ExecuteDirectly(ctx context.Context, req model.ExecutionRequest) model.ExecutionResult
	ExecuteWithQueue(req model.ExecutionRequest, priority int) (string, error)
	SupportedLanguages() []string
	Status() model.ServiceStatus
	QueueStatus() model.QueueStatus
	ClearQueue() int
}

// ViolationLister reads audited rejections.
type ViolationLister interface {
	Recent(ctx context.Context, limit int) ([]model.SecurityViolation, error)
	Count(ctx context.Context) (int, error)
}

type Options struct {
	RateLimiter      *pkg.RateLimiter
	Violations       ViolationLister
	AllowedOrigins   []string
	DefaultTimeoutMs int
	Development      bool
}

type ExecutionHandler struct {
	svc       Executor
	logger    *zap.Logger
	opts      Options
	startedAt time.Time
}

func ok(data any, message string) model.APIResponse {
	return model.APIResponse{Success: true, Data: data, Message: message, Timestamp: time.Now().UnixMilli()}
}

func fail(errMsg, message string) model.APIResponse {
	return model.APIResponse{Success: false, Error: errMsg, Message: message, Timestamp: time.Now().UnixMilli()}
}

// NewRouter wires middleware and endpoints onto a gin engine.
func NewRouter(svc Executor, logger *zap.Logger, opts Options) *gin.Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.DefaultTimeoutMs == 0 {
		opts.DefaultTimeoutMs = 5000
	}
	h := &ExecutionHandler{svc: svc, logger: logger, opts: opts, startedAt: time.Now()}

	r := gin.New()
	r.Use(Recovery(logger, opts.Development), RequestLogger(logger), SecurityHeaders(opts.AllowedOrigins), RequireJSON())
	r.NoRoute(NotFound)
	r.NoMethod(NotFound)

	r.GET("/", h.HandleInfo)
	r.GET("/health", h.HandleHealth)

	api := r.Group("/api")
	limited := []gin.HandlerFunc{}
	if opts.RateLimiter != nil {
		limited = append(limited, opts.RateLimiter.Middleware())
	}
	api.POST("/execute", append(limited, h.HandleExecute)...)
	api.POST("/execute/queue", append(limited, h.HandleExecuteQueue)...)
	api.GET("/languages", h.HandleLanguages)
	api.GET("/status", h.HandleStatus)
	api.GET("/queue/status", h.HandleQueueStatus)
	api.DELETE("/queue", h.HandleClearQueue)
	if opts.Violations != nil {
		api.GET("/security/violations", h.HandleViolations)
	}
	return r
}

func (h *ExecutionHandler) HandleInfo(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message": "Code Execution as a Service API",
		"version": Version,
		"endpoints": gin.H{
			"health":       "/health",
			"execute":      "/api/execute",
			"executeQueue": "/api/execute/queue",
			"languages":    "/api/languages",
			"status":       "/api/status",
			"queueStatus":  "/api/queue/status",
		},
	})
}

func (h *ExecutionHandler) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		"version":   Version,
		"uptime":    time.Since(h.startedAt).Seconds(),
	})
}

// bindRequest decodes and normalizes the body, answering 400 on failure.
func (h *ExecutionHandler) bindRequest(c *gin.Context) (model.ExecutionRequest, bool) {
	var req model.ExecutionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, fail("Validation failed", err.Error()))
		return req, false
	}
	req, err := pkg.NormalizeRequest(req, h.svc.SupportedLanguages(), h.opts.DefaultTimeoutMs)
	if err != nil {
		c.JSON(http.StatusBadRequest, fail("Validation failed", err.Error()))
		return req, false
	}
	return req, true
}

func (h *ExecutionHandler) HandleExecute(c *gin.Context) {
	req, valid := h.bindRequest(c)
	if !valid {
		return
	}

	start := time.Now()
	h.logger.Info("Code execution request received",
		zap.String("language", req.Language),
		zap.Int("codeLength", len(req.Code)),
		zap.String("ip", c.ClientIP()))

	ctx := service.WithClientIP(c.Request.Context(), c.ClientIP())
	result := h.svc.ExecuteDirectly(ctx, req)

	h.logger.Info("Code execution request completed",
		zap.String("language", req.Language),
		zap.Bool("success", result.Success),
		zap.Duration("totalTime", time.Since(start)),
		zap.Int64("executionTime", result.ExecutionTimeMs))

	c.JSON(http.StatusOK, ok(result, ""))
}

func (h *ExecutionHandler) HandleExecuteQueue(c *gin.Context) {
	priority := 1
	if raw := c.Query("priority"); raw != "" {
		p, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, fail("Validation failed", "priority must be an integer"))
			return
		}
		priority = p
	}

	req, valid := h.bindRequest(c)
	if !valid {
		return
	}

	jobID, err := h.svc.ExecuteWithQueue(req, priority)
	switch {
	case errors.Is(err, executor.ErrQueueFull):
		h.logger.Warn("Queued execution rejected", zap.String("language", req.Language), zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, fail("Failed to queue execution", "Queue is full. Please try again later."))
		return
	case errors.Is(err, service.ErrUnsupportedLanguage):
		c.JSON(http.StatusBadRequest, fail("Failed to queue execution", err.Error()))
		return
	case err != nil:
		h.logger.Error("Queued execution request failed", zap.String("language", req.Language), zap.Error(err))
		c.JSON(http.StatusInternalServerError, fail("Failed to queue execution", err.Error()))
		return
	}

	h.logger.Info("Queued execution request received",
		zap.String("jobId", jobID),
		zap.String("language", req.Language),
		zap.Int("priority", priority),
		zap.String("ip", c.ClientIP()))
	c.JSON(http.StatusOK, ok(gin.H{"jobId": jobID}, "Code execution queued successfully"))
}

func (h *ExecutionHandler) HandleLanguages(c *gin.Context) {
	c.JSON(http.StatusOK, ok(gin.H{"languages": h.svc.SupportedLanguages()}, ""))
}

func (h *ExecutionHandler) HandleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, ok(h.svc.Status(), ""))
}

func (h *ExecutionHandler) HandleQueueStatus(c *gin.Context) {
	c.JSON(http.StatusOK, ok(h.svc.QueueStatus(), ""))
}

func (h *ExecutionHandler) HandleClearQueue(c *gin.Context) {
	cleared := h.svc.ClearQueue()
	h.logger.Warn("Queue cleared via API", zap.Int("clearedJobs", cleared), zap.String("ip", c.ClientIP()))
	c.JSON(http.StatusOK, ok(gin.H{"clearedJobs": cleared}, "Queue cleared successfully"))
}

func (h *ExecutionHandler) HandleViolations(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 500 {
			c.JSON(http.StatusBadRequest, fail("Validation failed", "limit must be between 1 and 500"))
			return
		}
		limit = n
	}

	violations, err := h.opts.Violations.Recent(c.Request.Context(), limit)
	if err != nil {
		h.logger.Error("Failed to list security violations", zap.Error(err))
		c.JSON(http.StatusInternalServerError, fail("Internal server error", "Failed to list security violations"))
		return
	}
	total, err := h.opts.Violations.Count(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to count security violations", zap.Error(err))
		c.JSON(http.StatusInternalServerError, fail("Internal server error", "Failed to list security violations"))
		return
	}
	c.JSON(http.StatusOK, ok(gin.H{"violations": violations, "total": total}, ""))
}
