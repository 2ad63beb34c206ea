package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mikey/mail-triage/internal/core"
	"go.uber.org/zap"
)

// Server exposes the triage backend over HTTP
type Server struct {
	classifier   *core.ClassifierService
	reputation   *core.ReputationService
	training     *core.TrainingService
	coordinator  *core.JobCoordinator
	emails       core.EmailStore
	logger       *zap.Logger
	pollInterval time.Duration
	pollBudget   time.Duration
	engine       *gin.Engine
}

// NewServer creates the HTTP server and registers all routes
func NewServer(
	classifier *core.ClassifierService,
	reputation *core.ReputationService,
	training *core.TrainingService,
	coordinator *core.JobCoordinator,
	emails core.EmailStore,
	logger *zap.Logger,
	pollInterval time.Duration,
	pollBudget time.Duration,
) *Server {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	if pollBudget <= 0 {
		pollBudget = time.Minute
	}
	s := &Server{
		classifier:   classifier,
		reputation:   reputation,
		training:     training,
		coordinator:  coordinator,
		emails:       emails,
		logger:       logger,
		pollInterval: pollInterval,
		pollBudget:   pollBudget,
	}
	s.engine = s.buildEngine()
	return s
}

func (s *Server) buildEngine() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(s.requestLogger())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api")
	{
		api.POST("/classify", s.handleClassify)
		api.POST("/classify-all", s.handleClassifyAll)
		api.POST("/fetch", s.handleFetch)
		api.POST("/categorize", s.handleCategorize)
		api.POST("/clear", s.handleClearEmails)
		api.GET("/stats", s.handleStats)
		api.GET("/emails", s.handleListEmails)
		api.GET("/labels", s.handleListLabels)
		api.GET("/reputation", s.handleListReputation)
		api.POST("/reputation/recalculate", s.handleRecalculate)
		api.POST("/train", s.handleTrain)
		api.POST("/train/clear", s.handleClearTraining)
		api.GET("/classifier/metrics", s.handleMetrics)
		api.GET("/jobs/:id", s.handleJob)
	}

	return r
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		s.logger.Info("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()))
	}
}

// Handler returns the underlying HTTP handler, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run blocks serving HTTP on the given address
func (s *Server) Run(addr string) error {
	s.logger.Info("HTTP server starting", zap.String("address", addr))
	return s.engine.Run(addr)
}

// statusForKind maps the error taxonomy onto HTTP status codes
func statusForKind(kind core.ErrorKind) int {
	switch kind {
	case core.ErrConflict:
		return http.StatusConflict
	case core.ErrValidation:
		return http.StatusBadRequest
	case core.ErrInsufficientData:
		return http.StatusUnprocessableEntity
	case core.ErrUpstreamUnavailable, core.ErrPartialBatch:
		return http.StatusBadGateway
	case core.ErrIndeterminate:
		return http.StatusAccepted
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders an error as the structured {error, message} payload.
// extra fields are merged into the payload, which lets partial batch
// failures carry their counts.
func (s *Server) writeError(c *gin.Context, err error, extra gin.H) {
	kind := core.KindOf(err)
	if kind == "" {
		s.logger.Error("Unclassified handler error", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "InternalError",
			"message": err.Error(),
		})
		return
	}

	payload := gin.H{
		"error":   string(kind),
		"message": err.Error(),
	}
	for k, v := range extra {
		payload[k] = v
	}
	c.JSON(statusForKind(kind), payload)
}
