package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/mikey/mail-triage/internal/core"
	"go.uber.org/zap"
)

type classifyRequest struct {
	IDs  []string `json:"ids"`
	Mode string   `json:"mode"`
}

type modeRequest struct {
	Mode string `json:"mode"`
}

type categorizeRequest struct {
	ID       string `json:"id"`
	Category string `json:"category"`
}

type trainRequest struct {
	Source string `json:"source"`
}

// handleClassify classifies an explicit set of emails. The call is
// synchronous but still runs through the coordinator so that it shares
// the single-flight guard with background classification.
func (s *Server) handleClassify(c *gin.Context) {
	var req classifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, core.WrapErr(core.ErrValidation, "malformed request body", err), nil)
		return
	}

	mode := core.ClassifyMode(req.Mode)
	snap, err := s.coordinator.Trigger(core.KindClassifyBatch, func(ctx context.Context) (interface{}, error) {
		return s.classifier.Classify(ctx, req.IDs, mode)
	})
	if err != nil {
		s.writeError(c, err, gin.H{"job": snap.ID})
		return
	}

	snap, err = s.coordinator.Await(c.Request.Context(), snap.ID, s.pollInterval, s.pollBudget)
	if err != nil {
		extra := gin.H{"job": snap.ID}
		if res, ok := snap.Result.(core.BatchResult); ok {
			extra["classified"] = res.Classified
			extra["attempted"] = res.Attempted
		}
		s.writeError(c, err, extra)
		return
	}

	c.JSON(http.StatusOK, snap.Result)
}

// handleClassifyAll starts a fire-and-forget pass over every
// unclassified email
func (s *Server) handleClassifyAll(c *gin.Context) {
	var req modeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, core.WrapErr(core.ErrValidation, "malformed request body", err), nil)
		return
	}

	mode := core.ClassifyMode(req.Mode)
	snap, err := s.coordinator.Trigger(core.KindClassifyAll, func(ctx context.Context) (interface{}, error) {
		return s.classifier.ClassifyAll(ctx, mode)
	})
	if err != nil {
		s.writeError(c, err, gin.H{"job": snap.ID})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"status": "started", "job": snap.ID})
}

// handleFetch starts a fire-and-forget fetch-and-classify pass
func (s *Server) handleFetch(c *gin.Context) {
	var req modeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, core.WrapErr(core.ErrValidation, "malformed request body", err), nil)
		return
	}

	mode := core.ClassifyMode(req.Mode)
	snap, err := s.coordinator.Trigger(core.KindFetch, func(ctx context.Context) (interface{}, error) {
		fetched, classified, err := s.classifier.FetchAndClassify(ctx, mode)
		return gin.H{"fetch": fetched, "classify": classified}, err
	})
	if err != nil {
		s.writeError(c, err, gin.H{"job": snap.ID})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"status": "started", "job": snap.ID})
}

// handleCategorize applies a manual label to one email
func (s *Server) handleCategorize(c *gin.Context) {
	var req categorizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, core.WrapErr(core.ErrValidation, "malformed request body", err), nil)
		return
	}

	if err := s.classifier.Categorize(c.Request.Context(), req.ID, req.Category); err != nil {
		s.writeError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "updated"})
}

func (s *Server) handleStats(c *gin.Context) {
	stats, err := s.classifier.Stats(c.Request.Context())
	if err != nil {
		s.writeError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) handleListEmails(c *gin.Context) {
	filter := core.EmailFilter{}
	if v := c.Query("predicted_by"); v != "" {
		for _, p := range strings.Split(v, ",") {
			filter.PredictedBy = append(filter.PredictedBy, core.Predictor(p))
		}
	}
	if c.Query("unclassified") == "true" {
		filter.Unclassified = true
	}

	emails, err := s.emails.List(c.Request.Context(), filter)
	if err != nil {
		s.writeError(c, err, nil)
		return
	}
	if emails == nil {
		emails = []*core.Email{}
	}
	c.JSON(http.StatusOK, gin.H{"emails": emails, "count": len(emails)})
}

func (s *Server) handleListLabels(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"labels": core.Labels})
}

func (s *Server) handleListReputation(c *gin.Context) {
	filter := core.SenderFilter{
		Address:  strings.ToLower(c.Query("address")),
		Category: c.Query("category"),
	}
	if v := c.Query("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			s.writeError(c, core.Errorf(core.ErrValidation, "invalid limit %q", v), nil)
			return
		}
		filter.Limit = limit
	}

	senders, err := s.reputation.List(c.Request.Context(), filter)
	if err != nil {
		s.writeError(c, err, nil)
		return
	}
	if senders == nil {
		senders = []*core.Sender{}
	}
	c.JSON(http.StatusOK, gin.H{"senders": senders, "count": len(senders)})
}

// handleRecalculate rebuilds the whole reputation table. Synchronous,
// single-flight guarded through the coordinator.
func (s *Server) handleRecalculate(c *gin.Context) {
	snap, err := s.coordinator.Trigger(core.KindRecalculate, func(ctx context.Context) (interface{}, error) {
		return s.reputation.Recalculate(ctx)
	})
	if err != nil {
		s.writeError(c, err, gin.H{"job": snap.ID})
		return
	}

	snap, err = s.coordinator.Await(c.Request.Context(), snap.ID, s.pollInterval, s.pollBudget)
	if err != nil {
		s.writeError(c, err, gin.H{"job": snap.ID})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":          "recalculated",
		"senders_updated": snap.Result,
	})
}

// handleTrain starts an asynchronous training run
func (s *Server) handleTrain(c *gin.Context) {
	var req trainRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, core.WrapErr(core.ErrValidation, "malformed request body", err), nil)
		return
	}

	source := core.TrainingSource(req.Source)
	snap, err := s.coordinator.Trigger(core.KindTrain, func(ctx context.Context) (interface{}, error) {
		return s.training.Train(ctx, source)
	})
	if err != nil {
		s.writeError(c, err, gin.H{"job": snap.ID})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"status": "started",
		"source": req.Source,
		"job":    snap.ID,
	})
}

// handleClearEmails wipes the email store
func (s *Server) handleClearEmails(c *gin.Context) {
	if err := s.classifier.ClearEmails(c.Request.Context()); err != nil {
		s.writeError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cleared"})
}

func (s *Server) handleClearTraining(c *gin.Context) {
	affected, err := s.training.ClearTrainingData(c.Request.Context())
	if err != nil {
		s.writeError(c, err, nil)
		return
	}
	s.logger.Info("Training data cleared", zap.Int("affected", affected))
	c.JSON(http.StatusOK, gin.H{"status": "cleared"})
}

func (s *Server) handleMetrics(c *gin.Context) {
	run, err := s.training.Metrics(c.Request.Context())
	if err != nil {
		s.writeError(c, err, nil)
		return
	}
	if run == nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "NotFound",
			"message": "no training run recorded yet",
		})
		return
	}
	c.JSON(http.StatusOK, run)
}

func (s *Server) handleJob(c *gin.Context) {
	snap, err := s.coordinator.Poll(c.Param("id"))
	if err != nil {
		s.writeError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, snap)
}
