package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/liveyourdreams/backoffice-metering/internal/apikey"
	"github.com/liveyourdreams/backoffice-metering/internal/audit"
	"github.com/liveyourdreams/backoffice-metering/internal/database"
	"github.com/liveyourdreams/backoffice-metering/internal/usage"
)

// createKeyRequest is the POST /api/keys payload.
type createKeyRequest struct {
	Provider     string   `json:"provider" binding:"required"`
	Name         string   `json:"name" binding:"required"`
	Key          string   `json:"key" binding:"required"`
	MonthlyLimit *float64 `json:"monthly_limit"`
}

// logUsageRequest is the POST /api/usage payload.
type logUsageRequest struct {
	APIKeyID     string         `json:"api_key_id" binding:"required"`
	UserID       string         `json:"user_id"`
	Feature      string         `json:"feature" binding:"required"`
	Endpoint     string         `json:"endpoint"`
	Model        string         `json:"model"`
	InputTokens  int            `json:"input_tokens"`
	OutputTokens int            `json:"output_tokens"`
	DurationMs   int            `json:"duration_ms"`
	Status       string         `json:"status"`
	ErrorMessage string         `json:"error_message"`
	Metadata     map[string]any `json:"metadata"`
}

func (s *Server) handleListKeys(c *gin.Context) {
	summaries, err := s.keys.ListKeys(c.Request.Context())
	if err != nil {
		s.internalError(c, "failed to list keys", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"keys": summaries})
}

func (s *Server) handleCreateKey(c *gin.Context) {
	var req createKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	key, err := s.keys.CreateKey(c.Request.Context(), apikey.CreateKeyParams{
		Provider:     database.Provider(req.Provider),
		Name:         req.Name,
		Key:          req.Key,
		MonthlyLimit: req.MonthlyLimit,
		Actor:        audit.ActorManagement,
	})
	if err != nil {
		if errors.Is(err, apikey.ErrInvalidProvider) ||
			errors.Is(err, apikey.ErrInvalidKeyFormat) ||
			errors.Is(err, apikey.ErrEmptyName) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		s.internalError(c, "failed to create key", err)
		return
	}

	c.JSON(http.StatusCreated, key)
}

func (s *Server) handleKeyStats(c *gin.Context) {
	stats, err := s.keys.GetKeyStats(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.internalError(c, "failed to load key stats", err)
		return
	}
	if stats == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "key not found"})
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) handleDeactivateKey(c *gin.Context) {
	err := s.keys.DeactivateKey(c.Request.Context(), c.Param("id"), audit.ActorManagement)
	if err != nil {
		if errors.Is(err, database.ErrKeyNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "key not found"})
			return
		}
		s.internalError(c, "failed to deactivate key", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deactivated"})
}

func (s *Server) handleLogUsage(c *gin.Context) {
	var req logUsageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	entry, err := s.usage.LogUsage(c.Request.Context(), usage.LogParams{
		APIKeyID:     req.APIKeyID,
		UserID:       req.UserID,
		Feature:      req.Feature,
		Endpoint:     req.Endpoint,
		Model:        req.Model,
		InputTokens:  req.InputTokens,
		OutputTokens: req.OutputTokens,
		DurationMs:   req.DurationMs,
		Status:       database.CallStatus(req.Status),
		ErrorMessage: req.ErrorMessage,
		Metadata:     req.Metadata,
	})
	if err != nil {
		if errors.Is(err, usage.ErrMissingKeyID) ||
			errors.Is(err, usage.ErrMissingFeature) ||
			errors.Is(err, usage.ErrNegativeValue) ||
			errors.Is(err, usage.ErrInvalidStatus) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		s.internalError(c, "failed to record usage", err)
		return
	}

	c.JSON(http.StatusCreated, entry)
}

func (s *Server) handleMonthlyUsage(c *gin.Context) {
	totals, err := s.usage.GetMonthlyUsage(c.Request.Context(), c.Param("keyID"))
	if err != nil {
		s.internalError(c, "failed to aggregate monthly usage", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"total_calls":  totals.Calls,
		"total_tokens": totals.TotalTokens,
		"total_cost":   totals.TotalCost,
	})
}

func (s *Server) handleDailyUsage(c *gin.Context) {
	days := 0
	if raw := c.Query("days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid days parameter"})
			return
		}
		days = parsed
	}

	daily, err := s.usage.GetDailyUsage(c.Request.Context(), days)
	if err != nil {
		s.internalError(c, "failed to aggregate daily usage", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"daily": daily})
}

func (s *Server) handleFeatureBreakdown(c *gin.Context) {
	start, err := parseDateQuery(c.Query("start"), time.Time{})
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid start parameter"})
		return
	}
	end, err := parseDateQuery(c.Query("end"), time.Now().UTC())
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid end parameter"})
		return
	}

	rows, err := s.usage.GetFeatureBreakdown(c.Request.Context(), start, end)
	if err != nil {
		s.internalError(c, "failed to compute feature breakdown", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"features": rows})
}

func (s *Server) handleRecentCalls(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit parameter"})
			return
		}
		limit = parsed
	}

	calls, err := s.usage.GetRecentCalls(c.Request.Context(), limit)
	if err != nil {
		s.internalError(c, "failed to load recent calls", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"calls": calls})
}

func (s *Server) handleOverallStats(c *gin.Context) {
	stats, err := s.usage.GetOverallStats(c.Request.Context())
	if err != nil {
		s.internalError(c, "failed to aggregate overall stats", err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// internalError logs the cause and returns a generic 500. Decrypt failures in
// particular must not leak detail to API clients.
func (s *Server) internalError(c *gin.Context, msg string, err error) {
	s.logger.Error(msg, zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
}

// parseDateQuery accepts RFC3339 timestamps or bare ISO dates.
func parseDateQuery(raw string, fallback time.Time) (time.Time, error) {
	if raw == "" {
		return fallback, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", raw)
}
