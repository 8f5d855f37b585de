package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/dealbridge/internal/audit/domain"
	"go.uber.org/zap"
)

// ScrapeQueueStatus exposes the admission queue's depth for operators.
func (s *Server) ScrapeQueueStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"data": s.queue.Status()})
}

// ClearScrapeQueue rejects all pending scrape requests. In-flight fetches
// finish on their own.
func (s *Server) ClearScrapeQueue(c *gin.Context) {
	cleared := s.queue.Clear()
	s.log.Info("scrape queue cleared", zap.Int("rejected", cleared))
	c.JSON(http.StatusOK, gin.H{"data": gin.H{"cleared": cleared}})
}

func (s *Server) ListAuditLogs(c *gin.Context) {
	var query struct {
		Action     string `form:"action"`
		TargetType string `form:"target_type"`
		TargetID   string `form:"target_id"`
		ActorType  string `form:"actor_type"`
		StartAt    string `form:"start_at"`
		EndAt      string `form:"end_at"`
		Limit      int    `form:"limit"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	startAt, err := parseOptionalTime(query.StartAt, false)
	if err != nil {
		AbortWithError(c, newValidationError("start_at", "invalid_start_at", "invalid start_at"))
		return
	}
	endAt, err := parseOptionalTime(query.EndAt, true)
	if err != nil {
		AbortWithError(c, newValidationError("end_at", "invalid_end_at", "invalid end_at"))
		return
	}

	entries, err := s.auditSvc.List(c.Request.Context(), auditdomain.ListFilter{
		Action:     strings.TrimSpace(query.Action),
		TargetType: strings.TrimSpace(query.TargetType),
		TargetID:   strings.TrimSpace(query.TargetID),
		ActorType:  strings.TrimSpace(query.ActorType),
		StartAt:    startAt,
		EndAt:      endAt,
		Limit:      query.Limit,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": entries})
}
