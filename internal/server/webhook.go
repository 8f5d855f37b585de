package server

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
)

// webhook bodies are small; cap reads so a hostile sender cannot balloon
// memory before signature verification rejects it.
const maxWebhookBody = 1 << 20

// ReceiveWebhook ingests a gateway delivery. The raw body must reach the
// verifier untouched; any re-serialization would break the HMAC.
func (s *Server) ReceiveWebhook(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	eventID := c.GetHeader("X-Razorpay-Event-Id")
	signature := c.GetHeader("X-Razorpay-Signature")

	if err := s.paymentSvc.IngestWebhook(c.Request.Context(), eventID, body, signature); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
