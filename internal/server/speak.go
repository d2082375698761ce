package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vyrodovalexey/speechrelay/internal/middleware"
	"github.com/vyrodovalexey/speechrelay/internal/observability"
	"github.com/vyrodovalexey/speechrelay/internal/relay"
	"github.com/vyrodovalexey/speechrelay/internal/transport/ws"
)

// MessageTextRequired is the error body of a speak request without text.
const MessageTextRequired = "Text required"

// MessageBodyTooLarge is the error body of a speak request over the body limit.
const MessageBodyTooLarge = "Request body too large"

const channelName = "http"

type speakRequest struct {
	Text *string `json:"text"`
}

// SpeakResponse is the body of a successful speak request.
type SpeakResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// handleSpeak relays the text of a one-shot request. The rate limit
// middleware has consumed for the caller already.
func (s *Server) handleSpeak(c *gin.Context) {
	logger := s.logger.WithContext(c.Request.Context())

	var req speakRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Text == nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.metrics.RecordSubmit(channelName, "too_large")
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": MessageBodyTooLarge})
			return
		}
		s.metrics.RecordSubmit(channelName, "empty_text")
		c.JSON(http.StatusBadRequest, gin.H{"error": MessageTextRequired})
		return
	}

	result, err := s.service.Relay(c.Request.Context(), middleware.GetRateLimitKey(c), *req.Text)
	switch {
	case err == nil:
		s.metrics.RecordSubmit(channelName, relay.OutcomeDelivered.String())
		logger.Info("text relayed",
			observability.Int("recipients", result.Count),
		)
		c.JSON(http.StatusOK, SpeakResponse{Success: true, Message: ws.MessageSent})
	case errors.Is(err, relay.ErrEmptyText):
		s.metrics.RecordSubmit(channelName, "empty_text")
		c.JSON(http.StatusBadRequest, gin.H{"error": MessageTextRequired})
	case errors.Is(err, relay.ErrNoRecipients):
		s.metrics.RecordSubmit(channelName, relay.OutcomeNoRecipients.String())
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": ws.MessageNoSpeaker})
	default:
		s.metrics.RecordSubmit(channelName, "error")
		logger.Error("speak request failed",
			observability.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal Server Error"})
	}
}
