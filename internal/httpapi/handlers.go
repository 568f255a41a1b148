package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"leadbot/internal/channel"
	"leadbot/internal/outreach"
	"leadbot/internal/presence"
	logx "leadbot/pkg/logx"
)

const (
	statusSuccess = "success"
	statusError   = "error"
	statusIgnored = "ignored"
)

type sendMessageRequest struct {
	Target       string `json:"target" binding:"required"`
	CustomerName string `json:"customerName" binding:"required"`
	StoreName    string `json:"storeName" binding:"required"`
}

type notificationRequest struct {
	Message string `json:"message" binding:"required"`
	Phone   string `json:"phone" binding:"required"`
}

type logRequest struct {
	Message string `json:"message" binding:"required"`
}

// errorStatus maps direct-send errors to HTTP codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, outreach.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, outreach.ErrConnectivity), errors.Is(err, channel.ErrNotConnected):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func errorMessage(code int) string {
	switch code {
	case http.StatusBadRequest:
		return "Dados inválidos."
	case http.StatusServiceUnavailable:
		return "Canal de mensagens não está conectado."
	default:
		return "Falha ao enviar a mensagem."
	}
}

func (s *Server) fail(c *gin.Context, err error) {
	code := errorStatus(err)
	_ = c.Error(err)
	c.JSON(code, gin.H{"status": statusError, "message": errorMessage(code), "error": err.Error()})
}

func badRequest(c *gin.Context, err error) {
	_ = c.Error(err)
	c.JSON(http.StatusBadRequest, gin.H{"status": statusError, "message": "Dados incompletos.", "error": err.Error()})
}

func (s *Server) sendMessage(c *gin.Context) {
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := s.deps.Direct.SendWelcome(c.Request.Context(), req.Target, req.CustomerName, req.StoreName); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": statusSuccess, "message": "Mensagem enviada com sucesso!"})
}

func (s *Server) notification(c *gin.Context) {
	var req notificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	res, err := s.deps.Direct.SendNotification(c.Request.Context(), req.Phone, req.Message)
	if err != nil {
		code := errorStatus(err)
		_ = c.Error(err)
		c.JSON(code, gin.H{
			"status":    statusError,
			"message":   errorMessage(code),
			"error":     err.Error(),
			"attempted": res.Attempted,
			"succeeded": res.Succeeded,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":    statusSuccess,
		"message":   "Mensagem enviada com sucesso!",
		"attempted": res.Attempted,
		"succeeded": res.Succeeded,
	})
}

func (s *Server) relayLog(c *gin.Context) {
	var req logRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := s.deps.Direct.RelayLog(c.Request.Context(), req.Message); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": statusSuccess, "message": "Mensagem enviada com sucesso!"})
}

// webhook takes inbound channel messages from the gateway. Only direct
// messages from allowed senders reach the control handler.
func (s *Server) webhook(c *gin.Context) {
	var in channel.Inbound
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, err)
		return
	}
	from := in.Identity()
	if !in.Actionable() || !s.deps.Control.Allowed(from) {
		c.JSON(http.StatusOK, gin.H{"status": statusIgnored})
		return
	}
	reply, handled := s.deps.Control.Handle(from, in.Body)
	if !handled {
		c.JSON(http.StatusOK, gin.H{"status": statusIgnored})
		return
	}
	if err := s.deps.Replier.Send(c.Request.Context(), from, reply); err != nil {
		// the command already ran; only the reply is lost
		s.log.Warn("control reply failed", logx.Phone("to", from), logx.Err(err))
	}
	c.JSON(http.StatusOK, gin.H{"status": statusSuccess, "handled": true})
}

type statusResponse struct {
	Time        time.Time          `json:"time"`
	Timezone    string             `json:"timezone"`
	Window      string             `json:"window"`
	Open        bool               `json:"open"`
	NextOpen    time.Time          `json:"next_open,omitzero"`
	Paused      bool               `json:"paused"`
	State       outreach.State     `json:"state"`
	LastOutcome outreach.Outcome   `json:"last_outcome,omitempty"`
	LastCycleAt time.Time          `json:"last_cycle_at,omitzero"`
	NextWakeAt  time.Time          `json:"next_wake_at,omitzero"`
	Cycles      uint64             `json:"cycles"`
	Quota       int                `json:"quota"`
	MaxAttempts int                `json:"max_attempts"`
	Presence    *presence.Snapshot `json:"presence,omitempty"`
}

func (s *Server) status(c *gin.Context) {
	st := s.deps.Scheduler.Status()
	gate := s.deps.Scheduler.Gate()
	now := s.deps.Now().In(gate.Location())

	out := statusResponse{
		Time:        now,
		Timezone:    gate.Location().String(),
		Window:      gate.Window(),
		Open:        gate.IsOpen(now),
		Paused:      st.Paused,
		State:       st.State,
		LastOutcome: st.LastOutcome,
		LastCycleAt: st.LastCycleAt,
		NextWakeAt:  st.NextWakeAt,
		Cycles:      st.Cycles,
		Quota:       st.Quota,
		MaxAttempts: st.MaxAttempts,
	}
	if !out.Open {
		out.NextOpen = gate.NextOpen(now)
	}
	if s.deps.Presence != nil {
		p := s.deps.Presence()
		out.Presence = &p
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) healthz(c *gin.Context) {
	if s.deps.Health == nil {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
		return
	}
	snap := s.deps.Health()
	code, state := http.StatusOK, "ok"
	if snap.FirstError != "" {
		code, state = http.StatusServiceUnavailable, "degraded"
	}
	c.JSON(code, gin.H{"status": state, "supervisor": snap})
}
