package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	vimbacapture "github.com/e7canasta/vimba-capture"
	"github.com/e7canasta/vimba-capture/settings"
	"github.com/gin-gonic/gin"
)

type handlers struct {
	ctrl  Controller
	extra func() any
}

// errorResponse is the body of every non-2xx answer.
type errorResponse struct {
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// stepResponse is one sequencer step, with outcome and error rendered.
type stepResponse struct {
	Setting string `json:"setting"`
	Feature string `json:"feature,omitempty"`
	Value   string `json:"value,omitempty"`
	Outcome string `json:"outcome"`
	Error   string `json:"error,omitempty"`
}

type reportResponse struct {
	Applied int            `json:"applied"`
	Failed  int            `json:"failed"`
	Skipped int            `json:"skipped"`
	Steps   []stepResponse `json:"steps"`
}

type formatRequest struct {
	Format string `json:"format" binding:"required"`
}

func (h *handlers) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now(),
	})
}

func (h *handlers) capabilities(c *gin.Context) {
	caps, err := h.ctrl.Capabilities()
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, caps)
}

func (h *handlers) getSettings(c *gin.Context) {
	c.JSON(http.StatusOK, h.ctrl.Settings())
}

// deviceSettings reads the live feature values back from the camera.
func (h *handlers) deviceSettings(c *gin.Context) {
	got, report, err := h.ctrl.DeviceSettings()
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"settings": got,
		"report":   toReport(report),
	})
}

// putSettings merges a partial JSON snapshot onto the current settings.
// Keys absent from the body keep their value.
func (h *handlers) putSettings(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, newError("bad_request", err.Error()))
		return
	}

	next := h.ctrl.Settings()
	if err := json.Unmarshal(body, &next); err != nil {
		c.JSON(http.StatusBadRequest, newError("invalid_json", err.Error()))
		return
	}
	if err := next.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, newError("invalid_settings", err.Error()))
		return
	}

	report, err := h.ctrl.UpdateSettings(c.Request.Context(), func(s *settings.Settings) {
		*s = next
	})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"settings": h.ctrl.Settings(),
		"report":   toReport(report),
	})
}

func (h *handlers) report(c *gin.Context) {
	c.JSON(http.StatusOK, toReport(h.ctrl.LastReport()))
}

func (h *handlers) putFormat(c *gin.Context) {
	var req formatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, newError("bad_request", err.Error()))
		return
	}
	if err := h.ctrl.NegotiateFormat(c.Request.Context(), req.Format); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"format": req.Format})
}

func (h *handlers) startSession(c *gin.Context) {
	if err := h.ctrl.StartSession(c.Request.Context()); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, h.ctrl.Stats())
}

func (h *handlers) stopSession(c *gin.Context) {
	if err := h.ctrl.StopSession(c.Request.Context()); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, h.ctrl.Stats())
}

func (h *handlers) stats(c *gin.Context) {
	if h.extra == nil {
		c.JSON(http.StatusOK, h.ctrl.Stats())
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"source": h.ctrl.Stats(),
		"host":   h.extra(),
	})
}

func toReport(r vimbacapture.Report) reportResponse {
	out := reportResponse{Steps: make([]stepResponse, 0, len(r.Steps))}
	for _, s := range r.Steps {
		step := stepResponse{
			Setting: s.Setting,
			Feature: s.Feature,
			Value:   s.Value,
			Outcome: s.Outcome.String(),
		}
		if s.Err != nil {
			step.Error = s.Err.Error()
		}
		out.Steps = append(out.Steps, step)

		switch step.Outcome {
		case "applied":
			out.Applied++
		case "failed":
			out.Failed++
		case "skipped":
			out.Skipped++
		}
	}
	return out
}

func newError(code, msg string) errorResponse {
	return errorResponse{Error: code, Message: msg, Timestamp: time.Now()}
}

// fail maps the source error taxonomy to HTTP status codes.
func fail(c *gin.Context, err error) {
	var (
		formatErr   *vimbacapture.FormatError
		commandErr  *vimbacapture.CommandError
		resourceErr *vimbacapture.ResourceError
		timeoutErr  *vimbacapture.TimeoutError
	)

	switch {
	case errors.As(err, &formatErr):
		c.JSON(http.StatusUnprocessableEntity, newError("unsupported_format", err.Error()))
	case errors.Is(err, vimbacapture.ErrNotOpen):
		c.JSON(http.StatusServiceUnavailable, newError("not_open", err.Error()))
	case errors.Is(err, vimbacapture.ErrSessionActive):
		c.JSON(http.StatusConflict, newError("session_active", err.Error()))
	case errors.As(err, &timeoutErr):
		c.JSON(http.StatusGatewayTimeout, newError("device_timeout", err.Error()))
	case errors.As(err, &resourceErr):
		c.JSON(http.StatusInsufficientStorage, newError("device_resources", err.Error()))
	case errors.As(err, &commandErr):
		c.JSON(http.StatusBadGateway, newError("device_command", err.Error()))
	default:
		c.JSON(http.StatusInternalServerError, newError("internal", err.Error()))
	}
}
