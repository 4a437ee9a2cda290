// Package httpapi exposes the attendance and reward operations over HTTP.
package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/decentracode/attendme/internal/app/metrics"
	"github.com/decentracode/attendme/internal/app/services/attendance"
	"github.com/decentracode/attendme/internal/app/services/rewards"
	"github.com/decentracode/attendme/internal/app/services/sessions"
	"github.com/decentracode/attendme/internal/app/services/whitelist"
	"github.com/decentracode/attendme/internal/app/storage"
	"github.com/decentracode/attendme/pkg/logger"
)

// HealthFunc reports whether a backing dependency is reachable.
type HealthFunc func() bool

// Options configures the HTTP layer.
type Options struct {
	RateLimitPerMinute int
	Checks             map[string]HealthFunc
}

// Handler routes HTTP requests to the application services.
type Handler struct {
	attendance *attendance.Service
	rewards    *rewards.Service
	whitelist  *whitelist.Service
	sessions   *sessions.Service
	opts       Options
	log        *logger.Logger
}

func NewHandler(att *attendance.Service, rew *rewards.Service, wl *whitelist.Service, sess *sessions.Service, opts Options, log *logger.Logger) *Handler {
	if log == nil {
		log = logger.NewDefault("httpapi")
	}
	return &Handler{
		attendance: att,
		rewards:    rew,
		whitelist:  wl,
		sessions:   sess,
		opts:       opts,
		log:        log,
	}
}

// Router builds the gin engine with all routes and middleware attached.
func (h *Handler) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(corsMiddleware())
	r.Use(securityHeaders())
	r.Use(metricsMiddleware())
	r.Use(rateLimitMiddleware(h.opts.RateLimitPerMinute))

	r.POST("/register-attendance", h.registerAttendance)
	r.POST("/claim-tokens", h.claimTokens)
	r.GET("/attendance-history/:address", h.attendanceHistory)
	r.GET("/token-balance/:address", h.tokenBalance)
	r.POST("/whitelist/add", h.whitelistAdd)
	r.GET("/sessions", h.listSessions)
	r.POST("/sessions", h.upsertSession)
	r.GET("/healthz", h.healthz)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	return r
}

type registerRequest struct {
	Address     string `json:"address"`
	Name        string `json:"name"`
	SessionCode string `json:"sessionCode"`
	Message     string `json:"message"`
	Signature   string `json:"signature"`
}

func (h *Handler) registerAttendance(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid request body")
		return
	}

	rec, err := h.attendance.Register(c.Request.Context(), req.Address, req.Name, req.SessionCode, req.Message, req.Signature)
	if err != nil {
		metrics.RecordRegistration("error")
		h.writeAttendanceError(c, err)
		return
	}

	metrics.RecordRegistration("ok")
	c.JSON(http.StatusCreated, gin.H{
		"success":    true,
		"attendance": rec,
	})
}

func (h *Handler) writeAttendanceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, attendance.ErrValidation):
		writeError(c, http.StatusBadRequest, userMessage(err, "validation failed"))
	case errors.Is(err, attendance.ErrInvalidSession):
		writeError(c, http.StatusBadRequest, "Invalid session code")
	case errors.Is(err, attendance.ErrAuthenticationFailed):
		writeError(c, http.StatusUnauthorized, "Invalid signature")
	case errors.Is(err, storage.ErrNotWhitelisted):
		writeError(c, http.StatusForbidden, "Address not whitelisted")
	case errors.Is(err, storage.ErrAlreadyRegistered):
		writeError(c, http.StatusConflict, "Already registered for this session")
	default:
		h.log.WithError(err).Error("register attendance failed")
		writeError(c, http.StatusInternalServerError, "internal server error")
	}
}

type claimRequest struct {
	Address string `json:"address"`
	Amount  string `json:"amount"`
}

func (h *Handler) claimTokens(c *gin.Context) {
	var req claimRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid request body")
		return
	}

	start := time.Now()
	claim, err := h.rewards.Claim(c.Request.Context(), req.Address, req.Amount)
	if err != nil {
		metrics.RecordClaim("error", time.Since(start))
		switch {
		case errors.Is(err, rewards.ErrValidation):
			writeError(c, http.StatusBadRequest, userMessage(err, "validation failed"))
		case errors.Is(err, rewards.ErrAlreadyClaimed):
			writeError(c, http.StatusConflict, "Reward already claimed")
		case errors.Is(err, rewards.ErrClaimInFlight):
			writeError(c, http.StatusConflict, "A claim for this address is still being processed")
		case errors.Is(err, rewards.ErrIssuance):
			writeError(c, http.StatusBadGateway, "Token transfer failed")
		default:
			h.log.WithError(err).Error("claim tokens failed")
			writeError(c, http.StatusInternalServerError, "internal server error")
		}
		return
	}

	metrics.RecordClaim("ok", time.Since(start))
	c.JSON(http.StatusOK, gin.H{
		"success":         true,
		"transactionHash": claim.TxHash,
		"amount":          claim.Amount,
	})
}

func (h *Handler) attendanceHistory(c *gin.Context) {
	address := c.Param("address")
	records, err := h.attendance.History(c.Request.Context(), address)
	if err != nil {
		if errors.Is(err, attendance.ErrValidation) {
			writeError(c, http.StatusBadRequest, userMessage(err, "validation failed"))
			return
		}
		h.log.WithError(err).Error("attendance history failed")
		writeError(c, http.StatusInternalServerError, "internal server error")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    records,
	})
}

func (h *Handler) tokenBalance(c *gin.Context) {
	address := c.Param("address")
	balance, err := h.rewards.TokenBalance(c.Request.Context(), address)
	if err != nil {
		if errors.Is(err, rewards.ErrValidation) {
			writeError(c, http.StatusBadRequest, userMessage(err, "validation failed"))
			return
		}
		h.log.WithError(err).Error("token balance failed")
		writeError(c, http.StatusBadGateway, "Balance lookup failed")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"balance": balance,
	})
}

type whitelistAddRequest struct {
	Address string `json:"address"`
}

func (h *Handler) whitelistAdd(c *gin.Context) {
	var req whitelistAddRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid request body")
		return
	}

	entry, err := h.whitelist.Add(c.Request.Context(), req.Address)
	if err != nil {
		if errors.Is(err, whitelist.ErrValidation) {
			writeError(c, http.StatusBadRequest, userMessage(err, "validation failed"))
			return
		}
		h.log.WithError(err).Error("whitelist add failed")
		writeError(c, http.StatusInternalServerError, "internal server error")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"entry":   entry,
	})
}

func (h *Handler) listSessions(c *gin.Context) {
	list, err := h.sessions.List(c.Request.Context())
	if err != nil {
		h.log.WithError(err).Error("list sessions failed")
		writeError(c, http.StatusInternalServerError, "internal server error")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    list,
	})
}

type sessionRequest struct {
	Code   string `json:"code"`
	Name   string `json:"name"`
	Active bool   `json:"active"`
}

func (h *Handler) upsertSession(c *gin.Context) {
	var req sessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid request body")
		return
	}

	sess, err := h.sessions.Upsert(c.Request.Context(), req.Code, req.Name, req.Active)
	if err != nil {
		writeError(c, http.StatusBadRequest, userMessage(err, "validation failed"))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"session": sess,
	})
}

func (h *Handler) healthz(c *gin.Context) {
	status := http.StatusOK
	checks := make(map[string]string, len(h.opts.Checks))
	for name, check := range h.opts.Checks {
		if check == nil {
			continue
		}
		if check() {
			checks[name] = "ok"
		} else {
			checks[name] = "unavailable"
			status = http.StatusServiceUnavailable
		}
	}

	c.JSON(status, gin.H{
		"status": map[int]string{http.StatusOK: "ok", http.StatusServiceUnavailable: "degraded"}[status],
		"checks": checks,
	})
}

func writeError(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, gin.H{
		"success": false,
		"error":   message,
	})
}

// userMessage exposes the detail attached to a validation error while keeping
// a fallback for bare sentinels.
func userMessage(err error, fallback string) string {
	if msg := strings.TrimSpace(err.Error()); msg != "" {
		return msg
	}
	return fallback
}
