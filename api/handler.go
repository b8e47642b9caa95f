// Package api exposes the analysis pipeline over HTTP.
package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/chrisbze/molaison-ai-backend/analyzer"
	"github.com/chrisbze/molaison-ai-backend/customer"
	"github.com/chrisbze/molaison-ai-backend/errs"
	"github.com/chrisbze/molaison-ai-backend/geo"
	"github.com/chrisbze/molaison-ai-backend/keywords"
	"github.com/chrisbze/molaison-ai-backend/links"
	"github.com/chrisbze/molaison-ai-backend/logging"
	"github.com/chrisbze/molaison-ai-backend/middleware"
	"github.com/chrisbze/molaison-ai-backend/serp"
	"github.com/chrisbze/molaison-ai-backend/stats"
	"github.com/chrisbze/molaison-ai-backend/technical"
)

const (
	maxRequestBody         = 1 << 20
	defaultAnalysisTimeout = 60 * time.Second

	// CallerHeader names the caller whose entitlement gates an analysis.
	CallerHeader  = "X-Caller-ID"
	WebhookHeader = "X-Webhook-Secret"
)

// Pipeline is the analysis surface served by the handlers
// *analyzer.Analyzer satisfies it.
type Pipeline interface {
	Analyze(ctx context.Context, req analyzer.Request) (*analyzer.Report, error)
	AuditLinks(ctx context.Context, req analyzer.Request) (links.Report, error)
	ExtractKeywords(ctx context.Context, req analyzer.Request) (keywords.Result, error)
	TechnicalAudit(ctx context.Context, req analyzer.Request) (technical.Report, error)
	GEOAudit(ctx context.Context, req analyzer.Request) (geo.Report, error)
	SimulateSERP(req analyzer.Request) (serp.Report, error)
}

// Customers provisions accounts and reports entitlement windows.
type Customers interface {
	Provision(email, name string) (customer.Credentials, error)
	Get(id string) (customer.Customer, error)
	Authenticate(email, password string) (customer.Customer, error)
}

// Counters exposes the monthly pipeline counters
type Counters interface {
	GetCurrentStats() stats.MonthlyStats
	GetAllMonths() []string
}

// Deps wires a Handler. Customers and Counters may be nil.
type Deps struct {
	Pipeline        Pipeline
	Customers       Customers
	Requests        *logging.Statistics
	Counters        Counters
	WebhookSecret   string
	AnalysisTimeout time.Duration
	Logger          zerolog.Logger
}

// Handler serves the /api routes
type Handler struct {
	deps   Deps
	logger zerolog.Logger
	now    func() time.Time
}

// NewHandler returns a Handler
func NewHandler(deps Deps) *Handler {
	if deps.AnalysisTimeout <= 0 {
		deps.AnalysisTimeout = defaultAnalysisTimeout
	}
	if deps.Requests == nil {
		deps.Requests = logging.NewStatistics(false)
	}
	return &Handler{
		deps:   deps,
		logger: deps.Logger.With().Str("component", "api").Logger(),
		now:    time.Now,
	}
}

// RegisterRoutes attaches the handlers under /api
func (h *Handler) RegisterRoutes(r gin.IRouter) {
	api := r.Group("/api")
	{
		api.GET("/health", h.health)

		api.POST("/analyze", h.analyze)
		api.POST("/analyze/links", h.auditLinks)
		api.POST("/analyze/keywords", h.extractKeywords)
		api.POST("/analyze/technical", h.technicalAudit)
		api.POST("/analyze/geo", h.geoAudit)
		api.POST("/serp", h.simulateSERP)

		api.POST("/webhooks/signup", h.signup)
		api.POST("/customers/login", h.login)
		api.GET("/customers/:id/entitlement", h.entitlement)

		api.GET("/statistics", h.statistics)
	}
}

type analyzeRequest struct {
	URL      string `json:"url" binding:"required"`
	Keyword  string `json:"keyword" binding:"max=100"`
	Topic    string `json:"topic"`
	Location string `json:"location"`
	CallerID string `json:"callerId"`
}

func (h *Handler) bindAnalyze(c *gin.Context) (analyzer.Request, bool) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxRequestBody)

	var body analyzeRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": `Invalid request body. Please send a JSON object with a "url" field.`,
		})
		return analyzer.Request{}, false
	}
	req := analyzer.Request{
		URL:      body.URL,
		Keyword:  body.Keyword,
		Topic:    body.Topic,
		Location: body.Location,
		CallerID: body.CallerID,
	}
	if id := c.GetHeader(CallerHeader); id != "" {
		req.CallerID = id
	}
	return req, true
}

func (h *Handler) analysisContext(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), h.deps.AnalysisTimeout)
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) analyze(c *gin.Context) {
	req, ok := h.bindAnalyze(c)
	if !ok {
		return
	}
	ctx, cancel := h.analysisContext(c)
	defer cancel()

	report, err := h.deps.Pipeline.Analyze(ctx, req)
	if err != nil {
		middleware.MarkAnalysis(c, req.URL, true)
		h.renderError(c, err)
		return
	}
	middleware.MarkAnalysis(c, req.URL, report.Error != "")
	c.JSON(http.StatusOK, report)
}

func (h *Handler) auditLinks(c *gin.Context) {
	req, ok := h.bindAnalyze(c)
	if !ok {
		return
	}
	ctx, cancel := h.analysisContext(c)
	defer cancel()

	report, err := h.deps.Pipeline.AuditLinks(ctx, req)
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *Handler) extractKeywords(c *gin.Context) {
	req, ok := h.bindAnalyze(c)
	if !ok {
		return
	}
	ctx, cancel := h.analysisContext(c)
	defer cancel()

	result, err := h.deps.Pipeline.ExtractKeywords(ctx, req)
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) technicalAudit(c *gin.Context) {
	req, ok := h.bindAnalyze(c)
	if !ok {
		return
	}
	ctx, cancel := h.analysisContext(c)
	defer cancel()

	report, err := h.deps.Pipeline.TechnicalAudit(ctx, req)
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *Handler) geoAudit(c *gin.Context) {
	req, ok := h.bindAnalyze(c)
	if !ok {
		return
	}
	ctx, cancel := h.analysisContext(c)
	defer cancel()

	report, err := h.deps.Pipeline.GEOAudit(ctx, req)
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *Handler) simulateSERP(c *gin.Context) {
	var body struct {
		Keyword  string `json:"keyword" binding:"required"`
		Location string `json:"location"`
		CallerID string `json:"callerId"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": `Invalid request body. Please send a JSON object with a "keyword" field.`})
		return
	}
	req := analyzer.Request{Keyword: body.Keyword, Location: body.Location, CallerID: body.CallerID}
	if id := c.GetHeader(CallerHeader); id != "" {
		req.CallerID = id
	}

	report, err := h.deps.Pipeline.SimulateSERP(req)
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *Handler) signup(c *gin.Context) {
	if h.deps.Customers == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Signups are not enabled"})
		return
	}
	if secret := h.deps.WebhookSecret; secret != "" {
		got := c.GetHeader(WebhookHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid webhook secret"})
			return
		}
	}

	var body struct {
		Email string `json:"email" binding:"required"`
		Name  string `json:"name"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": `Invalid request body. Please send a JSON object with an "email" field.`})
		return
	}

	creds, err := h.deps.Customers.Provision(body.Email, body.Name)
	switch {
	case errors.Is(err, customer.ErrInvalidEmail):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case errors.Is(err, customer.ErrDuplicate):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	case errors.Is(err, customer.ErrCapacity):
		h.logger.Warn().Msg("signup refused, customer limit reached")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	case err != nil:
		h.renderError(c, errs.InternalError(err))
		return
	}

	h.logger.Info().Str("customer_id", creds.Customer.ID).Msg("customer provisioned")
	c.JSON(http.StatusCreated, creds)
}

// login checks provisioned credentials and returns the caller id to send
// with analysis requests
func (h *Handler) login(c *gin.Context) {
	if h.deps.Customers == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Signups are not enabled"})
		return
	}
	var body struct {
		Email    string `json:"email" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": `Invalid request body. Please send a JSON object with "email" and "password" fields.`})
		return
	}

	cust, err := h.deps.Customers.Authenticate(body.Email, body.Password)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": customer.ErrBadCredential.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"customer": cust,
		"entitled": cust.Entitled(h.now()),
	})
}

func (h *Handler) entitlement(c *gin.Context) {
	if h.deps.Customers == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "customer not found"})
		return
	}
	cust, err := h.deps.Customers.Get(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "customer not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"entitled":  cust.Entitled(h.now()),
		"expiresAt": cust.ExpiresAt,
	})
}

func (h *Handler) statistics(c *gin.Context) {
	out := gin.H{"requests": h.deps.Requests.Snapshot()}
	if h.deps.Counters != nil {
		out["pipeline"] = h.deps.Counters.GetCurrentStats()
		out["months"] = h.deps.Counters.GetAllMonths()
	}
	c.JSON(http.StatusOK, out)
}

// renderError maps a pipeline error to a status code. Internal errors keep
// their cause out of the response.
func (h *Handler) renderError(c *gin.Context, err error) {
	status := StatusFor(err)
	message := "An unexpected error occurred"
	var e *errs.Error
	if errors.As(err, &e) && status != http.StatusInternalServerError {
		message = e.Message
	}
	if status == http.StatusInternalServerError {
		h.logger.Error().Err(err).Str("path", c.Request.URL.Path).Str("request_id", middleware.RequestIDFrom(c)).Msg("request failed")
	}
	c.JSON(status, gin.H{"error": message, "kind": errs.KindOf(err).String()})
}

// StatusFor returns the HTTP status for an error kind
func StatusFor(err error) int {
	switch errs.KindOf(err) {
	case errs.Input:
		return http.StatusBadRequest
	case errs.Unauthorized:
		return http.StatusForbidden
	case errs.Fetch:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
