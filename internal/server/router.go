package server

import (
	"context"
	"errors"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/qrnotes/backend/internal/mail"
	"github.com/MarcoPoloResearchLab/qrnotes/backend/internal/qr"
	"github.com/MarcoPoloResearchLab/qrnotes/backend/internal/ratelimit"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

var (
	errMissingStore       = errors.New("cached store dependency required")
	errMissingService     = errors.New("claim service dependency required")
	errMissingAuthorizer  = errors.New("authorizer dependency required")
	errMissingTokens      = errors.New("token service dependency required")
	errMissingLimiters    = errors.New("scan and edit limiter dependencies required")
	errMissingMailSender  = errors.New("mail sender dependency required")
	errMissingAppBaseURL  = errors.New("app base url required")
	errMissingFrontendURL = errors.New("frontend base url required")
)

// TokenService is the narrow token contract the boundary requires.
type TokenService interface {
	IssueClaimToken(email, slug string) (string, error)
	VerifyClaimToken(token string) (email, slug string, err error)
	IssueSessionToken(userID string) (string, int64, error)
	SessionFromRequest(r *http.Request) (string, error)
	SessionCookie(token string, maxAgeSeconds int64) *http.Cookie
}

// AdmissionController decides whether a keyed request is admitted.
type AdmissionController interface {
	Allow(ctx context.Context, key string) bool
}

// Dependencies bundles everything the HTTP handler needs.
type Dependencies struct {
	Store           *qr.CachedStore
	Service         *qr.Service
	Authorizer      *qr.Authorizer
	Tokens          TokenService
	ScanLimiter     AdmissionController
	EditLimiter     AdmissionController
	Mail            mail.Sender
	AppBaseURL      string
	FrontendBaseURL string
	Logger          *zap.Logger
}

// NewHTTPHandler builds the gin router serving the public API.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Store == nil {
		return nil, errMissingStore
	}
	if deps.Service == nil {
		return nil, errMissingService
	}
	if deps.Authorizer == nil {
		return nil, errMissingAuthorizer
	}
	if deps.Tokens == nil {
		return nil, errMissingTokens
	}
	if deps.ScanLimiter == nil || deps.EditLimiter == nil {
		return nil, errMissingLimiters
	}
	if deps.Mail == nil {
		return nil, errMissingMailSender
	}
	if deps.AppBaseURL == "" {
		return nil, errMissingAppBaseURL
	}
	if deps.FrontendBaseURL == "" {
		return nil, errMissingFrontendURL
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		store:           deps.Store,
		service:         deps.Service,
		authorizer:      deps.Authorizer,
		tokens:          deps.Tokens,
		scanLimiter:     deps.ScanLimiter,
		editLimiter:     deps.EditLimiter,
		mail:            deps.Mail,
		appBaseURL:      strings.TrimRight(deps.AppBaseURL, "/"),
		frontendBaseURL: strings.TrimRight(deps.FrontendBaseURL, "/"),
		logger:          logger,
	}

	router.GET("/s/:slug", handler.handleResolve)
	router.POST("/qr/:slug/edit", handler.handleEdit)
	router.POST("/claim/request", handler.handleClaimRequest)
	router.GET("/claim/verify", handler.handleClaimVerify)
	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
	})

	return router, nil
}

type httpHandler struct {
	store           *qr.CachedStore
	service         *qr.Service
	authorizer      *qr.Authorizer
	tokens          TokenService
	scanLimiter     AdmissionController
	editLimiter     AdmissionController
	mail            mail.Sender
	appBaseURL      string
	frontendBaseURL string
	logger          *zap.Logger
}

type resolveResponsePayload struct {
	Slug             string    `json:"slug"`
	Status           qr.Status `json:"status"`
	Title            *string   `json:"title"`
	Body             *string   `json:"body"`
	EditableByPublic bool      `json:"editableByPublic"`
}

func (h *httpHandler) handleResolve(c *gin.Context) {
	slug, err := qr.NewSlug(c.Param("slug"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return
	}

	clientIP := c.ClientIP()
	if !h.scanLimiter.Allow(c.Request.Context(), ratelimit.ScanKey(clientIP)) {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "rate_limited"})
		return
	}

	projection, err := h.store.Read(c.Request.Context(), slug)
	if errors.Is(err, qr.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return
	}
	if err != nil {
		h.logger.Error("resolve read failed", zap.String("slug", slug.String()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "resolve_failed"})
		return
	}

	h.service.RecordScan(c.Request.Context(), projection.ID, clientIP)

	if strings.Contains(c.GetHeader("Accept"), "text/html") {
		c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(h.renderResolveHTML(projection)))
		return
	}

	c.JSON(http.StatusOK, resolveResponsePayload{
		Slug:             projection.Slug,
		Status:           projection.Status,
		Title:            projection.Title,
		Body:             projection.Body,
		EditableByPublic: projection.EditableByPublic,
	})
}

type claimRequestPayload struct {
	Email string `json:"email"`
	Slug  string `json:"slug"`
}

func (h *httpHandler) handleClaimRequest(c *gin.Context) {
	var request claimRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	email := strings.TrimSpace(request.Email)
	if email == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	slug, err := qr.NewSlug(request.Slug)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	if err := h.service.BeginClaim(c.Request.Context(), slug); err != nil {
		if errors.Is(err, qr.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
			return
		}
		h.logger.Error("claim request failed", zap.String("slug", slug.String()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "claim_request_failed"})
		return
	}

	token, err := h.tokens.IssueClaimToken(email, slug.String())
	if err != nil {
		h.logger.Error("claim token issue failed", zap.String("slug", slug.String()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "claim_request_failed"})
		return
	}

	link := h.appBaseURL + "/claim/verify?token=" + url.QueryEscape(token)
	// The pending transition is already durable; mail is fire-and-forget.
	if err := h.mail.Send(c.Request.Context(), email, link); err != nil {
		h.logger.Warn("magic link delivery failed", zap.String("slug", slug.String()), zap.Error(err))
	}

	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *httpHandler) handleClaimVerify(c *gin.Context) {
	email, rawSlug, err := h.tokens.VerifyClaimToken(c.Query("token"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_token"})
		return
	}
	slug, err := qr.NewSlug(rawSlug)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_token"})
		return
	}

	userID, err := h.service.FinalizeClaim(c.Request.Context(), email, slug)
	if errors.Is(err, qr.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return
	}
	if err != nil {
		h.logger.Error("claim finalization failed", zap.String("slug", slug.String()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "claim_verify_failed"})
		return
	}

	session, maxAge, err := h.tokens.IssueSessionToken(userID)
	if err != nil {
		h.logger.Error("session issue failed", zap.String("user_id", userID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "claim_verify_failed"})
		return
	}

	http.SetCookie(c.Writer, h.tokens.SessionCookie(session, maxAge))
	c.Redirect(http.StatusFound, h.frontendBaseURL+"/edit.html?slug="+url.QueryEscape(slug.String()))
}

type editRequestPayload struct {
	Title      *string `json:"title"`
	Note       *string `json:"note"`
	PIN        string  `json:"pin"`
	PINSet     *string `json:"pin_set"`
	PublicEdit *bool   `json:"public_edit"`
}

func (h *httpHandler) handleEdit(c *gin.Context) {
	slug, err := qr.NewSlug(c.Param("slug"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return
	}

	clientIP := c.ClientIP()
	if !h.editLimiter.Allow(c.Request.Context(), ratelimit.EditKey(clientIP, slug.String())) {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "rate_limited"})
		return
	}

	var request editRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if request.PIN != "" && !qr.ValidPINFormat(request.PIN) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_pin"})
		return
	}
	if request.PINSet != nil && *request.PINSet != "" && !qr.ValidPINFormat(*request.PINSet) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_pin"})
		return
	}

	// An absent or invalid session simply leaves the session arm unmet;
	// the PIN and public-edit arms may still authorize the edit.
	userID, err := h.tokens.SessionFromRequest(c.Request)
	if err != nil {
		userID = ""
	}

	if err := h.authorizer.Authorize(c.Request.Context(), slug, userID, request.PIN); err != nil {
		if errors.Is(err, qr.ErrUnauthorized) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		h.logger.Error("authorization failed", zap.String("slug", slug.String()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "edit_failed"})
		return
	}

	// Changing the PIN or the public flag is reserved for the owner,
	// not for PIN holders or public editors.
	if request.PINSet != nil || request.PublicEdit != nil {
		owner, err := h.authorizer.Owner(c.Request.Context(), slug, userID)
		if err != nil {
			h.logger.Error("ownership check failed", zap.String("slug", slug.String()), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "edit_failed"})
			return
		}
		if !owner {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
	}

	if err := h.service.UpdateNote(c.Request.Context(), slug, request.Title, request.Note); err != nil {
		if errors.Is(err, qr.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
			return
		}
		h.logger.Error("note update failed", zap.String("slug", slug.String()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "edit_failed"})
		return
	}

	if request.PINSet != nil {
		var pin *string
		if *request.PINSet != "" {
			pin = request.PINSet
		}
		if err := h.service.SetPIN(c.Request.Context(), slug, pin); err != nil {
			h.logger.Error("pin update failed", zap.String("slug", slug.String()), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "edit_failed"})
			return
		}
	}
	if request.PublicEdit != nil {
		if err := h.service.SetPublicEdit(c.Request.Context(), slug, *request.PublicEdit); err != nil {
			h.logger.Error("public edit update failed", zap.String("slug", slug.String()), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "edit_failed"})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// renderResolveHTML is the minimal fallback for browsers scanning a code
// directly, mirroring the JSON projection: title, body, and a claim link
// while the code is not yet active.
func (h *httpHandler) renderResolveHTML(projection qr.Projection) string {
	title := "QR"
	if projection.Title != nil && *projection.Title != "" {
		title = *projection.Title
	}
	body := ""
	if projection.Body != nil {
		body = *projection.Body
	}

	claimLink := ""
	if projection.Status != qr.StatusActive {
		claimURL := h.frontendBaseURL + "/claim.html?slug=" + url.QueryEscape(projection.Slug)
		claimLink = fmt.Sprintf(`<a href="%s">Claim this code</a>`, html.EscapeString(claimURL))
	}

	return fmt.Sprintf(
		`<!doctype html><meta charset="utf-8"><h1>%s</h1><p>%s</p>%s`,
		html.EscapeString(title),
		html.EscapeString(body),
		claimLink,
	)
}
