package api

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/bcastro/ca-radar/internal/auth"
	"github.com/bcastro/ca-radar/internal/db"
	"github.com/bcastro/ca-radar/internal/etl"
	"github.com/bcastro/ca-radar/internal/models"
	"github.com/bcastro/ca-radar/internal/scrape"
)

type Server struct {
	Store       *db.Store
	AuthService *auth.Service
	Echo        *echo.Echo
	DB          *pgxpool.Pool
	Pipeline    *etl.Orchestrator

	// RetentionDays is the cleanup default when the request names none.
	RetentionDays int

	// Background job tracking
	jobMu      sync.Mutex
	runningJob *backgroundJob
}

type backgroundJob struct {
	ID        string             `json:"id"`
	Kind      string             `json:"kind"`
	Status    string             `json:"status"` // running, completed, failed
	StartedAt time.Time          `json:"started_at"`
	EndedAt   time.Time          `json:"ended_at,omitempty"`
	Progress  etl.Progress       `json:"progress"`
	Error     string             `json:"error,omitempty"`
	Cancel    context.CancelFunc `json:"-"`
}

var (
	adminSecretOnce    sync.Once
	adminSecretRuntime string
	adminSecretErr     error
)

func NewServer(pool *pgxpool.Pool, pipeline *etl.Orchestrator, retentionDays int) *Server {
	e := echo.New()
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	// CORS: allow frontend origins from env or default to localhost
	allowedOrigins := []string{"http://localhost:4200"}
	if extra := os.Getenv("CORS_ORIGINS"); extra != "" {
		for _, o := range strings.Split(extra, ",") {
			o = strings.TrimSpace(o)
			if o != "" {
				allowedOrigins = append(allowedOrigins, o)
			}
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: allowedOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, "X-Admin-Secret"},
	}))

	s := &Server{
		DB:            pool,
		Store:         db.NewStore(pool),
		AuthService:   auth.NewService(pool),
		Echo:          e,
		Pipeline:      pipeline,
		RetentionDays: retentionDays,
	}

	s.routes()
	return s
}

func (s *Server) routes() {
	s.Echo.GET("/health", s.handleHealth)
	api := s.Echo.Group("/api/v1")
	api.GET("/tenders", s.handleListTenders)
	api.GET("/tenders/:id", s.handleGetTender)
	api.GET("/stats", s.handleGetStats)
	api.GET("/organizations", s.handleListOrganizations)
	api.GET("/rules/keywords", s.handleListKeywords)
	api.GET("/rules/organizations", s.handleListOrgRules)

	// Auth Routes
	api.POST("/auth/signup", s.handleSignup)
	api.POST("/auth/login", s.handleLogin)

	// Protected Routes (tracking)
	tracked := api.Group("/tenders")
	tracked.Use(auth.Middleware)
	tracked.PATCH("/:id/favorite", s.handleSetFavorite)
	tracked.PATCH("/:id/bid", s.handleSetBid)
	tracked.PATCH("/:id/note", s.handleUpdateNote)
	tracked.PATCH("/:id/hide", s.handleHideTender)
	tracked.DELETE("/:id", s.handleDeleteTender)

	// Admin Routes (rules & pipeline)
	admin := api.Group("")
	admin.Use(s.adminMiddleware)
	admin.POST("/rules/keywords", s.handleAddKeyword)
	admin.DELETE("/rules/keywords/:id", s.handleDeleteKeyword)
	admin.PUT("/rules/organizations/:id", s.handleSetOrgRule)
	admin.DELETE("/rules/organizations/:id", s.handleDeleteOrgRule)
	admin.POST("/admin/crawl", s.handleTriggerCrawl)
	admin.POST("/admin/recompute", s.handleTriggerRecompute)
	admin.POST("/admin/refresh", s.handleTriggerRefresh)
	admin.POST("/admin/cleanup", s.handleCleanup)
	admin.GET("/admin/job/:id", s.handleJobStatus)
	admin.GET("/admin/portal-health", s.handlePortalHealth)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.String(http.StatusOK, "OK")
}

func (s *Server) handleListTenders(c echo.Context) error {
	params := db.ListParams{
		OnlyFavorites: c.QueryParam("favorites") == "true",
		OnlyBid:       c.QueryParam("bid") == "true",
		IncludeHidden: c.QueryParam("include_hidden") == "true",
		SortBy:        c.QueryParam("sort"),
	}
	if v, err := strconv.Atoi(c.QueryParam("min_score")); err == nil {
		params.MinScore = &v
	}
	if v, err := strconv.Atoi(c.QueryParam("limit")); err == nil && v > 0 {
		params.Limit = v
	}
	if v, err := strconv.Atoi(c.QueryParam("offset")); err == nil && v >= 0 {
		params.Offset = v
	}
	if t, err := time.Parse("2006-01-02", c.QueryParam("closes_after")); err == nil {
		params.ClosesAfter = &t
	}
	if t, err := time.Parse("2006-01-02", c.QueryParam("closes_before")); err == nil {
		params.ClosesBefore = &t
	}

	result, err := s.Store.ListTenders(c.Request().Context(), params)
	if err != nil {
		c.Logger().Errorf("Failed to list tenders: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal Server Error"})
	}
	return c.JSON(http.StatusOK, result)
}

func (s *Server) handleGetTender(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid tender ID"})
	}
	tender, err := s.Store.GetTender(c.Request().Context(), id)
	if err != nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "Not found"})
	}
	return c.JSON(http.StatusOK, tender)
}

func (s *Server) handleGetStats(c echo.Context) error {
	stats, err := s.Store.Stats(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, stats)
}

func (s *Server) handleListOrganizations(c echo.Context) error {
	orgs, err := s.Store.AllOrganizations(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	if orgs == nil {
		orgs = []models.Organization{}
	}
	return c.JSON(http.StatusOK, orgs)
}

// Auth handlers

func (s *Server) handleSignup(c echo.Context) error {
	var req auth.SignupRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request"})
	}

	resp, err := s.AuthService.Signup(c.Request().Context(), req)
	if err != nil {
		if err == auth.ErrUserExists {
			return c.JSON(http.StatusConflict, map[string]string{"error": err.Error()})
		}
		if err == auth.ErrInvalidCreds {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "Email and a password of at least 8 characters are required"})
		}
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusCreated, resp)
}

func (s *Server) handleLogin(c echo.Context) error {
	var req auth.LoginRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request"})
	}

	resp, err := s.AuthService.Login(c.Request().Context(), req)
	if err != nil {
		if err == auth.ErrInvalidCreds {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Invalid credentials"})
		}
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, resp)
}

// Tracking handlers

type trackingRequest struct {
	Value bool   `json:"value"`
	Note  string `json:"note"`
}

func (s *Server) handleSetFavorite(c echo.Context) error {
	return s.handleTrackingFlag(c, s.Store.SetFavorite)
}

func (s *Server) handleSetBid(c echo.Context) error {
	return s.handleTrackingFlag(c, s.Store.SetBid)
}

func (s *Server) handleTrackingFlag(c echo.Context, set func(context.Context, uuid.UUID, bool) error) error {
	if _, err := auth.GetUserIDFromContext(c); err != nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid tender ID"})
	}
	var req trackingRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request"})
	}
	if err := set(c.Request().Context(), id, req.Value); err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to update tracking"})
	}
	return c.NoContent(http.StatusOK)
}

func (s *Server) handleUpdateNote(c echo.Context) error {
	if _, err := auth.GetUserIDFromContext(c); err != nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid tender ID"})
	}
	var req trackingRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request"})
	}
	if err := s.Store.UpdateNote(c.Request().Context(), id, req.Note); err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to update note"})
	}
	return c.NoContent(http.StatusOK)
}

func (s *Server) handleHideTender(c echo.Context) error {
	if _, err := auth.GetUserIDFromContext(c); err != nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid tender ID"})
	}
	if err := s.Store.HideTender(c.Request().Context(), id); err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to hide tender"})
	}
	return c.NoContent(http.StatusOK)
}

func (s *Server) handleDeleteTender(c echo.Context) error {
	if _, err := auth.GetUserIDFromContext(c); err != nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid tender ID"})
	}
	if err := s.Store.DeleteTender(c.Request().Context(), id); err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to delete tender"})
	}
	return c.NoContent(http.StatusOK)
}

// Rule handlers

func (s *Server) handleListKeywords(c echo.Context) error {
	rules, err := s.Store.AllKeywordRules(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	if rules == nil {
		rules = []models.KeywordRule{}
	}
	return c.JSON(http.StatusOK, rules)
}

type keywordRequest struct {
	Text          string `json:"text"`
	NamePoints    int    `json:"name_points"`
	DescPoints    int    `json:"desc_points"`
	ProductPoints int    `json:"product_points"`
}

func (s *Server) handleAddKeyword(c echo.Context) error {
	var req keywordRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request"})
	}
	rule, err := s.Store.AddKeyword(c.Request().Context(), req.Text, req.NamePoints, req.DescPoints, req.ProductPoints)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
	s.Pipeline.Rules.Reload(c.Request().Context())
	return c.JSON(http.StatusCreated, rule)
}

func (s *Server) handleDeleteKeyword(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid rule ID"})
	}
	if err := s.Store.DeleteKeyword(c.Request().Context(), id); err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	s.Pipeline.Rules.Reload(c.Request().Context())
	return c.NoContent(http.StatusOK)
}

func (s *Server) handleListOrgRules(c echo.Context) error {
	rules, err := s.Store.AllOrganizationRules(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	if rules == nil {
		rules = []models.OrganizationRule{}
	}
	return c.JSON(http.StatusOK, rules)
}

type orgRuleRequest struct {
	Kind   string `json:"kind"`
	Points int    `json:"points"`
}

func (s *Server) handleSetOrgRule(c echo.Context) error {
	orgID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid organization ID"})
	}
	var req orgRuleRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request"})
	}
	kind := models.OrgRuleKind(req.Kind)
	if kind != models.OrgRulePriority && kind != models.OrgRuleExcluded {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "kind must be 'priority' or 'excluded'"})
	}
	if err := s.Store.SetOrganizationRule(c.Request().Context(), orgID, kind, req.Points); err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	s.Pipeline.Rules.Reload(c.Request().Context())
	return c.NoContent(http.StatusOK)
}

func (s *Server) handleDeleteOrgRule(c echo.Context) error {
	orgID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid organization ID"})
	}
	if err := s.Store.DeleteOrganizationRule(c.Request().Context(), orgID); err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	s.Pipeline.Rules.Reload(c.Request().Context())
	return c.NoContent(http.StatusOK)
}

// Pipeline handlers

func (s *Server) handleTriggerCrawl(c echo.Context) error {
	filters := scrape.ListingFilters{
		DateFrom: c.QueryParam("date_from"),
		DateTo:   c.QueryParam("date_to"),
		Region:   c.QueryParam("region"),
	}
	maxPages := 0
	if v, err := strconv.Atoi(c.QueryParam("max_pages")); err == nil && v > 0 {
		maxPages = v
	}

	return s.startJob(c, "crawl", func(ctx context.Context, progress etl.ProgressFunc) error {
		return s.Pipeline.RunFullCrawl(ctx, filters, maxPages, progress)
	})
}

func (s *Server) handleTriggerRecompute(c echo.Context) error {
	return s.startJob(c, "recompute", func(ctx context.Context, progress etl.ProgressFunc) error {
		return s.Pipeline.RecomputeAll(ctx, progress)
	})
}

func (s *Server) handleTriggerRefresh(c echo.Context) error {
	scopes := splitCSV(c.QueryParam("scopes"))
	if len(scopes) == 0 {
		scopes = []string{etl.ScopeAll}
	}
	return s.startJob(c, "refresh", func(ctx context.Context, progress etl.ProgressFunc) error {
		return s.Pipeline.RefreshDetails(ctx, scopes, progress)
	})
}

func (s *Server) handleCleanup(c echo.Context) error {
	days := s.RetentionDays
	if v, err := strconv.Atoi(c.QueryParam("days")); err == nil && v > 0 {
		days = v
	}
	deleted, err := s.Store.CleanupOld(c.Request().Context(), days)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"deleted": deleted, "days": days})
}

func (s *Server) handlePortalHealth(c echo.Context) error {
	if err := s.Pipeline.RunHealthCheck(); err != nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]string{"portal": "reachable"})
}

// startJob runs one pipeline operation in the background. A single job may
// run at a time; the client polls /admin/job/:id for progress.
func (s *Server) startJob(c echo.Context, kind string, run func(context.Context, etl.ProgressFunc) error) error {
	s.jobMu.Lock()
	if s.runningJob != nil && s.runningJob.Status == "running" {
		job := s.runningJob
		s.jobMu.Unlock()
		return c.JSON(http.StatusConflict, map[string]interface{}{
			"error":  "A pipeline job is already running",
			"job_id": job.ID,
		})
	}

	// context.WithoutCancel detaches from HTTP lifecycle but preserves
	// trace values. We add our own timeout for safety.
	jobCtx, jobCancel := context.WithTimeout(
		context.WithoutCancel(c.Request().Context()), 60*time.Minute,
	)

	jobID := uuid.New().String()[:8]
	job := &backgroundJob{
		ID:        jobID,
		Kind:      kind,
		Status:    "running",
		StartedAt: time.Now(),
		Cancel:    jobCancel,
	}
	s.runningJob = job
	s.jobMu.Unlock()

	go func() {
		defer jobCancel()

		err := run(jobCtx, func(p etl.Progress) {
			s.jobMu.Lock()
			job.Progress = p
			s.jobMu.Unlock()
		})

		s.jobMu.Lock()
		defer s.jobMu.Unlock()
		job.EndedAt = time.Now()
		if err != nil {
			job.Status = "failed"
			job.Error = err.Error()
			log.Printf("[%s-job %s] failed: %v", kind, jobID, err)
			return
		}
		job.Status = "completed"
		log.Printf("[%s-job %s] completed in %s", kind, jobID, job.EndedAt.Sub(job.StartedAt))
	}()

	return c.JSON(http.StatusAccepted, map[string]interface{}{
		"message": fmt.Sprintf("%s job started", kind),
		"job_id":  jobID,
		"poll":    fmt.Sprintf("/api/v1/admin/job/%s", jobID),
	})
}

func (s *Server) handleJobStatus(c echo.Context) error {
	queried := c.Param("id")
	s.jobMu.Lock()
	defer s.jobMu.Unlock()

	job := s.runningJob
	if job == nil || job.ID != queried {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "job not found"})
	}

	resp := map[string]interface{}{
		"id":         job.ID,
		"kind":       job.Kind,
		"status":     job.Status,
		"started_at": job.StartedAt,
		"progress":   job.Progress,
	}
	if !job.EndedAt.IsZero() {
		resp["ended_at"] = job.EndedAt
		resp["duration"] = job.EndedAt.Sub(job.StartedAt).String()
	}
	if job.Error != "" {
		resp["error"] = job.Error
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) Start(port string) error {
	return s.Echo.Start(":" + port)
}

// splitCSV splits a comma-separated query parameter into trimmed non-empty strings.
func splitCSV(s string) []string {
	var result []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			result = append(result, part)
		}
	}
	return result
}

func (s *Server) adminMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		secret, err := adminSecret()
		if err != nil {
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Server admin configuration error"})
		}

		authHeader := c.Request().Header.Get("Authorization")
		adminHeader := c.Request().Header.Get("X-Admin-Secret")

		if adminHeader == secret {
			return next(c)
		}
		if len(authHeader) > 7 && strings.EqualFold(authHeader[:7], "Bearer ") {
			if authHeader[7:] == secret {
				return next(c)
			}
		}

		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized admin access"})
	}
}

func adminSecret() (string, error) {
	adminSecretOnce.Do(func() {
		secret := strings.TrimSpace(os.Getenv("ADMIN_SECRET"))
		if secret != "" {
			adminSecretRuntime = secret
			return
		}

		buf := make([]byte, 48)
		if _, err := rand.Read(buf); err != nil {
			adminSecretErr = fmt.Errorf("failed to generate ADMIN_SECRET fallback: %w", err)
			return
		}

		adminSecretRuntime = base64.RawURLEncoding.EncodeToString(buf)
		log.Print("ADMIN_SECRET is not set; using ephemeral in-memory fallback secret")
	})

	if adminSecretErr != nil {
		return "", adminSecretErr
	}
	if adminSecretRuntime == "" {
		return "", fmt.Errorf("admin secret unavailable")
	}

	return adminSecretRuntime, nil
}
