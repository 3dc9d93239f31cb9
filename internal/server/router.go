package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"slices"
	"time"

	"github.com/MarcoPoloResearchLab/markme/internal/auth"
	"github.com/MarcoPoloResearchLab/markme/internal/bookmarks"
	"github.com/MarcoPoloResearchLab/markme/internal/imports"
	"github.com/MarcoPoloResearchLab/markme/internal/search"
	"github.com/MarcoPoloResearchLab/markme/internal/tags"
	"github.com/MarcoPoloResearchLab/markme/internal/users"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	ownerIDContextKey     = "markme_owner_id"
	defaultMaxUploadBytes = 10 << 20
)

var (
	errMissingSessionValidator = errors.New("session validator dependency required")
	errMissingOwnerDirectory   = errors.New("owner directory dependency required")
	errMissingBookmarkStore    = errors.New("bookmark store dependency required")
	errMissingTagIndex         = errors.New("tag index dependency required")
	errMissingSearchEngine     = errors.New("search engine dependency required")
	errMissingImporter         = errors.New("importer dependency required")
)

type SessionValidator interface {
	ValidateRequest(r *http.Request) (auth.SessionClaims, error)
}

type OwnerDirectory interface {
	ResolveOwnerID(ctx context.Context, claims auth.SessionClaims) (string, error)
	Profile(ctx context.Context, ownerID string) (users.Identity, error)
	UpdateProfile(ctx context.Context, ownerID string, update users.ProfileUpdate) (users.Identity, error)
}

type BookmarkStore interface {
	Create(ctx context.Context, ownerID string, draft bookmarks.Draft) (bookmarks.Bookmark, error)
	Update(ctx context.Context, ownerID, bookmarkID string, fields bookmarks.Fields) (bookmarks.Bookmark, error)
	Delete(ctx context.Context, ownerID, bookmarkID string) error
	List(ctx context.Context, ownerID string, page bookmarks.Page) (bookmarks.ListResult, error)
}

type TagIndex interface {
	Autocomplete(ctx context.Context, ownerID, prefix string, limit int) ([]tags.Tag, error)
}

type SearchEngine interface {
	ByTag(ctx context.Context, ownerID string, tagNames []string, mode search.Mode) ([]bookmarks.Bookmark, error)
	ByText(ctx context.Context, ownerID, text string) ([]bookmarks.Bookmark, error)
	Combined(ctx context.Context, query search.Query) (bookmarks.ListResult, error)
}

type BookmarkImporter interface {
	Import(ctx context.Context, ownerID string, reader io.Reader) (imports.Summary, error)
}

type RateLimiter interface {
	Allow(key string) bool
}

type Dependencies struct {
	Sessions       SessionValidator
	Owners         OwnerDirectory
	Bookmarks      BookmarkStore
	Tags           TagIndex
	Search         SearchEngine
	Importer       BookmarkImporter
	ImportLimiter  RateLimiter
	MaxUploadBytes int64
	AllowedOrigins []string
	Logger         *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	switch {
	case deps.Sessions == nil:
		return nil, errMissingSessionValidator
	case deps.Owners == nil:
		return nil, errMissingOwnerDirectory
	case deps.Bookmarks == nil:
		return nil, errMissingBookmarkStore
	case deps.Tags == nil:
		return nil, errMissingTagIndex
	case deps.Search == nil:
		return nil, errMissingSearchEngine
	case deps.Importer == nil:
		return nil, errMissingImporter
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	maxUpload := deps.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = defaultMaxUploadBytes
	}

	useRequestFieldNames()

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(deps.AllowedOrigins))

	handler := &httpHandler{
		sessions:       deps.Sessions,
		owners:         deps.Owners,
		bookmarks:      deps.Bookmarks,
		tags:           deps.Tags,
		search:         deps.Search,
		importer:       deps.Importer,
		importLimiter:  deps.ImportLimiter,
		maxUploadBytes: maxUpload,
		logger:         logger,
	}

	protected := router.Group("/json")
	protected.Use(handler.authorizeRequest)
	protected.GET("/user", handler.handleCurrentUser)
	protected.PUT("/user", handler.handleUpdateCurrentUser)
	protected.GET("/tag", handler.handleListTags)
	protected.GET("/tag/:tag", handler.handleTagByPath)
	protected.GET("/autocomplete", handler.handleAutocomplete)
	protected.GET("/bookmark", handler.handleListBookmarks)
	protected.POST("/bookmark", handler.handleCreateBookmark)
	protected.GET("/bookmark/tag", handler.handleBookmarksByTag)
	protected.GET("/bookmark/search", handler.handleBookmarksByText)
	protected.PUT("/bookmark/:id", handler.handleUpdateBookmark)
	protected.DELETE("/bookmark/:id", handler.handleDeleteBookmark)
	protected.POST("/import", handler.limitImports, handler.handleImport)

	return router, nil
}

type httpHandler struct {
	sessions       SessionValidator
	owners         OwnerDirectory
	bookmarks      BookmarkStore
	tags           TagIndex
	search         SearchEngine
	importer       BookmarkImporter
	importLimiter  RateLimiter
	maxUploadBytes int64
	logger         *zap.Logger
}

func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(allowedOrigins) == 0 || slices.Contains(allowedOrigins, "*") {
		cfg.AllowOriginFunc = func(string) bool { return true }
	} else {
		cfg.AllowOrigins = allowedOrigins
	}
	return cors.New(cfg)
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	claims, err := h.sessions.ValidateRequest(c.Request)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredSessionToken) || errors.Is(err, auth.ErrMissingSessionToken) {
			h.logger.Info("session validation failed", zap.Error(err))
		} else {
			h.logger.Warn("session validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	ownerID, err := h.owners.ResolveOwnerID(c.Request.Context(), claims)
	if err != nil {
		if errors.Is(err, users.ErrInvalidIdentity) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		h.logger.Error("owner resolution failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "identity_unavailable"})
		return
	}
	c.Set(ownerIDContextKey, ownerID)
	c.Next()
}

func (h *httpHandler) limitImports(c *gin.Context) {
	if h.importLimiter == nil {
		c.Next()
		return
	}
	if !h.importLimiter.Allow(c.GetString(ownerIDContextKey)) {
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate_limited"})
		return
	}
	c.Next()
}

func (h *httpHandler) handleCurrentUser(c *gin.Context) {
	ownerID := c.GetString(ownerIDContextKey)
	profile, err := h.owners.Profile(c.Request.Context(), ownerID)
	if err != nil {
		h.writeError(c, "load_user", err)
		return
	}
	c.JSON(http.StatusOK, newUserPayload(profile))
}

func (h *httpHandler) handleUpdateCurrentUser(c *gin.Context) {
	var request updateUserRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		writeBindingError(c, err)
		return
	}
	profile, err := h.owners.UpdateProfile(c.Request.Context(), c.GetString(ownerIDContextKey), users.ProfileUpdate{
		DisplayName: request.DisplayName,
		Email:       request.Email,
	})
	if err != nil {
		h.writeError(c, "update_user", err)
		return
	}
	c.JSON(http.StatusOK, newUserPayload(profile))
}
