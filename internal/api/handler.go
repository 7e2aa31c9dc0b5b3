package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/mkurata/gh-lang-stats/internal/domain"
	apperrors "github.com/mkurata/gh-lang-stats/internal/errors"
	"github.com/mkurata/gh-lang-stats/internal/pipeline"
	"github.com/mkurata/gh-lang-stats/internal/storage"
)

const (
	cacheSize = 128
	cacheTTL  = 5 * time.Minute
)

type cacheEntry struct {
	stats     *domain.AggregatedStats
	expiresAt time.Time
}

// Handler serves read-only re-aggregations of the cached snapshots. It never
// talks to GitHub; collection happens through the CLI.
type Handler struct {
	backend storage.Backend
	cache   *lru.Cache[string, *cacheEntry]
}

// NewHandler creates a new API handler
func NewHandler(backend storage.Backend) (*Handler, error) {
	cache, err := lru.New[string, *cacheEntry](cacheSize)
	if err != nil {
		return nil, err
	}
	return &Handler{backend: backend, cache: cache}, nil
}

// HealthCheck handles GET /health
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// respondError maps the application error taxonomy to HTTP status codes
func respondError(c *gin.Context, err error) {
	switch {
	case apperrors.IsNotFound(err):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case apperrors.IsRateLimited(err):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

// GetUserStats handles GET /api/v1/users/:user/stats
func (h *Handler) GetUserStats(c *gin.Context) {
	user := c.Param("user")
	opts := pipeline.Options{
		User:           user,
		SkipCollection: true,
		IncludeDates:   c.Query("dates") == "true",
		IncludePRs:     c.Query("prs") == "true",
	}
	if exclude := c.Query("exclude"); exclude != "" {
		opts.ExcludeLanguages = strings.Split(exclude, ",")
	}

	key := user + "|" + c.Request.URL.RawQuery
	if entry, ok := h.cache.Get(key); ok && time.Now().Before(entry.expiresAt) {
		c.JSON(http.StatusOK, gin.H{"data": entry.stats})
		return
	}

	stats, err := pipeline.New(nil, h.backend, nil, opts).Run(c.Request.Context())
	if err != nil {
		respondError(c, apperrors.NewInternalError("aggregation failed", err))
		return
	}
	if stats.CommitsProcessed == 0 && stats.ReposWithOutput == 0 {
		respondError(c, apperrors.NewNotFoundError("cached data for "+user))
		return
	}

	h.cache.Add(key, &cacheEntry{stats: stats, expiresAt: time.Now().Add(cacheTTL)})
	c.JSON(http.StatusOK, gin.H{"data": stats})
}

// GetUserRepos handles GET /api/v1/users/:user/repos
func (h *Handler) GetUserRepos(c *gin.Context) {
	user := c.Param("user")

	state, err := h.backend.Load(c.Request.Context(), user)
	if err != nil {
		respondError(c, apperrors.NewInternalError("failed to load cached data", err))
		return
	}

	repos := state.Repositories()
	if len(repos) == 0 {
		respondError(c, apperrors.NewNotFoundError("cached data for "+user))
		return
	}

	type repoStatus struct {
		Repo        string `json:"repo"`
		IsPrivate   bool   `json:"isPrivate"`
		CommitCount int    `json:"commitCount"`
		SHAComplete bool   `json:"shaComplete"`
		PRComplete  bool   `json:"prComplete"`
	}
	out := make([]repoStatus, 0, len(repos))
	for _, r := range repos {
		out = append(out, repoStatus{
			Repo:        r.Key(),
			IsPrivate:   r.IsPrivate,
			CommitCount: len(state.CommitsFor(r.Key())),
			SHAComplete: state.IsSHAComplete(r.Key()),
			PRComplete:  state.IsPRComplete(r.Key()),
		})
	}
	c.JSON(http.StatusOK, gin.H{"data": out})
}
