package greader

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"aggreader/internal/aggregator"
	"aggreader/internal/auth"
	"aggreader/internal/database"
	"aggreader/internal/services"
)

// APIHandler serves the convenience endpoints the admin and PWA layers
// consume: aggregator metadata, feed management, aggregation triggers,
// task lookups.
type APIHandler struct {
	db          database.Database
	registry    *aggregator.Registry
	runner      *aggregator.Runner
	aggregation *services.AggregationService
	validator   URLNormalizer

	defaultDailyLimit int

	// checkSubreddit runs the subscribe-time subreddit existence check.
	checkSubreddit func(ctx context.Context, agg aggregator.Aggregator, identifier string) error
}

func NewAPIHandler(db database.Database, registry *aggregator.Registry, runner *aggregator.Runner, aggregation *services.AggregationService, validator URLNormalizer, defaultDailyLimit int) *APIHandler {
	if defaultDailyLimit == 0 {
		defaultDailyLimit = 10
	}
	h := &APIHandler{
		db:                db,
		registry:          registry,
		runner:            runner,
		aggregation:       aggregation,
		validator:         validator,
		defaultDailyLimit: defaultDailyLimit,
	}
	h.checkSubreddit = h.verifySubreddit
	return h
}

func (h *APIHandler) RegisterRoutes(router *gin.Engine, middleware *auth.Middleware) {
	api := router.Group("/api")
	api.Use(middleware.RequireToken())
	{
		api.GET("/aggregators", h.ListAggregators)
		api.GET("/feeds", h.ListFeeds)
		api.POST("/feeds", h.CreateFeed)
		api.POST("/feeds/:id/aggregate", h.AggregateFeed)
		api.POST("/aggregate", h.AggregateAll)
		api.POST("/articles/:id/reload", h.ReloadArticle)
		api.GET("/tasks/:id", h.GetTask)
	}
}

// ListAggregators returns registry metadata including option schemas.
func (h *APIHandler) ListAggregators(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"aggregators": h.registry.List()})
}

// ListFeeds returns the caller's feeds with their full configuration.
func (h *APIHandler) ListFeeds(c *gin.Context) {
	user := auth.CurrentUser(c)

	feeds, err := h.db.GetUserFeeds(user.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list feeds"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"feeds": feeds})
}

type createFeedRequest struct {
	Name                string                 `json:"name"`
	AggregatorID        string                 `json:"aggregator_id" binding:"required"`
	Identifier          string                 `json:"identifier" binding:"required"`
	DailyLimit          *int                   `json:"daily_limit"`
	Options             map[string]interface{} `json:"options"`
	SkipDuplicates      bool                   `json:"skip_duplicates"`
	UseCurrentTimestamp bool                   `json:"use_current_timestamp"`
	GenerateTitleImage  bool                   `json:"generate_title_image"`
	AddSourceFooter     bool                   `json:"add_source_footer"`
}

// CreateFeed creates a subscription for any registered aggregator. The
// Reader quickadd path only handles plain RSS URLs; this endpoint takes
// an aggregator id, an identifier and validated option values.
func (h *APIHandler) CreateFeed(c *gin.Context) {
	user := auth.CurrentUser(c)

	var req createFeedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	agg, err := h.registry.Get(req.AggregatorID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	meta := agg.Metadata()

	if err := aggregator.ValidateOptions(meta.Options, req.Options); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	identifier := strings.TrimSpace(req.Identifier)
	switch {
	case req.AggregatorID == "reddit":
		identifier = aggregator.NormalizeSubreddit(identifier)
		if identifier == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid subreddit"})
			return
		}
		if err := h.checkSubreddit(c.Request.Context(), agg, identifier); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "subreddit not found or inaccessible"})
			return
		}
	case meta.IdentifierType == aggregator.IdentifierURL:
		identifier, err = h.validator.ValidateAndNormalizeURL(c.Request.Context(), identifier)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid feed URL"})
			return
		}
	}

	existing, err := h.db.GetUserFeedByIdentifier(user.ID, req.AggregatorID, identifier)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to look up feed"})
		return
	}
	if existing != nil {
		if err := h.db.SetFeedEnabled(existing.ID, true); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to enable feed"})
			return
		}
		existing.Enabled = true
		c.JSON(http.StatusOK, gin.H{"feed": existing})
		return
	}

	name := req.Name
	if name == "" {
		name = identifier
	}
	dailyLimit := h.defaultDailyLimit
	if req.DailyLimit != nil {
		dailyLimit = *req.DailyLimit
	}
	options := "{}"
	if len(req.Options) > 0 {
		encoded, err := json.Marshal(req.Options)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid options"})
			return
		}
		options = string(encoded)
	}

	feed := &database.Feed{
		UserID:              user.ID,
		Name:                name,
		AggregatorID:        req.AggregatorID,
		Identifier:          identifier,
		DailyLimit:          dailyLimit,
		Enabled:             true,
		Options:             options,
		SkipDuplicates:      req.SkipDuplicates,
		UseCurrentTimestamp: req.UseCurrentTimestamp,
		GenerateTitleImage:  req.GenerateTitleImage,
		AddSourceFooter:     req.AddSourceFooter,
	}
	if err := h.db.AddFeed(feed); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create feed"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"feed": feed})
}

// verifySubreddit checks the subreddit exists before the subscription
// is created. The check only runs when Reddit API credentials are
// configured; without them the first aggregation run surfaces errors.
func (h *APIHandler) verifySubreddit(ctx context.Context, agg aggregator.Aggregator, identifier string) error {
	reddit, ok := agg.(*aggregator.RedditAggregator)
	if !ok || !reddit.HasCredentials() {
		return nil
	}
	return reddit.CheckSubredditExists(ctx, h.runner.Environment(), identifier)
}

// AggregateFeed triggers a synchronous run for one feed.
func (h *APIHandler) AggregateFeed(c *gin.Context) {
	user := auth.CurrentUser(c)

	feedID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid feed id"})
		return
	}

	feed, err := h.db.GetFeed(feedID)
	if err != nil || feed == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "feed not found"})
		return
	}
	if feed.UserID != user.ID {
		c.JSON(http.StatusForbidden, gin.H{"error": accessDeniedMessage})
		return
	}

	force := c.Query("force_refresh") == "true"
	result, err := h.aggregation.AggregateFeed(c.Request.Context(), feedID, force, nil, 0)
	if err != nil {
		if errors.Is(err, services.ErrFeedNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "feed not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

// AggregateAll queues runs for every enabled feed, or for one
// aggregator type when the type parameter is present.
func (h *APIHandler) AggregateAll(c *gin.Context) {
	force := c.Query("force_refresh") == "true"
	sync := c.Query("sync") == "true"

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	var (
		results []*services.FeedResult
		queued  []*services.QueuedFeed
		err     error
	)
	if aggregatorType := c.Query("type"); aggregatorType != "" {
		results, queued, err = h.aggregation.AggregateByType(c.Request.Context(), aggregatorType, limit, force, sync)
	} else {
		results, queued, err = h.aggregation.AggregateAll(c.Request.Context(), limit, force, sync)
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if sync {
		c.JSON(http.StatusOK, gin.H{"results": results})
		return
	}
	c.JSON(http.StatusOK, gin.H{"queued": queued})
}

// ReloadArticle refetches one article in place.
func (h *APIHandler) ReloadArticle(c *gin.Context) {
	user := auth.CurrentUser(c)

	articleID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid article id"})
		return
	}

	article, err := h.db.GetArticle(articleID)
	if err != nil || article == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "article not found"})
		return
	}
	feed, err := h.db.GetFeed(article.FeedID)
	if err != nil || feed == nil || feed.UserID != user.ID {
		c.JSON(http.StatusForbidden, gin.H{"error": accessDeniedMessage})
		return
	}

	result, err := h.aggregation.ReloadArticle(c.Request.Context(), articleID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

// GetTask looks up a recorded task outcome by id.
func (h *APIHandler) GetTask(c *gin.Context) {
	task, err := h.db.GetTask(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "task lookup failed"})
		return
	}
	if task == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
		return
	}
	c.JSON(http.StatusOK, task)
}
