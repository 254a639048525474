package greader

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"aggreader/internal/aggregator"
	"aggreader/internal/auth"
	"aggreader/internal/database"
)

// URLNormalizer validates and canonicalizes subscription URLs.
type URLNormalizer interface {
	ValidateAndNormalizeURL(ctx context.Context, rawURL string) (string, error)
}

const accessDeniedMessage = "Cannot modify other users' feeds"

// defaultPageSize is the stream page size when n is absent.
const defaultPageSize = 20

// sidLength is the visible SID/token payload length some clients
// expect; the full 64-hex token stays in the Auth line.
const sidLength = 57

// Handler serves the Google Reader compatible API surface.
type Handler struct {
	db          database.Database
	authService *auth.Service
	validator   URLNormalizer

	defaultDailyLimit int
}

func NewHandler(db database.Database, authService *auth.Service, validator URLNormalizer, defaultDailyLimit int) *Handler {
	if defaultDailyLimit == 0 {
		defaultDailyLimit = 10
	}
	return &Handler{
		db:                db,
		authService:       authService,
		validator:         validator,
		defaultDailyLimit: defaultDailyLimit,
	}
}

// RegisterRoutes mounts the login endpoint and the authenticated
// reader API.
func (h *Handler) RegisterRoutes(router *gin.Engine, middleware *auth.Middleware, loginLimiter *auth.RateLimiter) {
	login := router.Group("/accounts")
	if loginLimiter != nil {
		login.Use(auth.RateLimitMiddleware(loginLimiter))
	}
	login.Any("/ClientLogin", h.ClientLogin)

	api := router.Group("/reader/api/0")
	api.Use(middleware.RequireToken())
	{
		api.GET("/token", h.Token)
		api.GET("/subscription/list", h.SubscriptionList)
		api.POST("/subscription/edit", h.SubscriptionEdit)
		api.POST("/subscription/quickadd", h.QuickAdd)
		api.GET("/tag/list", h.TagList)
		api.POST("/edit-tag", h.EditTag)
		api.GET("/stream/items/ids", h.StreamItemIDs)
		api.POST("/mark-all-as-read", h.MarkAllAsRead)
		api.GET("/preference/list", h.PreferenceList)
		api.GET("/preference/stream/list", h.StreamPreferenceList)
	}
}

// formValue reads a form field under either of two case variants,
// which Reader clients disagree on.
func formValue(c *gin.Context, names ...string) string {
	for _, name := range names {
		if v := c.PostForm(name); v != "" {
			return v
		}
	}
	return ""
}

// ClientLogin implements the classic ClientLogin handshake.
func (h *Handler) ClientLogin(c *gin.Context) {
	if c.Request.Method != http.MethodPost {
		c.String(http.StatusMethodNotAllowed, "Method Not Allowed")
		return
	}

	email := formValue(c, "Email", "email")
	password := formValue(c, "Passwd", "passwd")

	user, err := h.authService.Login(email, password)
	if err != nil {
		c.String(http.StatusForbidden, "Error=BadAuthentication\n")
		return
	}

	token, err := h.authService.IssueToken(user.ID)
	if err != nil {
		log.Printf("login: failed to issue token for user %d: %v", user.ID, err)
		c.String(http.StatusInternalServerError, "Error=Unknown\n")
		return
	}

	sid := token.Token[:sidLength]
	c.Header("Content-Type", "text/plain; charset=UTF-8")
	c.String(http.StatusOK, "SID=%s\nLSID=%s\nAuth=%s\n", sid, sid, token.Token)
}

// Token echoes a short-lived action token for the session.
func (h *Handler) Token(c *gin.Context) {
	token := auth.TokenFromRequest(c.Request)
	if len(token) > sidLength {
		token = token[:sidLength]
	}
	c.String(http.StatusOK, "%s", token)
}

type subscriptionCategory struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

type subscription struct {
	ID         string                 `json:"id"`
	Title      string                 `json:"title"`
	URL        string                 `json:"url"`
	HTMLURL    string                 `json:"htmlUrl"`
	IconURL    string                 `json:"iconUrl,omitempty"`
	Categories []subscriptionCategory `json:"categories"`
}

// SubscriptionList returns the caller's feeds in Reader shape.
func (h *Handler) SubscriptionList(c *gin.Context) {
	user := auth.CurrentUser(c)

	feeds, err := h.db.GetUserFeeds(user.ID)
	if err != nil {
		c.String(http.StatusInternalServerError, "failed to list feeds")
		return
	}

	subscriptions := make([]subscription, 0, len(feeds))
	for _, feed := range feeds {
		feedURL, htmlURL := subscriptionURLs(&feed)

		sub := subscription{
			ID:         fmt.Sprintf("feed/%d", feed.ID),
			Title:      feed.Name,
			URL:        feedURL,
			HTMLURL:    htmlURL,
			IconURL:    feed.Icon,
			Categories: []subscriptionCategory{},
		}

		if feed.GroupID != 0 {
			if group, err := h.db.GetGroup(feed.GroupID); err == nil && group != nil {
				sub.Categories = append(sub.Categories, subscriptionCategory{
					ID:    labelPrefix + group.Name,
					Label: group.Name,
				})
			}
		}
		if synthetic := syntheticCategory(feed.AggregatorID); synthetic != "" {
			sub.Categories = append(sub.Categories, subscriptionCategory{
				ID:    labelPrefix + synthetic,
				Label: synthetic,
			})
		}

		subscriptions = append(subscriptions, sub)
	}

	c.JSON(http.StatusOK, gin.H{"subscriptions": subscriptions})
}

// subscriptionURLs derives wire url/htmlUrl values from the feed
// identifier, which is not a URL for the social aggregators.
func subscriptionURLs(feed *database.Feed) (feedURL, htmlURL string) {
	switch feed.AggregatorID {
	case "reddit":
		sub := aggregator.NormalizeSubreddit(feed.Identifier)
		u := "https://www.reddit.com/r/" + sub
		return u, u
	case "youtube":
		identifier := strings.TrimSpace(feed.Identifier)
		if strings.HasPrefix(identifier, "UC") {
			u := "https://www.youtube.com/channel/" + identifier
			return u, u
		}
		if !strings.HasPrefix(identifier, "@") {
			identifier = "@" + identifier
		}
		u := "https://www.youtube.com/" + identifier
		return u, u
	}

	htmlURL = feed.Identifier
	if parsed, err := url.Parse(feed.Identifier); err == nil && parsed.Host != "" {
		htmlURL = parsed.Scheme + "://" + parsed.Host
	}
	return feed.Identifier, htmlURL
}

func syntheticCategory(aggregatorID string) string {
	switch aggregatorID {
	case "reddit":
		return "Reddit"
	case "youtube":
		return "YouTube"
	}
	return ""
}

// SubscriptionEdit handles subscribe, unsubscribe and edit actions.
func (h *Handler) SubscriptionEdit(c *gin.Context) {
	user := auth.CurrentUser(c)
	action := c.PostForm("ac")

	scope, err := parseStream(c.PostForm("s"))
	if err != nil || scope.FeedRef == "" {
		c.String(http.StatusBadRequest, "invalid stream")
		return
	}

	switch action {
	case "subscribe":
		h.subscribe(c, user, scope, c.PostForm("t"))
	case "unsubscribe":
		h.unsubscribe(c, user, scope)
	case "edit":
		h.editSubscription(c, user, scope)
	default:
		c.String(http.StatusBadRequest, "unknown action %q", action)
	}
}

func (h *Handler) subscribe(c *gin.Context, user *database.User, scope streamScope, title string) {
	// A numeric reference re-enables an existing subscription.
	if id := scope.feedID(); id != 0 {
		feed, err := h.db.GetFeed(id)
		if err != nil || feed == nil {
			c.String(http.StatusBadRequest, "unknown feed")
			return
		}
		if feed.UserID != user.ID {
			c.String(http.StatusForbidden, accessDeniedMessage)
			return
		}
		if err := h.db.SetFeedEnabled(feed.ID, true); err != nil {
			c.String(http.StatusInternalServerError, "failed to enable feed")
			return
		}
		c.String(http.StatusOK, "OK")
		return
	}

	if _, err := h.createURLSubscription(c, user, scope.FeedRef, title); err != nil {
		return // response already written
	}
	c.String(http.StatusOK, "OK")
}

// createURLSubscription validates a feed URL and creates (or
// re-enables) the subscription. Writes the error response itself.
func (h *Handler) createURLSubscription(c *gin.Context, user *database.User, rawURL, title string) (*database.Feed, error) {
	feedURL, err := h.validator.ValidateAndNormalizeURL(c.Request.Context(), rawURL)
	if err != nil {
		c.String(http.StatusBadRequest, "invalid feed URL")
		return nil, err
	}

	existing, err := h.db.GetUserFeedByIdentifier(user.ID, "rss", feedURL)
	if err != nil {
		c.String(http.StatusInternalServerError, "failed to look up feed")
		return nil, err
	}
	if existing != nil {
		if err := h.db.SetFeedEnabled(existing.ID, true); err != nil {
			c.String(http.StatusInternalServerError, "failed to enable feed")
			return nil, err
		}
		return existing, nil
	}

	if title == "" {
		if parsed, err := url.Parse(feedURL); err == nil {
			title = parsed.Host
		} else {
			title = feedURL
		}
	}

	feed := &database.Feed{
		UserID:              user.ID,
		Name:                title,
		AggregatorID:        "rss",
		Identifier:          feedURL,
		DailyLimit:          h.defaultDailyLimit,
		Enabled:             true,
		Options:             "{}",
		UseCurrentTimestamp: true,
	}
	if err := h.db.AddFeed(feed); err != nil {
		c.String(http.StatusInternalServerError, "failed to create feed")
		return nil, err
	}
	return feed, nil
}

func (h *Handler) unsubscribe(c *gin.Context, user *database.User, scope streamScope) {
	feed, ok := h.ownedFeed(c, user, scope)
	if !ok {
		return
	}
	if err := h.db.SetFeedEnabled(feed.ID, false); err != nil {
		c.String(http.StatusInternalServerError, "failed to disable feed")
		return
	}
	c.String(http.StatusOK, "OK")
}

func (h *Handler) editSubscription(c *gin.Context, user *database.User, scope streamScope) {
	feed, ok := h.ownedFeed(c, user, scope)
	if !ok {
		return
	}

	if title := c.PostForm("t"); title != "" {
		if err := h.db.RenameFeed(feed.ID, title); err != nil {
			c.String(http.StatusInternalServerError, "failed to rename feed")
			return
		}
	}

	if add := c.PostForm("a"); add != "" {
		if !strings.HasPrefix(add, labelPrefix) {
			c.String(http.StatusBadRequest, "invalid label %q", add)
			return
		}
		name := strings.TrimPrefix(add, labelPrefix)
		group, err := h.db.GetOrCreateGroup(user.ID, name)
		if err != nil {
			c.String(http.StatusInternalServerError, "failed to create label")
			return
		}
		if err := h.db.SetFeedGroup(feed.ID, group.ID); err != nil {
			c.String(http.StatusInternalServerError, "failed to set label")
			return
		}
	}

	if remove := c.PostForm("r"); remove != "" && strings.HasPrefix(remove, labelPrefix) {
		name := strings.TrimPrefix(remove, labelPrefix)
		if feed.GroupID != 0 {
			group, err := h.db.GetGroup(feed.GroupID)
			if err == nil && group != nil && group.Name == name {
				if err := h.db.SetFeedGroup(feed.ID, 0); err != nil {
					c.String(http.StatusInternalServerError, "failed to remove label")
					return
				}
			}
		}
	}

	c.String(http.StatusOK, "OK")
}

// ownedFeed resolves a numeric feed scope and enforces ownership.
// Writes the error response on failure.
func (h *Handler) ownedFeed(c *gin.Context, user *database.User, scope streamScope) (*database.Feed, bool) {
	id := scope.feedID()
	if id == 0 {
		c.String(http.StatusBadRequest, "unknown feed")
		return nil, false
	}
	feed, err := h.db.GetFeed(id)
	if err != nil {
		c.String(http.StatusInternalServerError, "failed to load feed")
		return nil, false
	}
	if feed == nil {
		c.String(http.StatusBadRequest, "unknown feed")
		return nil, false
	}
	if feed.UserID != user.ID {
		c.String(http.StatusForbidden, accessDeniedMessage)
		return nil, false
	}
	return feed, true
}

// QuickAdd subscribes to a URL and reports the new stream.
func (h *Handler) QuickAdd(c *gin.Context) {
	user := auth.CurrentUser(c)

	query := c.PostForm("quickadd")
	if query == "" {
		query = c.Query("quickadd")
	}
	rawURL := strings.TrimPrefix(query, feedPrefix)
	if rawURL == "" {
		c.String(http.StatusBadRequest, "missing quickadd URL")
		return
	}

	feed, err := h.createURLSubscription(c, user, rawURL, "")
	if err != nil {
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"numResults": 1,
		"query":      query,
		"streamId":   fmt.Sprintf("feed/%d", feed.ID),
		"streamName": feed.Name,
	})
}

// TagList returns the built-in state tags plus the user's labels.
func (h *Handler) TagList(c *gin.Context) {
	user := auth.CurrentUser(c)

	tags := []gin.H{
		{"id": statePrefix + stateStarred, "sortid": "A0"},
		{"id": statePrefix + stateRead, "sortid": "A1"},
		{"id": statePrefix + stateReadingList, "sortid": "A2"},
	}

	groups, err := h.db.GetUserGroups(user.ID)
	if err != nil {
		c.String(http.StatusInternalServerError, "failed to list labels")
		return
	}
	for i, group := range groups {
		tags = append(tags, gin.H{
			"id":     labelPrefix + group.Name,
			"sortid": fmt.Sprintf("B%d", i),
		})
	}

	c.JSON(http.StatusOK, gin.H{"tags": tags})
}

// EditTag mutates read/starred state for a batch of articles.
func (h *Handler) EditTag(c *gin.Context) {
	user := auth.CurrentUser(c)

	var ids []int
	for _, raw := range c.PostFormArray("i") {
		id, err := parseItemID(raw)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}

	var isRead, isStarred *bool
	for _, tag := range c.PostFormArray("a") {
		switch strings.TrimPrefix(tag, statePrefix) {
		case stateRead:
			isRead = boolPtr(true)
		case stateStarred:
			isStarred = boolPtr(true)
		}
	}
	for _, tag := range c.PostFormArray("r") {
		switch strings.TrimPrefix(tag, statePrefix) {
		case stateRead:
			isRead = boolPtr(false)
		case stateStarred:
			isStarred = boolPtr(false)
		}
	}

	owned, err := h.db.FilterOwnedArticleIDs(user.ID, ids)
	if err != nil {
		c.String(http.StatusInternalServerError, "failed to resolve articles")
		return
	}
	if len(owned) == 0 {
		c.String(http.StatusBadRequest, "no accessible item ids")
		return
	}

	if err := h.db.BulkSetState(user.ID, owned, isRead, isStarred); err != nil {
		c.String(http.StatusInternalServerError, "failed to update state")
		return
	}

	c.String(http.StatusOK, "OK")
}

// StreamItemIDs resolves a stream query to article id references.
func (h *Handler) StreamItemIDs(c *gin.Context) {
	user := auth.CurrentUser(c)

	scope, err := parseStream(c.Query("s"))
	if err != nil {
		c.String(http.StatusBadRequest, "invalid stream: %v", err)
		return
	}

	filter := database.ArticleFilter{
		UserID: user.ID,
		Limit:  defaultPageSize,
	}
	if err := applyScope(&filter, scope); err != nil {
		c.String(http.StatusBadRequest, "%v", err)
		return
	}

	for _, tag := range c.QueryArray("xt") {
		if err := applyTagConstraint(&filter, tag, false); err != nil {
			c.String(http.StatusBadRequest, "%v", err)
			return
		}
	}
	for _, tag := range c.QueryArray("it") {
		if err := applyTagConstraint(&filter, tag, true); err != nil {
			c.String(http.StatusBadRequest, "%v", err)
			return
		}
	}

	if n := c.Query("n"); n != "" {
		if parsed, err := parsePositiveInt(n); err == nil {
			filter.Limit = parsed
		}
	}
	filter.Ascending = c.Query("r") == "o"

	if ot := c.Query("ot"); ot != "" {
		if epoch, err := parsePositiveInt64(ot); err == nil {
			filter.OlderThan = time.Unix(epoch, 0).UTC()
		}
	}
	if nt := c.Query("nt"); nt != "" {
		if epoch, err := parsePositiveInt64(nt); err == nil {
			filter.NewerThan = time.Unix(epoch, 0).UTC()
		}
	}

	if cont := c.Query("c"); cont != "" {
		date, id, err := decodeContinuation(cont)
		if err != nil {
			c.String(http.StatusBadRequest, "%v", err)
			return
		}
		filter.ContinueDate = date
		filter.ContinueID = id
	}

	refs, err := h.db.FindArticleRefs(filter)
	if err != nil {
		c.String(http.StatusInternalServerError, "stream query failed")
		return
	}

	itemRefs := make([]gin.H, 0, len(refs))
	for _, ref := range refs {
		itemRefs = append(itemRefs, gin.H{"id": fmt.Sprintf("%d", ref.ID)})
	}

	response := gin.H{"itemRefs": itemRefs}
	if filter.Limit > 0 && len(refs) == filter.Limit {
		response["continuation"] = encodeContinuation(refs[len(refs)-1])
	}

	c.JSON(http.StatusOK, response)
}

// MarkAllAsRead marks every article in a stream as read, optionally
// only those older than ts.
func (h *Handler) MarkAllAsRead(c *gin.Context) {
	user := auth.CurrentUser(c)

	scope, err := parseStream(c.PostForm("s"))
	if err != nil {
		c.String(http.StatusBadRequest, "invalid stream: %v", err)
		return
	}

	filter := database.ArticleFilter{UserID: user.ID}
	if err := applyScope(&filter, scope); err != nil {
		c.String(http.StatusBadRequest, "%v", err)
		return
	}

	if ts := c.PostForm("ts"); ts != "" {
		if epoch, err := parsePositiveInt64(ts); err == nil {
			filter.OlderThan = time.Unix(epoch, 0).UTC()
		}
	}

	refs, err := h.db.FindArticleRefs(filter)
	if err != nil {
		c.String(http.StatusInternalServerError, "stream query failed")
		return
	}

	if len(refs) > 0 {
		ids := make([]int, len(refs))
		for i, ref := range refs {
			ids[i] = ref.ID
		}
		if err := h.db.BulkSetState(user.ID, ids, boolPtr(true), nil); err != nil {
			c.String(http.StatusInternalServerError, "failed to mark read")
			return
		}
	}

	c.String(http.StatusOK, "OK")
}

// PreferenceList exists for client compatibility only.
func (h *Handler) PreferenceList(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"prefs": []gin.H{}})
}

// StreamPreferenceList exists for client compatibility only.
func (h *Handler) StreamPreferenceList(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"streamprefs": gin.H{}})
}
