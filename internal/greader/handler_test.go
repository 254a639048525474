package greader

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"aggreader/internal/auth"
	"aggreader/internal/database"
)

// stubNormalizer keeps handler tests hermetic; the real validator does
// DNS lookups.
type stubNormalizer struct{}

func (stubNormalizer) ValidateAndNormalizeURL(ctx context.Context, rawURL string) (string, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" || strings.Contains(rawURL, "invalid") {
		return "", fmt.Errorf("invalid URL")
	}
	if !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
		rawURL = "https://" + rawURL
	}
	return rawURL, nil
}

type testServer struct {
	router *gin.Engine
	db     database.Database
	auth   *auth.Service
	api    *APIHandler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := database.InitDB(":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	authService := auth.NewService(db, time.Hour)
	handler := NewHandler(db, authService, stubNormalizer{}, 10)

	router := gin.New()
	handler.RegisterRoutes(router, auth.NewMiddleware(authService), nil)

	return &testServer{router: router, db: db, auth: authService}
}

func (s *testServer) register(t *testing.T, email, password string) *database.User {
	t.Helper()
	user, err := s.auth.Register(email, "Test User", password)
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	return user
}

func (s *testServer) login(t *testing.T, email, password string) string {
	t.Helper()
	w := s.postForm(t, "/accounts/ClientLogin", "", url.Values{
		"Email":  {email},
		"Passwd": {password},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("Login failed with status %d: %s", w.Code, w.Body.String())
	}

	for _, line := range strings.Split(w.Body.String(), "\n") {
		if strings.HasPrefix(line, "Auth=") {
			return strings.TrimPrefix(line, "Auth=")
		}
	}
	t.Fatal("Login response missing Auth line")
	return ""
}

func (s *testServer) postForm(t *testing.T, path, token string, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if token != "" {
		req.Header.Set("Authorization", "GoogleLogin auth="+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *testServer) get(t *testing.T, path, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "GoogleLogin auth="+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

// Login handshake

func TestClientLogin(t *testing.T) {
	server := newTestServer(t)
	server.register(t, "alice@example.com", "pw")

	w := server.postForm(t, "/accounts/ClientLogin", "", url.Values{
		"Email":  {"alice@example.com"},
		"Passwd": {"pw"},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}

	body := w.Body.String()
	authRe := regexp.MustCompile(`(?m)^Auth=([0-9a-f]{64})$`)
	if !authRe.MatchString(body) {
		t.Errorf("Expected 64-hex Auth line, got %q", body)
	}
	sidRe := regexp.MustCompile(`(?m)^SID=.{57}$`)
	if !sidRe.MatchString(body) {
		t.Errorf("Expected 57-char SID line, got %q", body)
	}
	if !strings.Contains(body, "LSID=") {
		t.Errorf("Expected LSID line, got %q", body)
	}
}

func TestClientLoginBadCredentials(t *testing.T) {
	server := newTestServer(t)
	server.register(t, "alice@example.com", "pw")

	w := server.postForm(t, "/accounts/ClientLogin", "", url.Values{
		"Email":  {"alice@example.com"},
		"Passwd": {"wrong"},
	})
	if w.Code != http.StatusForbidden {
		t.Errorf("Expected 403, got %d", w.Code)
	}
	if w.Body.String() != "Error=BadAuthentication\n" {
		t.Errorf("Expected BadAuthentication body, got %q", w.Body.String())
	}
}

func TestClientLoginRejectsGET(t *testing.T) {
	server := newTestServer(t)

	w := server.get(t, "/accounts/ClientLogin", "")
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected 405, got %d", w.Code)
	}
}

func TestTokenEndpoint(t *testing.T) {
	server := newTestServer(t)
	server.register(t, "alice@example.com", "pw")
	token := server.login(t, "alice@example.com", "pw")

	w := server.get(t, "/reader/api/0/token", token)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	if got := w.Body.String(); got != token[:57] {
		t.Errorf("Expected token truncated to 57 chars, got %q", got)
	}
}

func TestAPIRequiresToken(t *testing.T) {
	server := newTestServer(t)

	w := server.get(t, "/reader/api/0/subscription/list", "")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 without token, got %d", w.Code)
	}
}

// Subscriptions

func TestSubscriptionListEmpty(t *testing.T) {
	server := newTestServer(t)
	server.register(t, "alice@example.com", "pw")
	token := server.login(t, "alice@example.com", "pw")

	w := server.get(t, "/reader/api/0/subscription/list", token)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}

	var resp struct {
		Subscriptions []json.RawMessage `json:"subscriptions"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(resp.Subscriptions) != 0 {
		t.Errorf("Expected empty subscription list, got %d entries", len(resp.Subscriptions))
	}
	if !strings.Contains(w.Body.String(), `"subscriptions":[]`) {
		t.Errorf("Expected an empty array, not null: %s", w.Body.String())
	}
}

func TestSubscribeByURL(t *testing.T) {
	server := newTestServer(t)
	user := server.register(t, "alice@example.com", "pw")
	token := server.login(t, "alice@example.com", "pw")

	w := server.postForm(t, "/reader/api/0/subscription/edit", token, url.Values{
		"ac": {"subscribe"},
		"s":  {"feed/https://blog.example.com/feed.xml"},
		"t":  {"Example Blog"},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}

	feeds, err := server.db.GetUserFeeds(user.ID)
	if err != nil {
		t.Fatalf("GetUserFeeds failed: %v", err)
	}
	if len(feeds) != 1 {
		t.Fatalf("Expected 1 feed, got %d", len(feeds))
	}
	feed := feeds[0]
	if feed.AggregatorID != "rss" || feed.Identifier != "https://blog.example.com/feed.xml" {
		t.Errorf("Unexpected feed created: %+v", feed)
	}
	if feed.Name != "Example Blog" || !feed.Enabled {
		t.Errorf("Expected named, enabled feed, got %+v", feed)
	}
	if feed.DailyLimit != 10 {
		t.Errorf("Expected default daily limit 10, got %d", feed.DailyLimit)
	}
	if !feed.UseCurrentTimestamp {
		t.Error("Expected new subscriptions to use current timestamps")
	}

	// Subscribing again re-enables rather than duplicating.
	w = server.postForm(t, "/reader/api/0/subscription/edit", token, url.Values{
		"ac": {"subscribe"},
		"s":  {"feed/https://blog.example.com/feed.xml"},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("Resubscribe failed: %d", w.Code)
	}
	feeds, _ = server.db.GetUserFeeds(user.ID)
	if len(feeds) != 1 {
		t.Errorf("Expected resubscribe to reuse the feed, got %d feeds", len(feeds))
	}
}

func TestSubscribeInvalidURL(t *testing.T) {
	server := newTestServer(t)
	server.register(t, "alice@example.com", "pw")
	token := server.login(t, "alice@example.com", "pw")

	w := server.postForm(t, "/reader/api/0/subscription/edit", token, url.Values{
		"ac": {"subscribe"},
		"s":  {"feed/https://invalid.example.com/feed"},
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for rejected URL, got %d", w.Code)
	}
}

func TestQuickAdd(t *testing.T) {
	server := newTestServer(t)
	server.register(t, "alice@example.com", "pw")
	token := server.login(t, "alice@example.com", "pw")

	w := server.postForm(t, "/reader/api/0/subscription/quickadd", token, url.Values{
		"quickadd": {"feed/https://blog.example.com/feed.xml"},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		NumResults int    `json:"numResults"`
		StreamID   string `json:"streamId"`
		StreamName string `json:"streamName"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.NumResults != 1 {
		t.Errorf("Expected numResults 1, got %d", resp.NumResults)
	}
	if !strings.HasPrefix(resp.StreamID, "feed/") {
		t.Errorf("Expected feed/ stream id, got %q", resp.StreamID)
	}
	if resp.StreamName != "blog.example.com" {
		t.Errorf("Expected host as fallback title, got %q", resp.StreamName)
	}
}

func TestUnsubscribeOtherUsersFeed(t *testing.T) {
	server := newTestServer(t)
	owner := server.register(t, "owner@example.com", "pw")
	server.register(t, "intruder@example.com", "pw")
	intruderToken := server.login(t, "intruder@example.com", "pw")

	feed := &database.Feed{
		UserID:       owner.ID,
		Name:         "Owned",
		AggregatorID: "rss",
		Identifier:   "https://owned.example.com/feed.xml",
		DailyLimit:   10,
		Enabled:      true,
	}
	if err := server.db.AddFeed(feed); err != nil {
		t.Fatalf("AddFeed failed: %v", err)
	}

	w := server.postForm(t, "/reader/api/0/subscription/edit", intruderToken, url.Values{
		"ac": {"unsubscribe"},
		"s":  {fmt.Sprintf("feed/%d", feed.ID)},
	})
	if w.Code != http.StatusForbidden {
		t.Errorf("Expected 403, got %d", w.Code)
	}
	if w.Body.String() != accessDeniedMessage {
		t.Errorf("Expected %q, got %q", accessDeniedMessage, w.Body.String())
	}

	reloaded, _ := server.db.GetFeed(feed.ID)
	if !reloaded.Enabled {
		t.Error("Feed must stay enabled after denied unsubscribe")
	}
}

func TestEditSubscriptionLabels(t *testing.T) {
	server := newTestServer(t)
	user := server.register(t, "alice@example.com", "pw")
	token := server.login(t, "alice@example.com", "pw")

	feed := &database.Feed{
		UserID:       user.ID,
		Name:         "Old Name",
		AggregatorID: "rss",
		Identifier:   "https://blog.example.com/feed.xml",
		DailyLimit:   10,
		Enabled:      true,
	}
	if err := server.db.AddFeed(feed); err != nil {
		t.Fatalf("AddFeed failed: %v", err)
	}

	w := server.postForm(t, "/reader/api/0/subscription/edit", token, url.Values{
		"ac": {"edit"},
		"s":  {fmt.Sprintf("feed/%d", feed.ID)},
		"t":  {"New Name"},
		"a":  {"user/-/label/Tech"},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("Edit failed: %d %s", w.Code, w.Body.String())
	}

	reloaded, _ := server.db.GetFeed(feed.ID)
	if reloaded.Name != "New Name" {
		t.Errorf("Expected rename, got %q", reloaded.Name)
	}
	if reloaded.GroupID == 0 {
		t.Fatal("Expected feed assigned to the Tech group")
	}

	// The label shows up in tag/list and on the subscription.
	w = server.get(t, "/reader/api/0/tag/list", token)
	if !strings.Contains(w.Body.String(), "user/-/label/Tech") {
		t.Errorf("Expected Tech label in tag list: %s", w.Body.String())
	}

	// Removing a non-matching label is a no-op.
	w = server.postForm(t, "/reader/api/0/subscription/edit", token, url.Values{
		"ac": {"edit"},
		"s":  {fmt.Sprintf("feed/%d", feed.ID)},
		"r":  {"user/-/label/Other"},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("Edit failed: %d", w.Code)
	}
	reloaded, _ = server.db.GetFeed(feed.ID)
	if reloaded.GroupID == 0 {
		t.Error("Non-matching label removal should not clear the group")
	}

	// Removing the matching label clears the group.
	w = server.postForm(t, "/reader/api/0/subscription/edit", token, url.Values{
		"ac": {"edit"},
		"s":  {fmt.Sprintf("feed/%d", feed.ID)},
		"r":  {"user/-/label/Tech"},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("Edit failed: %d", w.Code)
	}
	reloaded, _ = server.db.GetFeed(feed.ID)
	if reloaded.GroupID != 0 {
		t.Error("Expected matching label removal to clear the group")
	}
}

// Streams

type streamFixture struct {
	server *testServer
	token  string
	feed   *database.Feed
	a      *database.Article // newest, unread
	b      *database.Article // 1h old, read
	c      *database.Article // 2h old, starred
	now    time.Time
}

func setupStreamFixture(t *testing.T) *streamFixture {
	t.Helper()
	server := newTestServer(t)
	user := server.register(t, "alice@example.com", "pw")
	token := server.login(t, "alice@example.com", "pw")

	feed := &database.Feed{
		UserID:       user.ID,
		Name:         "Stream Feed",
		AggregatorID: "rss",
		Identifier:   "https://stream.example.com/feed.xml",
		DailyLimit:   10,
		Enabled:      true,
	}
	if err := server.db.AddFeed(feed); err != nil {
		t.Fatalf("AddFeed failed: %v", err)
	}

	now := time.Now().UTC().Truncate(time.Second)
	mk := func(slug string, date time.Time) *database.Article {
		article := &database.Article{
			FeedID:     feed.ID,
			Identifier: "https://stream.example.com/" + slug,
			Name:       slug,
			Date:       date,
		}
		if _, err := server.db.GetOrInsertArticle(article); err != nil {
			t.Fatalf("Failed to insert article %s: %v", slug, err)
		}
		return article
	}

	f := &streamFixture{
		server: server,
		token:  token,
		feed:   feed,
		a:      mk("a", now),
		b:      mk("b", now.Add(-time.Hour)),
		c:      mk("c", now.Add(-2*time.Hour)),
		now:    now,
	}

	read := true
	if err := server.db.BulkSetState(user.ID, []int{f.b.ID}, &read, nil); err != nil {
		t.Fatalf("Failed to mark b read: %v", err)
	}
	starred := true
	if err := server.db.BulkSetState(user.ID, []int{f.c.ID}, nil, &starred); err != nil {
		t.Fatalf("Failed to star c: %v", err)
	}
	return f
}

func streamIDs(t *testing.T, w *httptest.ResponseRecorder) ([]string, string) {
	t.Helper()
	if w.Code != http.StatusOK {
		t.Fatalf("Stream request failed: %d %s", w.Code, w.Body.String())
	}
	var resp struct {
		ItemRefs []struct {
			ID string `json:"id"`
		} `json:"itemRefs"`
		Continuation string `json:"continuation"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode stream response: %v", err)
	}
	ids := make([]string, 0, len(resp.ItemRefs))
	for _, ref := range resp.ItemRefs {
		ids = append(ids, ref.ID)
	}
	return ids, resp.Continuation
}

func idsOf(articles ...*database.Article) []string {
	out := make([]string, len(articles))
	for i, a := range articles {
		out[i] = fmt.Sprintf("%d", a.ID)
	}
	return out
}

func equalIDs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestStreamItemIDsReadingList(t *testing.T) {
	f := setupStreamFixture(t)

	ids, _ := streamIDs(t, f.server.get(t, "/reader/api/0/stream/items/ids?s=user/-/state/com.google/reading-list", f.token))
	if !equalIDs(ids, idsOf(f.a, f.b, f.c)) {
		t.Errorf("Expected [a b c] newest first, got %v", ids)
	}
}

func TestStreamItemIDsExcludeRead(t *testing.T) {
	f := setupStreamFixture(t)

	ids, _ := streamIDs(t, f.server.get(t, "/reader/api/0/stream/items/ids?xt=user/-/state/com.google/read", f.token))
	if !equalIDs(ids, idsOf(f.a, f.c)) {
		t.Errorf("Expected unread [a c], got %v", ids)
	}
}

func TestStreamItemIDsStarredOnly(t *testing.T) {
	f := setupStreamFixture(t)

	ids, _ := streamIDs(t, f.server.get(t, "/reader/api/0/stream/items/ids?s=user/-/state/com.google/starred", f.token))
	if !equalIDs(ids, idsOf(f.c)) {
		t.Errorf("Expected starred [c], got %v", ids)
	}
}

func TestStreamItemIDsOlderThanWindow(t *testing.T) {
	f := setupStreamFixture(t)

	ot := f.now.Add(-30 * time.Minute).Unix()
	ids, _ := streamIDs(t, f.server.get(t, fmt.Sprintf("/reader/api/0/stream/items/ids?ot=%d", ot), f.token))
	if !equalIDs(ids, idsOf(f.b, f.c)) {
		t.Errorf("Expected [b c] older than the cutoff, got %v", ids)
	}
}

func TestStreamItemIDsAscendingOrder(t *testing.T) {
	f := setupStreamFixture(t)

	ids, _ := streamIDs(t, f.server.get(t, "/reader/api/0/stream/items/ids?r=o", f.token))
	if !equalIDs(ids, idsOf(f.c, f.b, f.a)) {
		t.Errorf("Expected oldest first [c b a], got %v", ids)
	}
}

func TestStreamItemIDsContinuation(t *testing.T) {
	f := setupStreamFixture(t)

	ids, cont := streamIDs(t, f.server.get(t, "/reader/api/0/stream/items/ids?n=2", f.token))
	if !equalIDs(ids, idsOf(f.a, f.b)) {
		t.Fatalf("Expected first page [a b], got %v", ids)
	}
	if cont == "" {
		t.Fatal("Expected a continuation token on a full page")
	}

	ids, cont2 := streamIDs(t, f.server.get(t, "/reader/api/0/stream/items/ids?n=2&c="+url.QueryEscape(cont), f.token))
	if !equalIDs(ids, idsOf(f.c)) {
		t.Errorf("Expected second page [c], got %v", ids)
	}
	if cont2 != "" {
		t.Errorf("Expected no continuation on a short page, got %q", cont2)
	}
}

func TestStreamItemIDsContinuationSameSecond(t *testing.T) {
	server := newTestServer(t)
	user := server.register(t, "alice@example.com", "pw")
	token := server.login(t, "alice@example.com", "pw")

	feed := &database.Feed{
		UserID:       user.ID,
		Name:         "Burst Feed",
		AggregatorID: "rss",
		Identifier:   "https://burst.example.com/feed.xml",
		DailyLimit:   10,
		Enabled:      true,
	}
	if err := server.db.AddFeed(feed); err != nil {
		t.Fatalf("AddFeed failed: %v", err)
	}

	// Two articles published within the same wall-clock second, with
	// fractional offsets. Paging one at a time must still visit both.
	base := time.Now().UTC().Truncate(time.Second)
	first := &database.Article{
		FeedID:     feed.ID,
		Identifier: "https://burst.example.com/first",
		Name:       "first",
		Date:       base.Add(500 * time.Millisecond),
	}
	second := &database.Article{
		FeedID:     feed.ID,
		Identifier: "https://burst.example.com/second",
		Name:       "second",
		Date:       base.Add(900 * time.Millisecond),
	}
	for _, article := range []*database.Article{first, second} {
		if _, err := server.db.GetOrInsertArticle(article); err != nil {
			t.Fatalf("Failed to insert article: %v", err)
		}
	}

	seen := map[string]bool{}
	path := "/reader/api/0/stream/items/ids?n=1"
	for page := 0; page < 3; page++ {
		ids, cont := streamIDs(t, server.get(t, path, token))
		for _, id := range ids {
			if seen[id] {
				t.Fatalf("Article %s returned twice", id)
			}
			seen[id] = true
		}
		if cont == "" {
			break
		}
		path = "/reader/api/0/stream/items/ids?n=1&c=" + url.QueryEscape(cont)
	}

	for _, article := range []*database.Article{first, second} {
		if !seen[fmt.Sprintf("%d", article.ID)] {
			t.Errorf("Article %d missing from paged stream", article.ID)
		}
	}
	if len(seen) != 2 {
		t.Errorf("Expected exactly 2 articles across pages, got %d", len(seen))
	}
}

func TestStreamItemIDsScopedToFeed(t *testing.T) {
	f := setupStreamFixture(t)

	ids, _ := streamIDs(t, f.server.get(t, fmt.Sprintf("/reader/api/0/stream/items/ids?s=feed/%d", f.feed.ID), f.token))
	if len(ids) != 3 {
		t.Errorf("Expected all 3 articles for the owning feed, got %v", ids)
	}

	// Another user sees nothing in the same feed stream.
	f.server.register(t, "other@example.com", "pw")
	otherToken := f.server.login(t, "other@example.com", "pw")
	ids, _ = streamIDs(t, f.server.get(t, fmt.Sprintf("/reader/api/0/stream/items/ids?s=feed/%d", f.feed.ID), otherToken))
	if len(ids) != 0 {
		t.Errorf("Expected empty stream for non-owner, got %v", ids)
	}
}

// Tag editing

func TestEditTagStarsArticles(t *testing.T) {
	f := setupStreamFixture(t)

	w := f.server.postForm(t, "/reader/api/0/edit-tag", f.token, url.Values{
		"i": {fmt.Sprintf("%d", f.a.ID), fmt.Sprintf("%d", f.b.ID)},
		"a": {"user/-/state/com.google/starred"},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("edit-tag failed: %d %s", w.Code, w.Body.String())
	}

	ids, _ := streamIDs(t, f.server.get(t, "/reader/api/0/stream/items/ids?s=user/-/state/com.google/starred", f.token))
	if !equalIDs(ids, idsOf(f.a, f.b, f.c)) {
		t.Errorf("Expected [a b c] starred, got %v", ids)
	}

	// Starring must not have touched b's read flag.
	idsUnread, _ := streamIDs(t, f.server.get(t, "/reader/api/0/stream/items/ids?xt=user/-/state/com.google/read", f.token))
	if !equalIDs(idsUnread, idsOf(f.a, f.c)) {
		t.Errorf("Expected read state preserved, got %v", idsUnread)
	}
}

func TestEditTagLongItemForm(t *testing.T) {
	f := setupStreamFixture(t)

	longID := fmt.Sprintf("tag:google.com,2005:reader/item/%016x", f.a.ID)
	w := f.server.postForm(t, "/reader/api/0/edit-tag", f.token, url.Values{
		"i": {longID},
		"a": {"user/-/state/com.google/read"},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("edit-tag failed: %d %s", w.Code, w.Body.String())
	}

	ids, _ := streamIDs(t, f.server.get(t, "/reader/api/0/stream/items/ids?xt=user/-/state/com.google/read", f.token))
	if !equalIDs(ids, idsOf(f.c)) {
		t.Errorf("Expected only c unread after marking a read, got %v", ids)
	}
}

func TestEditTagNoAccessibleIDs(t *testing.T) {
	f := setupStreamFixture(t)

	// A different user cannot touch the fixture's articles.
	f.server.register(t, "other@example.com", "pw")
	otherToken := f.server.login(t, "other@example.com", "pw")

	w := f.server.postForm(t, "/reader/api/0/edit-tag", otherToken, url.Values{
		"i": {fmt.Sprintf("%d", f.a.ID)},
		"a": {"user/-/state/com.google/read"},
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for inaccessible ids, got %d", w.Code)
	}

	// The owner's state is untouched.
	ids, _ := streamIDs(t, f.server.get(t, "/reader/api/0/stream/items/ids?xt=user/-/state/com.google/read", f.token))
	if !equalIDs(ids, idsOf(f.a, f.c)) {
		t.Errorf("Expected owner state unchanged, got %v", ids)
	}
}

func TestMarkAllAsRead(t *testing.T) {
	f := setupStreamFixture(t)

	w := f.server.postForm(t, "/reader/api/0/mark-all-as-read", f.token, url.Values{
		"s": {"user/-/state/com.google/reading-list"},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("mark-all-as-read failed: %d %s", w.Code, w.Body.String())
	}
	if w.Body.String() != "OK" {
		t.Errorf("Expected OK body, got %q", w.Body.String())
	}

	ids, _ := streamIDs(t, f.server.get(t, "/reader/api/0/stream/items/ids?xt=user/-/state/com.google/read", f.token))
	if len(ids) != 0 {
		t.Errorf("Expected everything read, got unread %v", ids)
	}

	// Starring survives mark-all-as-read.
	ids, _ = streamIDs(t, f.server.get(t, "/reader/api/0/stream/items/ids?s=user/-/state/com.google/starred", f.token))
	if !equalIDs(ids, idsOf(f.c)) {
		t.Errorf("Expected c still starred, got %v", ids)
	}
}

func TestMarkAllAsReadWithTimestamp(t *testing.T) {
	f := setupStreamFixture(t)

	ts := f.now.Add(-30 * time.Minute).Unix()
	w := f.server.postForm(t, "/reader/api/0/mark-all-as-read", f.token, url.Values{
		"s":  {""},
		"ts": {fmt.Sprintf("%d", ts)},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("mark-all-as-read failed: %d %s", w.Code, w.Body.String())
	}

	// Only a, newer than the cutoff, stays unread.
	ids, _ := streamIDs(t, f.server.get(t, "/reader/api/0/stream/items/ids?xt=user/-/state/com.google/read", f.token))
	if !equalIDs(ids, idsOf(f.a)) {
		t.Errorf("Expected only a unread, got %v", ids)
	}
}

// Preferences

func TestPreferenceEndpoints(t *testing.T) {
	server := newTestServer(t)
	server.register(t, "alice@example.com", "pw")
	token := server.login(t, "alice@example.com", "pw")

	w := server.get(t, "/reader/api/0/preference/list", token)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"prefs":[]`) {
		t.Errorf("Expected empty prefs list, got %d %s", w.Code, w.Body.String())
	}

	w = server.get(t, "/reader/api/0/preference/stream/list", token)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"streamprefs":{}`) {
		t.Errorf("Expected empty stream prefs, got %d %s", w.Code, w.Body.String())
	}
}
