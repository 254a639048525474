package aggregator

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/mmcdole/gofeed"

	"aggreader/internal/database"
	"aggreader/internal/fetch"
)

// Helpers

func TestNormalizeSubreddit(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"golang", "golang"},
		{"r/golang", "golang"},
		{"/r/golang", "golang"},
		{"https://www.reddit.com/r/golang", "golang"},
		{"https://www.reddit.com/r/golang/", "golang"},
		{"  r/golang  ", "golang"},
	}
	for _, tt := range tests {
		if got := NormalizeSubreddit(tt.in); got != tt.want {
			t.Errorf("NormalizeSubreddit(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestParseEpisodeDuration(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"1:02:03", 3723},
		{"62:03", 3723},
		{"3723", 3723},
		{"0:30", 30},
		{"", 0},
		{"1:99", 0},
		{"1:02:61", 0},
		{"abc", 0},
		{"-5", 0},
	}
	for _, tt := range tests {
		if got := ParseEpisodeDuration(tt.in); got != tt.want {
			t.Errorf("ParseEpisodeDuration(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestParseISO8601Duration(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"PT1H2M3S", 3723},
		{"PT15M33S", 933},
		{"PT45S", 45},
		{"PT2H", 7200},
		{"P1DT2H", 0},
		{"", 0},
	}
	for _, tt := range tests {
		if got := parseISO8601Duration(tt.in); got != tt.want {
			t.Errorf("parseISO8601Duration(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestFormatDuration(t *testing.T) {
	if got := formatDuration(3723); got != "1:02:03" {
		t.Errorf("formatDuration(3723) = %q, want 1:02:03", got)
	}
	if got := formatDuration(933); got != "15:33" {
		t.Errorf("formatDuration(933) = %q, want 15:33", got)
	}
}

func TestDescriptionToHTML(t *testing.T) {
	out := descriptionToHTML("First line\nsecond line\n\nVisit https://example.com/x today")

	if strings.Count(out, "<p>") != 2 {
		t.Errorf("Expected two paragraphs, got %q", out)
	}
	if !strings.Contains(out, "<br/>") {
		t.Errorf("Expected line break within paragraph, got %q", out)
	}
	if !strings.Contains(out, `<a href="https://example.com/x">`) {
		t.Errorf("Expected URL linkified, got %q", out)
	}

	if got := descriptionToHTML("  "); got != "" {
		t.Errorf("Expected empty output for blank description, got %q", got)
	}
}

func TestIsBotAuthor(t *testing.T) {
	for _, author := range []string{"[deleted]", "AutoModerator", "RemindMeBot", "stats_bot"} {
		if !isBotAuthor(author) {
			t.Errorf("Expected %q to be treated as a bot", author)
		}
	}
	for _, author := range []string{"someuser", "robotics_fan"} {
		if isBotAuthor(author) {
			t.Errorf("Expected %q to be treated as human", author)
		}
	}
}

func TestBaseSkipEntry(t *testing.T) {
	base := &Base{SkipTitleTerms: []string{"Anzeige"}}

	if reason := base.SkipEntry(nil, &Entry{Title: "heise-Anzeige: Sonderaktion"}); reason == "" {
		t.Error("Expected skip term match")
	}
	if reason := base.SkipEntry(nil, &Entry{Title: "Regular news"}); reason != "" {
		t.Errorf("Expected no skip, got %q", reason)
	}
}

func TestFeedItemToEntryFallbacks(t *testing.T) {
	published := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
	item := &gofeed.Item{
		Title:           "  Spaced Title  ",
		GUID:            "guid-1",
		Description:     "summary",
		PublishedParsed: &published,
	}

	entry := feedItemToEntry(item)
	if entry.Identifier != "guid-1" {
		t.Errorf("Expected GUID fallback for identifier, got %q", entry.Identifier)
	}
	if entry.Title != "Spaced Title" {
		t.Errorf("Expected trimmed title, got %q", entry.Title)
	}
	if entry.RawContent != "summary" {
		t.Errorf("Expected description fallback for content, got %q", entry.RawContent)
	}
	if !entry.Date.Equal(published) {
		t.Errorf("Expected published date, got %v", entry.Date)
	}
}

func TestFeedItemToEntryParsesRawDate(t *testing.T) {
	item := &gofeed.Item{Title: "x", Link: "https://example.com/x", Published: "2025-05-01 10:00:00 UTC"}

	entry := feedItemToEntry(item)
	if entry.Date.Year() != 2025 || entry.Date.Month() != time.May {
		t.Errorf("Expected raw date parsed, got %v", entry.Date)
	}
}

// Registry

func TestRegistryGet(t *testing.T) {
	registry := NewRegistry(RegistryConfig{})

	for _, id := range []string{"rss", "full_website", "heise", "reddit", "youtube", "podcast"} {
		agg, err := registry.Get(id)
		if err != nil {
			t.Fatalf("Get(%q) failed: %v", id, err)
		}
		if agg.Metadata().ID != id {
			t.Errorf("Get(%q) returned metadata id %q", id, agg.Metadata().ID)
		}
	}

	if _, err := registry.Get("nope"); !errors.Is(err, ErrUnknownAggregator) {
		t.Errorf("Expected ErrUnknownAggregator, got %v", err)
	}
}

func TestRegistryListSorted(t *testing.T) {
	list := NewRegistry(RegistryConfig{}).List()
	if len(list) != 14 {
		t.Fatalf("Expected 14 aggregators, got %d", len(list))
	}
	for i := 1; i < len(list); i++ {
		if list[i-1].ID >= list[i].ID {
			t.Errorf("Expected sorted metadata, %q before %q", list[i-1].ID, list[i].ID)
		}
	}
}

// Runner pipeline, driven by a stub aggregator so no network is needed.

type stubAggregator struct {
	Base
	entries []Entry
}

func (s *stubAggregator) FetchEntries(ctx context.Context, env *Env, feed *database.Feed, limit int) ([]Entry, error) {
	if limit > 0 && limit < len(s.entries) {
		return append([]Entry{}, s.entries[:limit]...), nil
	}
	return append([]Entry{}, s.entries...), nil
}

func setupRunner(t *testing.T) (database.Database, *Runner) {
	t.Helper()
	db, err := database.InitDB(":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	env := &Env{Client: fetch.NewClient(fetch.Config{}, nil)}
	return db, NewRunner(db, env, 2)
}

func createRunnerFeed(t *testing.T, db database.Database, mutate func(*database.Feed)) *database.Feed {
	t.Helper()
	user := &database.User{Email: "runner@example.com", Name: "Runner"}
	if err := db.CreateUser(user); err != nil {
		t.Fatalf("Failed to create user: %v", err)
	}

	feed := &database.Feed{
		UserID:         user.ID,
		Name:           "Test Feed",
		AggregatorID:   "rss",
		Identifier:     "https://example.com/feed.xml",
		DailyLimit:     -1,
		Enabled:        true,
		SkipDuplicates: true,
	}
	if mutate != nil {
		mutate(feed)
	}
	if err := db.AddFeed(feed); err != nil {
		t.Fatalf("Failed to create feed: %v", err)
	}
	return feed
}

func stubEntries(now time.Time) []Entry {
	return []Entry{
		{Identifier: "https://example.com/a", URL: "https://example.com/a", Title: "Article A", Date: now.Add(-time.Hour), RawContent: "<p>alpha</p>"},
		{Identifier: "https://example.com/b", URL: "https://example.com/b", Title: "Article B", Date: now.Add(-2 * time.Hour), RawContent: "<p>beta</p>"},
	}
}

func TestRunnerCreatesAndDedupes(t *testing.T) {
	db, runner := setupRunner(t)
	feed := createRunnerFeed(t, db, nil)
	agg := &stubAggregator{entries: stubEntries(time.Now())}

	result, err := runner.Run(context.Background(), agg, feed, RunOptions{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.Created != 2 || result.Updated != 0 || result.Skipped != 0 {
		t.Errorf("First run: created=%d updated=%d skipped=%d, want 2/0/0",
			result.Created, result.Updated, result.Skipped)
	}

	// Same entries again: the duplicate-title rule skips them all.
	result, err = runner.Run(context.Background(), agg, feed, RunOptions{})
	if err != nil {
		t.Fatalf("Second run failed: %v", err)
	}
	if result.Created != 0 || result.Skipped != 2 {
		t.Errorf("Second run: created=%d skipped=%d, want 0/2", result.Created, result.Skipped)
	}

	articles, err := db.GetFeedArticles(feed.ID)
	if err != nil {
		t.Fatalf("GetFeedArticles failed: %v", err)
	}
	if len(articles) != 2 {
		t.Fatalf("Expected 2 stored articles, got %d", len(articles))
	}
}

func TestRunnerForceRefreshUpdates(t *testing.T) {
	db, runner := setupRunner(t)
	feed := createRunnerFeed(t, db, nil)
	agg := &stubAggregator{entries: stubEntries(time.Now())}

	if _, err := runner.Run(context.Background(), agg, feed, RunOptions{}); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	agg.entries[0].RawContent = "<p>alpha v2</p>"
	result, err := runner.Run(context.Background(), agg, feed, RunOptions{ForceRefresh: true})
	if err != nil {
		t.Fatalf("Force run failed: %v", err)
	}
	if result.Updated != 2 || result.Created != 0 {
		t.Errorf("Force run: created=%d updated=%d, want 0/2", result.Created, result.Updated)
	}

	articles, err := db.GetFeedArticles(feed.ID)
	if err != nil {
		t.Fatalf("GetFeedArticles failed: %v", err)
	}
	found := false
	for _, a := range articles {
		if a.Identifier == "https://example.com/a" && strings.Contains(a.Content, "alpha v2") {
			found = true
		}
	}
	if !found {
		t.Error("Expected force refresh to rewrite article content")
	}
}

func TestRunnerSkipRules(t *testing.T) {
	db, runner := setupRunner(t)
	feed := createRunnerFeed(t, db, func(f *database.Feed) {
		f.IgnoreTitleContains = "Anzeige\nSponsored"
		f.IgnoreContentContains = "advertorial"
	})

	now := time.Now()
	agg := &stubAggregator{entries: []Entry{
		{Identifier: "https://example.com/1", Title: "Anzeige: Angebot", Date: now, RawContent: "<p>x</p>"},
		{Identifier: "https://example.com/2", Title: "Fine", Date: now, RawContent: "<p>This Advertorial piece</p>"},
		{Identifier: "https://example.com/3", Title: "Ancient", Date: now.AddDate(0, 0, -120), RawContent: "<p>old</p>"},
		{Identifier: "https://example.com/4", Title: "Kept", Date: now, RawContent: "<p>ok</p>"},
	}}

	result, err := runner.Run(context.Background(), agg, feed, RunOptions{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.Created != 1 || result.Skipped != 3 {
		t.Errorf("Run: created=%d skipped=%d, want 1/3", result.Created, result.Skipped)
	}

	articles, err := db.GetFeedArticles(feed.ID)
	if err != nil {
		t.Fatalf("GetFeedArticles failed: %v", err)
	}
	if len(articles) != 1 || articles[0].Name != "Kept" {
		t.Errorf("Expected only the unfiltered entry stored, got %+v", articles)
	}
}

func TestRunnerRefreshesStarredOldArticle(t *testing.T) {
	db, runner := setupRunner(t)
	feed := createRunnerFeed(t, db, nil)

	// Two articles well past the content-age cutoff, one starred. The
	// starred one is retention-locked and must still accept a refresh.
	old := time.Now().AddDate(0, 0, -120)
	starredArticle := &database.Article{
		FeedID:     feed.ID,
		Identifier: "https://example.com/starred",
		Name:       "Starred",
		Date:       old,
		Content:    "<p>v1</p>",
	}
	plainArticle := &database.Article{
		FeedID:     feed.ID,
		Identifier: "https://example.com/plain",
		Name:       "Plain",
		Date:       old,
		Content:    "<p>v1</p>",
	}
	for _, article := range []*database.Article{starredArticle, plainArticle} {
		if _, err := db.GetOrInsertArticle(article); err != nil {
			t.Fatalf("Failed to insert article: %v", err)
		}
	}
	starred := true
	if err := db.BulkSetState(feed.UserID, []int{starredArticle.ID}, nil, &starred); err != nil {
		t.Fatalf("Failed to star article: %v", err)
	}

	agg := &stubAggregator{entries: []Entry{
		{Identifier: "https://example.com/starred", Title: "Starred", Date: old, RawContent: "<p>starred v2</p>"},
		{Identifier: "https://example.com/plain", Title: "Plain", Date: old, RawContent: "<p>plain v2</p>"},
	}}

	result, err := runner.Run(context.Background(), agg, feed, RunOptions{ForceRefresh: true})
	if err != nil {
		t.Fatalf("Force run failed: %v", err)
	}
	if result.Updated != 1 || result.Skipped != 1 {
		t.Errorf("Force run: updated=%d skipped=%d, want 1/1", result.Updated, result.Skipped)
	}

	articles, err := db.GetFeedArticles(feed.ID)
	if err != nil {
		t.Fatalf("GetFeedArticles failed: %v", err)
	}
	for _, a := range articles {
		switch a.Identifier {
		case "https://example.com/starred":
			if !strings.Contains(a.Content, "starred v2") {
				t.Errorf("Expected starred article refreshed, got %q", a.Content)
			}
		case "https://example.com/plain":
			if strings.Contains(a.Content, "plain v2") {
				t.Errorf("Expected unstarred old article untouched, got %q", a.Content)
			}
		}
	}
}

func TestRunnerUseCurrentTimestamp(t *testing.T) {
	db, runner := setupRunner(t)
	feed := createRunnerFeed(t, db, func(f *database.Feed) {
		f.UseCurrentTimestamp = true
	})

	published := time.Now().Add(-24 * time.Hour)
	agg := &stubAggregator{entries: []Entry{
		{Identifier: "https://example.com/ts", Title: "Stamped", Date: published, RawContent: "<p>x</p>"},
	}}

	before := time.Now().Add(-time.Minute)
	if _, err := runner.Run(context.Background(), agg, feed, RunOptions{}); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	articles, err := db.GetFeedArticles(feed.ID)
	if err != nil {
		t.Fatalf("GetFeedArticles failed: %v", err)
	}
	if len(articles) != 1 {
		t.Fatalf("Expected 1 article, got %d", len(articles))
	}
	if articles[0].Date.Before(before) {
		t.Errorf("Expected article date overwritten with run time, got %v", articles[0].Date)
	}
}

func TestRunnerDailyLimitZeroSkipsRun(t *testing.T) {
	db, runner := setupRunner(t)
	feed := createRunnerFeed(t, db, func(f *database.Feed) {
		f.DailyLimit = 0
	})
	agg := &stubAggregator{entries: stubEntries(time.Now())}

	result, err := runner.Run(context.Background(), agg, feed, RunOptions{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.Count() != 0 || result.Skipped != 0 {
		t.Errorf("Expected a no-op run, got %+v", result)
	}
}

func TestRunnerAppliesFeedOptionsAndOverrides(t *testing.T) {
	_, runner := setupRunner(t)
	registry := NewRegistry(RegistryConfig{})
	agg, err := registry.Get("reddit")
	if err != nil {
		t.Fatalf("Get reddit failed: %v", err)
	}

	feed := &database.Feed{Options: `{"listing": "top", "min_score": 50}`}
	values, err := runner.FeedOptions(agg, feed, map[string]interface{}{"min_score": float64(10)})
	if err != nil {
		t.Fatalf("FeedOptions failed: %v", err)
	}
	if values["listing"] != "top" {
		t.Errorf("Expected stored listing kept, got %v", values["listing"])
	}
	if values["min_score"] != float64(10) {
		t.Errorf("Expected override applied, got %v", values["min_score"])
	}

	feed.Options = `{"listing": "invalid-choice"}`
	if _, err := runner.FeedOptions(agg, feed, nil); err == nil {
		t.Error("Expected invalid stored option to be rejected")
	}
}
