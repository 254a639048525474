package aggregator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"aggreader/internal/content"
	"aggreader/internal/database"
	"aggreader/internal/fetch"
)

// duplicateTitleWindow bounds the look-back for duplicate-title skips.
const duplicateTitleWindow = 7 * 24 * time.Hour

// RunOptions tune one aggregation run.
type RunOptions struct {
	// ForceRefresh bypasses the HTTP cache, disables pacing and turns
	// existing-article hits into updates.
	ForceRefresh bool
	// ArticleLimit overrides the computed fetch limit when positive.
	ArticleLimit int
	// Options override individual feed options for this run only.
	Options map[string]interface{}
}

// RunResult summarizes one aggregation run.
type RunResult struct {
	Created int
	Updated int
	Skipped int
}

// Count is the number of articles created or updated.
func (r RunResult) Count() int { return r.Created + r.Updated }

// Runner drives the shared aggregation pipeline for any aggregator.
type Runner struct {
	db  database.Database
	env *Env

	contentAgeMonths int
}

func NewRunner(db database.Database, env *Env, contentAgeMonths int) *Runner {
	if contentAgeMonths <= 0 {
		contentAgeMonths = 2
	}
	return &Runner{db: db, env: env, contentAgeMonths: contentAgeMonths}
}

// Env exposes the runner's fetch infrastructure, for callers that need
// direct page access (article reload).
func (r *Runner) Environment() *Env { return r.env }

// FeedOptions decodes a feed's stored option values, layering any
// per-run overrides on top, and validates them against the schema.
func (r *Runner) FeedOptions(agg Aggregator, feed *database.Feed, overrides map[string]interface{}) (map[string]interface{}, error) {
	values := make(map[string]interface{})
	if strings.TrimSpace(feed.Options) != "" {
		if err := json.Unmarshal([]byte(feed.Options), &values); err != nil {
			return nil, fmt.Errorf("feed %d has malformed options: %w", feed.ID, err)
		}
	}
	for key, value := range overrides {
		values[key] = value
	}

	if err := ValidateOptions(agg.Metadata().Options, values); err != nil {
		return nil, err
	}
	return values, nil
}

// Run executes the full pipeline for one feed.
func (r *Runner) Run(ctx context.Context, agg Aggregator, feed *database.Feed, opts RunOptions) (RunResult, error) {
	var result RunResult

	limit := opts.ArticleLimit
	if limit <= 0 {
		var err error
		limit, err = r.fetchLimit(feed, opts.ForceRefresh)
		if err != nil {
			return result, err
		}
	}
	if limit == 0 {
		log.Printf("feed %d (%s): daily limit reached, skipping run", feed.ID, feed.Name)
		return result, nil
	}

	entries, err := agg.FetchEntries(ctx, r.env, feed, limit)
	if err != nil {
		return result, err
	}

	now := time.Now()
	for i := range entries {
		entry := &entries[i]

		if reason := r.shouldSkip(agg, feed, entry, opts.ForceRefresh); reason != "" {
			log.Printf("feed %d (%s): skipping %q: %s", feed.ID, feed.Name, entry.Title, reason)
			result.Skipped++
			continue
		}

		created, updated, err := r.processEntry(ctx, agg, feed, entry, now, opts.ForceRefresh)
		if err != nil {
			if errors.Is(err, fetch.ErrContentFetch) {
				log.Printf("feed %d (%s): fetch failed for %q: %v", feed.ID, feed.Name, entry.Title, err)
			} else {
				log.Printf("feed %d (%s): unexpected error for %q: %v", feed.ID, feed.Name, entry.Title, err)
			}
			result.Skipped++
			continue
		}

		switch {
		case created:
			result.Created++
		case updated:
			result.Updated++
		default:
			result.Skipped++
		}
	}

	if err := r.db.UpdateFeedLastRun(feed.ID, now); err != nil {
		log.Printf("feed %d: failed to record run time: %v", feed.ID, err)
	}

	return result, nil
}

func (r *Runner) fetchLimit(feed *database.Feed, forceRefresh bool) (int, error) {
	now := time.Now().UTC()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	addedToday, err := r.db.CountArticlesCreatedSince(feed.ID, midnight)
	if err != nil {
		return 0, fmt.Errorf("failed to count today's articles for feed %d: %w", feed.ID, err)
	}

	return FetchLimit(feed.DailyLimit, addedToday, feed.LastRunAt, now, forceRefresh), nil
}

// shouldSkip applies the ordered skip rules. The returned reason is
// empty when the entry should be processed.
func (r *Runner) shouldSkip(agg Aggregator, feed *database.Feed, entry *Entry, forceRefresh bool) string {
	if reason := agg.SkipEntry(feed, entry); reason != "" {
		return reason
	}

	if term := matchLineList(feed.IgnoreTitleContains, entry.Title); term != "" {
		return fmt.Sprintf("title contains ignored term %q", term)
	}
	if term := matchLineList(feed.IgnoreContentContains, entry.RawContent); term != "" {
		return fmt.Sprintf("content contains ignored term %q", term)
	}

	if content.IsTooOld(entry.Date, r.contentAgeMonths) {
		// Starred articles are retention-locked; let a refresh through.
		starred, err := r.db.ArticleIsStarred(feed.ID, entry.Identifier)
		if err != nil {
			log.Printf("feed %d: starred check failed: %v", feed.ID, err)
		}
		if !starred {
			return fmt.Sprintf("published %s, older than %d months", entry.Date.Format("2006-01-02"), r.contentAgeMonths)
		}
	}

	if feed.SkipDuplicates && !forceRefresh {
		since := time.Now().Add(-duplicateTitleWindow)
		dup, err := r.db.HasRecentArticleTitle(feed.ID, entry.Title, since)
		if err != nil {
			log.Printf("feed %d: duplicate-title check failed: %v", feed.ID, err)
		} else if dup {
			return "duplicate title within the last 7 days"
		}
	}

	return ""
}

func matchLineList(lineList, text string) string {
	if lineList == "" || text == "" {
		return ""
	}
	lowered := strings.ToLower(text)
	for _, line := range strings.Split(lineList, "\n") {
		term := strings.TrimSpace(line)
		if term == "" {
			continue
		}
		if strings.Contains(lowered, strings.ToLower(term)) {
			return term
		}
	}
	return ""
}

func (r *Runner) processEntry(ctx context.Context, agg Aggregator, feed *database.Feed, entry *Entry, now time.Time, forceRefresh bool) (created, updated bool, err error) {
	headerImageURL := agg.ExtractHeaderImage(ctx, r.env, feed, entry)

	body, err := agg.BuildContent(ctx, r.env, feed, entry)
	if err != nil {
		return false, false, err
	}

	body, err = r.cleanAndStandardize(feed, agg.RemoveSelectors(), entry, body, headerImageURL)
	if err != nil {
		return false, false, err
	}

	article := &database.Article{
		FeedID:       feed.ID,
		Identifier:   entry.Identifier,
		Name:         entry.Title,
		Author:       entry.Author,
		Date:         entry.Date,
		RawContent:   entry.RawContent,
		Content:      body,
		IconURL:      headerImageURL,
		MediaURL:     entry.MediaURL,
		MediaType:    entry.MediaType,
		Duration:     entry.Duration,
		ThumbnailURL: entry.ThumbnailURL,
		Score:        entry.Score,
		ExternalID:   entry.ExternalID,
	}
	if feed.UseCurrentTimestamp {
		article.Date = now
	}
	if article.Date.IsZero() {
		article.Date = now
	}

	if headerImageURL == "" && feed.GenerateTitleImage && entry.URL != "" {
		data, contentType, imgErr := content.ExtractImageFromURL(ctx, r.env.Client, entry.URL)
		if imgErr != nil {
			log.Printf("feed %d: title image extraction failed for %s: %v", feed.ID, entry.URL, imgErr)
		} else if len(data) > 0 {
			article.IconData = data
			article.IconContentType = contentType
		}
	}

	inserted, err := r.db.GetOrInsertArticle(article)
	if err != nil {
		return false, false, fmt.Errorf("failed to persist article %q: %w", entry.Title, err)
	}
	if inserted {
		return true, false, nil
	}

	if forceRefresh {
		if err := r.db.UpdateArticleFields(article); err != nil {
			return false, false, fmt.Errorf("failed to update article %q: %w", entry.Title, err)
		}
		return false, true, nil
	}

	return false, false, nil
}

// cleanAndStandardize runs element removal, sanitization and the final
// formatting stage over a built article body.
func (r *Runner) cleanAndStandardize(feed *database.Feed, removeSelectors []string, entry *Entry, body, headerImageURL string) (string, error) {
	selectors := append([]string{}, removeSelectors...)
	for _, line := range strings.Split(feed.ExcludeSelectors, "\n") {
		if s := strings.TrimSpace(line); s != "" {
			selectors = append(selectors, s)
		}
	}

	if len(selectors) > 0 && body != "" {
		cleaned, err := content.RemoveElements(body, selectors, true)
		if err != nil {
			// Keep the unprocessed body rather than losing the entry.
			log.Printf("feed %d: element removal failed for %q: %v", feed.ID, entry.Title, err)
		} else {
			body = cleaned
		}
	}

	body = content.SanitizeHTML(body)

	body = content.StandardizeFormat(body, content.StandardizeOptions{
		HeaderImageURL:    headerImageURL,
		SourceURL:         entry.URL,
		SourceName:        feed.Name,
		AddFooter:         feed.AddSourceFooter,
		RegexReplacements: feed.RegexReplacements,
	})

	return body, nil
}

// RebuildArticle refetches and reprocesses a single stored article,
// refreshing raw content, sanitized content and the header image.
func (r *Runner) RebuildArticle(ctx context.Context, agg Aggregator, feed *database.Feed, article *database.Article) error {
	entry := &Entry{
		Identifier: article.Identifier,
		URL:        article.Identifier,
		Title:      article.Name,
		Author:     article.Author,
		Date:       article.Date,
		RawContent: article.RawContent,
	}
	if !strings.HasPrefix(entry.URL, "http") {
		entry.URL = ""
	}

	if entry.URL != "" {
		r.env.Client.InvalidateCache(entry.URL)
	}

	headerImageURL := agg.ExtractHeaderImage(ctx, r.env, feed, entry)

	body, err := agg.BuildContent(ctx, r.env, feed, entry)
	if err != nil {
		return err
	}
	entry.RawContent = body

	body, err = r.cleanAndStandardize(feed, agg.RemoveSelectors(), entry, body, headerImageURL)
	if err != nil {
		return err
	}

	article.RawContent = entry.RawContent
	article.Content = body
	article.IconURL = headerImageURL

	if headerImageURL == "" && feed.GenerateTitleImage && entry.URL != "" {
		data, contentType, imgErr := content.ExtractImageFromURL(ctx, r.env.Client, entry.URL)
		if imgErr == nil && len(data) > 0 {
			article.IconData = data
			article.IconContentType = contentType
		}
	}

	return r.db.UpdateArticleFields(article)
}
