package aggregator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/mmcdole/gofeed"

	"aggreader/internal/content"
	"aggreader/internal/database"
	"aggreader/internal/fetch"
)

// Kind classifies an aggregator for grouping in client UIs.
const (
	KindManaged = "managed"
	KindCustom  = "custom"
	KindSocial  = "social"
)

// Identifier kinds.
const (
	IdentifierURL    = "url"
	IdentifierString = "string"
)

// Metadata is the static description an aggregator advertises.
type Metadata struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	Name        string `json:"name"`
	Description string `json:"description"`
	ExampleURL  string `json:"url,omitempty"`

	IdentifierType        string   `json:"identifier_type"`
	IdentifierLabel       string   `json:"identifier_label"`
	IdentifierDescription string   `json:"identifier_description,omitempty"`
	IdentifierPlaceholder string   `json:"identifier_placeholder,omitempty"`
	IdentifierChoices     []string `json:"identifier_choices,omitempty"`
	IdentifierEditable    bool     `json:"identifier_editable"`

	Options map[string]Option `json:"options,omitempty"`
}

// Entry is one upstream item before it becomes an Article.
type Entry struct {
	Identifier string // dedupe key; canonical URL for URL-based sources
	URL        string
	Title      string
	Author     string
	Date       time.Time
	RawContent string

	MediaURL     string
	MediaType    string
	Duration     int
	ThumbnailURL string
	Score        int
	ExternalID   string

	// HeaderImageURL set during fetch short-circuits detection later.
	HeaderImageURL string
}

// Env bundles the shared fetch infrastructure handed to aggregators.
type Env struct {
	Client  *fetch.Client
	Browser *fetch.BrowserPool
}

// Aggregator is one source strategy. Concrete implementations embed
// Base and override only the stages that differ.
type Aggregator interface {
	Metadata() Metadata

	// FetchEntries produces at most limit entries, newest first.
	FetchEntries(ctx context.Context, env *Env, feed *database.Feed, limit int) ([]Entry, error)

	// SkipEntry applies source-specific skip terms; it runs before the
	// per-feed ignore lists. A non-empty reason means skip.
	SkipEntry(feed *database.Feed, entry *Entry) string

	// ExtractHeaderImage returns a site-specific header image URL, or
	// "" to let the generic detection run.
	ExtractHeaderImage(ctx context.Context, env *Env, feed *database.Feed, entry *Entry) string

	// BuildContent produces the article body HTML before element
	// removal and sanitization.
	BuildContent(ctx context.Context, env *Env, feed *database.Feed, entry *Entry) (string, error)

	// RemoveSelectors lists elements stripped from the built content.
	RemoveSelectors() []string
}

// Base supplies the default pipeline stages: RSS/Atom fetch via the
// shared HTTP client, title skip terms, selector-based extraction.
type Base struct {
	meta Metadata

	// ContentSelectors are tried in order against the fetched page.
	ContentSelectors []string
	// SelectorsToRemove are stripped after extraction.
	SelectorsToRemove []string
	// WaitSelector, when set, forces rendered fetches for article pages.
	WaitSelector string
	// SkipTitleTerms drop entries whose title contains a term
	// (case-insensitive).
	SkipTitleTerms []string
	// FetchFullPage switches BuildContent from feed-provided HTML to a
	// fetch of the entry URL.
	FetchFullPage bool
}

func (b *Base) Metadata() Metadata { return b.meta }

func (b *Base) RemoveSelectors() []string { return b.SelectorsToRemove }

func (b *Base) SkipEntry(feed *database.Feed, entry *Entry) string {
	title := strings.ToLower(entry.Title)
	for _, term := range b.SkipTitleTerms {
		if strings.Contains(title, strings.ToLower(term)) {
			return fmt.Sprintf("title contains skip term %q", term)
		}
	}
	return ""
}

func (b *Base) ExtractHeaderImage(ctx context.Context, env *Env, feed *database.Feed, entry *Entry) string {
	return entry.HeaderImageURL
}

// FetchEntries parses feed.Identifier as an RSS/Atom feed.
func (b *Base) FetchEntries(ctx context.Context, env *Env, feed *database.Feed, limit int) ([]Entry, error) {
	parsed, err := b.FetchParsedFeed(ctx, env, feed.Identifier)
	if err != nil {
		return nil, err
	}
	return FeedItemsToEntries(parsed, limit), nil
}

// FetchParsedFeed retrieves and parses an RSS/Atom document.
func (b *Base) FetchParsedFeed(ctx context.Context, env *Env, url string) (*gofeed.Feed, error) {
	result, err := env.Client.Get(ctx, url, fetch.Options{
		Accept: "application/rss+xml, application/atom+xml, application/xml, text/xml, */*",
	})
	if err != nil {
		return nil, err
	}

	parsed, err := gofeed.NewParser().ParseString(string(result.Body))
	if err != nil {
		return nil, fmt.Errorf("%w: parse feed %s: %v", fetch.ErrContentFetch, url, err)
	}
	return parsed, nil
}

// BuildContent either passes the feed-provided HTML through or, with
// FetchFullPage set, fetches the entry URL and extracts the main
// article element.
func (b *Base) BuildContent(ctx context.Context, env *Env, feed *database.Feed, entry *Entry) (string, error) {
	if !b.FetchFullPage {
		return entry.RawContent, nil
	}

	pageHTML, err := b.FetchPageHTML(ctx, env, feed, entry.URL)
	if err != nil {
		return "", err
	}
	return content.ExtractBySelectors(pageHTML, b.ContentSelectors)
}

// FetchPageHTML fetches an article page, using the browser pool when
// either the aggregator or the feed configures a wait selector.
func (b *Base) FetchPageHTML(ctx context.Context, env *Env, feed *database.Feed, url string) (string, error) {
	waitSelector := b.WaitSelector
	if feed != nil && feed.WaitForSelector != "" {
		waitSelector = feed.WaitForSelector
	}

	if waitSelector != "" && env.Browser != nil {
		return env.Browser.RenderHTML(ctx, url, fetch.RenderOptions{WaitSelector: waitSelector})
	}

	result, err := env.Client.Get(ctx, url, fetch.Options{})
	if err != nil {
		return "", err
	}
	return string(result.Body), nil
}

// FeedItemsToEntries maps parsed feed items to pipeline entries.
func FeedItemsToEntries(parsed *gofeed.Feed, limit int) []Entry {
	entries := make([]Entry, 0, len(parsed.Items))
	for _, item := range parsed.Items {
		if limit > 0 && len(entries) >= limit {
			break
		}
		entries = append(entries, feedItemToEntry(item))
	}
	return entries
}

func feedItemToEntry(item *gofeed.Item) Entry {
	entry := Entry{
		Identifier: item.Link,
		URL:        item.Link,
		Title:      strings.TrimSpace(item.Title),
		Date:       itemDate(item),
	}
	if entry.Identifier == "" {
		entry.Identifier = item.GUID
	}

	if item.Author != nil {
		entry.Author = item.Author.Name
	} else if len(item.Authors) > 0 {
		entry.Author = item.Authors[0].Name
	}

	if item.Content != "" {
		entry.RawContent = item.Content
	} else {
		entry.RawContent = item.Description
	}

	if item.Image != nil {
		entry.HeaderImageURL = item.Image.URL
	}

	return entry
}

func itemDate(item *gofeed.Item) time.Time {
	if item.PublishedParsed != nil {
		return *item.PublishedParsed
	}
	if item.UpdatedParsed != nil {
		return *item.UpdatedParsed
	}
	for _, raw := range []string{item.Published, item.Updated} {
		if raw == "" {
			continue
		}
		if t, err := dateparse.ParseAny(raw); err == nil {
			return t
		}
	}
	return time.Now()
}
