package aggregator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"regexp"
	"strings"
	"time"

	"github.com/yuin/goldmark"

	"aggreader/internal/database"
	"aggreader/internal/fetch"
)

// RedditAggregator turns a subreddit listing into articles. It talks to
// the public JSON API; API credentials, when configured, enable the
// best-effort subreddit existence pre-check at subscribe time.
type RedditAggregator struct {
	Base

	clientID     string
	clientSecret string
}

func NewRedditAggregator(clientID, clientSecret string) *RedditAggregator {
	return &RedditAggregator{
		Base: Base{
			meta: Metadata{
				ID:          "reddit",
				Type:        KindSocial,
				Name:        "Reddit",
				Description: "Posts from a subreddit, including selftext, link posts and galleries.",
				ExampleURL:  "https://www.reddit.com/r/golang",

				IdentifierType:        IdentifierString,
				IdentifierLabel:       "Subreddit",
				IdentifierDescription: "Subreddit name, with or without the r/ prefix.",
				IdentifierPlaceholder: "r/golang",
				IdentifierEditable:    true,

				Options: map[string]Option{
					"listing": {
						Type:    OptionChoice,
						Label:   "Listing",
						Default: "hot",
						Choices: []string{"hot", "new", "top"},
					},
					"min_score": {
						Type:     OptionInteger,
						Label:    "Minimum score",
						HelpText: "Skip posts below this score.",
						Default:  0,
						Min:      floatPtr(0),
					},
					"comment_limit": {
						Type:     OptionInteger,
						Label:    "Comments",
						HelpText: "Number of top comments to append. 0 disables comments.",
						Default:  0,
						Min:      floatPtr(0),
						Max:      floatPtr(50),
					},
					"include_stickied": {
						Type:    OptionBoolean,
						Label:   "Include stickied posts",
						Default: false,
					},
				},
			},
		},
		clientID:     clientID,
		clientSecret: clientSecret,
	}
}

var subredditURLRe = regexp.MustCompile(`reddit\.com/r/([A-Za-z0-9_]+)`)

// NormalizeSubreddit reduces "r/x", "/r/x" or a full reddit URL to the
// bare subreddit name.
func NormalizeSubreddit(identifier string) string {
	identifier = strings.TrimSpace(identifier)
	if m := subredditURLRe.FindStringSubmatch(identifier); m != nil {
		return m[1]
	}
	identifier = strings.TrimPrefix(identifier, "/")
	identifier = strings.TrimPrefix(identifier, "r/")
	return strings.Trim(identifier, "/")
}

// HasCredentials reports whether API credentials were configured. The
// subscribe-time existence check is skipped without them.
func (a *RedditAggregator) HasCredentials() bool {
	return a.clientID != "" && a.clientSecret != ""
}

// CheckSubredditExists probes the subreddit's about endpoint. A fetch
// error (404 included) means the subreddit is unknown or private.
func (a *RedditAggregator) CheckSubredditExists(ctx context.Context, env *Env, identifier string) error {
	sub := NormalizeSubreddit(identifier)
	if sub == "" {
		return fmt.Errorf("empty subreddit name")
	}
	url := fmt.Sprintf("https://www.reddit.com/r/%s/about.json?raw_json=1", sub)
	_, err := env.Client.Get(ctx, url, fetch.Options{Accept: "application/json"})
	return err
}

type redditPost struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Author      string  `json:"author"`
	Permalink   string  `json:"permalink"`
	URL         string  `json:"url"`
	Selftext    string  `json:"selftext"`
	CreatedUTC  float64 `json:"created_utc"`
	Score       int     `json:"score"`
	Stickied    bool    `json:"stickied"`
	IsGallery   bool    `json:"is_gallery"`
	Thumbnail   string  `json:"thumbnail"`
	PostHint    string  `json:"post_hint"`
	GalleryData struct {
		Items []struct {
			MediaID string `json:"media_id"`
		} `json:"items"`
	} `json:"gallery_data"`
	MediaMetadata map[string]struct {
		S struct {
			U string `json:"u"`
		} `json:"s"`
	} `json:"media_metadata"`
}

type redditListing struct {
	Data struct {
		Children []struct {
			Data redditPost `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

func (a *RedditAggregator) FetchEntries(ctx context.Context, env *Env, feed *database.Feed, limit int) ([]Entry, error) {
	sub := NormalizeSubreddit(feed.Identifier)
	if sub == "" {
		return nil, fmt.Errorf("feed %d has no usable subreddit identifier", feed.ID)
	}

	values, _ := decodeOptions(feed)
	listing := StringOption(values, a.meta.Options, "listing")
	if listing == "" {
		listing = "hot"
	}
	minScore := IntOption(values, a.meta.Options, "min_score")
	includeStickied := BoolOption(values, a.meta.Options, "include_stickied")

	// Over-fetch a little so score and stickied filters still fill the
	// requested page.
	fetchCount := limit + 10
	url := fmt.Sprintf("https://www.reddit.com/r/%s/%s.json?limit=%d&raw_json=1", sub, listing, fetchCount)
	result, err := env.Client.Get(ctx, url, fetch.Options{Accept: "application/json"})
	if err != nil {
		return nil, err
	}

	var parsed redditListing
	if err := json.Unmarshal(result.Body, &parsed); err != nil {
		return nil, fmt.Errorf("%w: decode r/%s listing: %v", fetch.ErrContentFetch, sub, err)
	}

	entries := make([]Entry, 0, limit)
	for _, child := range parsed.Data.Children {
		post := child.Data
		if post.Stickied && !includeStickied {
			continue
		}
		if post.Score < minScore {
			continue
		}
		if limit > 0 && len(entries) >= limit {
			break
		}

		permalink := "https://www.reddit.com" + post.Permalink
		entry := Entry{
			Identifier: permalink,
			URL:        permalink,
			Title:      post.Title,
			Author:     post.Author,
			Date:       time.Unix(int64(post.CreatedUTC), 0).UTC(),
			Score:      post.Score,
			ExternalID: post.ID,
			RawContent: post.Selftext,
		}
		if post.Thumbnail != "" && strings.HasPrefix(post.Thumbnail, "http") {
			entry.ThumbnailURL = post.Thumbnail
		}
		// Stash the post for BuildContent; the listing already carries
		// everything except comments.
		entry.RawContent = marshalPost(post)
		entries = append(entries, entry)
	}

	return entries, nil
}

func marshalPost(post redditPost) string {
	data, err := json.Marshal(post)
	if err != nil {
		return ""
	}
	return string(data)
}

func (a *RedditAggregator) BuildContent(ctx context.Context, env *Env, feed *database.Feed, entry *Entry) (string, error) {
	var post redditPost
	if err := json.Unmarshal([]byte(entry.RawContent), &post); err != nil {
		// Reload path stores plain HTML rather than the listing blob.
		return entry.RawContent, nil
	}

	var parts []string

	switch {
	case post.Selftext != "":
		parts = append(parts, markdownToHTML(post.Selftext))
	case post.IsGallery:
		parts = append(parts, galleryHTML(post))
	case post.URL != "" && post.URL != entry.URL:
		if isImageURL(post.URL) {
			parts = append(parts, fmt.Sprintf(`<p><img src="%s" alt=""/></p>`, post.URL))
		} else {
			parts = append(parts, fmt.Sprintf(`<p><a href="%s">%s</a></p>`, post.URL, html.EscapeString(post.URL)))
		}
	}

	values, _ := decodeOptions(feed)
	commentLimit := IntOption(values, a.meta.Options, "comment_limit")
	if commentLimit > 0 {
		if comments := a.fetchComments(ctx, env, post.ID, commentLimit); comments != "" {
			parts = append(parts, "<h3>Comments</h3>", comments)
		}
	}

	if len(parts) == 0 {
		parts = append(parts, fmt.Sprintf(`<p><a href="%s">%s</a></p>`, entry.URL, html.EscapeString(entry.Title)))
	}

	// Persist the rendered body as raw content, not the listing blob.
	body := strings.Join(parts, "\n")
	entry.RawContent = body
	return body, nil
}

func galleryHTML(post redditPost) string {
	var sb strings.Builder
	for _, item := range post.GalleryData.Items {
		meta, ok := post.MediaMetadata[item.MediaID]
		if !ok || meta.S.U == "" {
			continue
		}
		src := strings.ReplaceAll(meta.S.U, "&amp;", "&")
		fmt.Fprintf(&sb, `<p><img src="%s" alt=""/></p>`+"\n", src)
	}
	return sb.String()
}

func isImageURL(url string) bool {
	lowered := strings.ToLower(url)
	for _, ext := range []string{".jpg", ".jpeg", ".png", ".gif", ".webp"} {
		if strings.HasSuffix(lowered, ext) {
			return true
		}
	}
	return false
}

type redditComment struct {
	Author string `json:"author"`
	Body   string `json:"body"`
	Score  int    `json:"score"`
}

// fetchComments returns the top comments rendered as blockquotes,
// skipping bot accounts.
func (a *RedditAggregator) fetchComments(ctx context.Context, env *Env, postID string, limit int) string {
	url := fmt.Sprintf("https://www.reddit.com/comments/%s.json?limit=%d&raw_json=1", postID, limit+10)
	result, err := env.Client.Get(ctx, url, fetch.Options{Accept: "application/json"})
	if err != nil {
		return ""
	}

	// The comments endpoint returns a two-element array: the post
	// listing, then the comment listing.
	var listings []struct {
		Data struct {
			Children []struct {
				Kind string        `json:"kind"`
				Data redditComment `json:"data"`
			} `json:"children"`
		} `json:"data"`
	}
	if err := json.Unmarshal(result.Body, &listings); err != nil || len(listings) < 2 {
		return ""
	}

	var sb strings.Builder
	count := 0
	for _, child := range listings[1].Data.Children {
		if child.Kind != "t1" {
			continue
		}
		comment := child.Data
		if isBotAuthor(comment.Author) || comment.Body == "" {
			continue
		}
		fmt.Fprintf(&sb, "<blockquote><p><strong>%s</strong></p>\n%s</blockquote>\n",
			html.EscapeString(comment.Author), markdownToHTML(comment.Body))
		count++
		if count >= limit {
			break
		}
	}
	return sb.String()
}

func isBotAuthor(author string) bool {
	lowered := strings.ToLower(author)
	return author == "[deleted]" ||
		lowered == "automoderator" ||
		strings.HasSuffix(lowered, "bot") ||
		strings.HasSuffix(lowered, "_bot")
}

func markdownToHTML(markdown string) string {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(markdown), &buf); err != nil {
		return "<p>" + html.EscapeString(markdown) + "</p>"
	}
	return buf.String()
}
