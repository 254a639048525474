package aggregator

import (
	"context"
	"fmt"
	"html"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"google.golang.org/api/option"
	youtube "google.golang.org/api/youtube/v3"

	"aggreader/internal/database"
	"aggreader/internal/fetch"
)

// YouTubeAggregator subscribes to a channel's uploads via the YouTube
// Data API. The identifier is a handle (@name) or a channel id (UC...).
type YouTubeAggregator struct {
	Base

	apiKey string

	mu      sync.Mutex
	service *youtube.Service
}

func NewYouTubeAggregator(apiKey string) *YouTubeAggregator {
	return &YouTubeAggregator{
		Base: Base{
			meta: Metadata{
				ID:          "youtube",
				Type:        KindSocial,
				Name:        "YouTube",
				Description: "Latest uploads of a YouTube channel.",
				ExampleURL:  "https://www.youtube.com/@example",

				IdentifierType:        IdentifierString,
				IdentifierLabel:       "Channel",
				IdentifierDescription: "Channel handle (@name) or channel id (UC...).",
				IdentifierPlaceholder: "@example",
				IdentifierEditable:    true,

				Options: map[string]Option{
					"min_duration_seconds": {
						Type:     OptionInteger,
						Label:    "Minimum duration",
						HelpText: "Skip videos shorter than this many seconds (filters Shorts). 0 disables the filter.",
						Default:  0,
						Min:      floatPtr(0),
					},
				},
			},
		},
		apiKey: apiKey,
	}
}

func (a *YouTubeAggregator) client(ctx context.Context) (*youtube.Service, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.service != nil {
		return a.service, nil
	}
	if a.apiKey == "" {
		return nil, fmt.Errorf("youtube api key not configured")
	}

	service, err := youtube.NewService(ctx, option.WithAPIKey(a.apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create youtube client: %w", err)
	}
	a.service = service
	return service, nil
}

func (a *YouTubeAggregator) FetchEntries(ctx context.Context, env *Env, feed *database.Feed, limit int) ([]Entry, error) {
	service, err := a.client(ctx)
	if err != nil {
		return nil, err
	}

	channelID, uploadsPlaylist, err := a.resolveChannel(ctx, service, feed.Identifier)
	if err != nil {
		return nil, err
	}

	videoIDs, err := a.listUploads(ctx, service, channelID, uploadsPlaylist, limit)
	if err != nil {
		return nil, err
	}
	if len(videoIDs) == 0 {
		return nil, nil
	}

	call := service.Videos.List([]string{"snippet", "contentDetails"}).
		Id(strings.Join(videoIDs, ",")).
		MaxResults(int64(len(videoIDs)))
	resp, err := call.Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("%w: youtube videos.list: %v", fetch.ErrContentFetch, err)
	}

	values, _ := decodeOptions(feed)
	minDuration := IntOption(values, a.meta.Options, "min_duration_seconds")

	entries := make([]Entry, 0, len(resp.Items))
	for _, video := range resp.Items {
		duration := parseISO8601Duration(video.ContentDetails.Duration)
		if minDuration > 0 && duration > 0 && duration < minDuration {
			continue
		}

		published, _ := time.Parse(time.RFC3339, video.Snippet.PublishedAt)
		entry := Entry{
			Identifier:   "https://www.youtube.com/watch?v=" + video.Id,
			URL:          "https://www.youtube.com/watch?v=" + video.Id,
			Title:        video.Snippet.Title,
			Author:       video.Snippet.ChannelTitle,
			Date:         published,
			RawContent:   video.Snippet.Description,
			MediaURL:     "https://www.youtube-nocookie.com/embed/" + video.Id,
			MediaType:    "video/embed",
			Duration:     duration,
			ExternalID:   video.Id,
			ThumbnailURL: bestThumbnail(video.Snippet.Thumbnails),
		}
		entry.HeaderImageURL = entry.ThumbnailURL
		entries = append(entries, entry)
	}

	return entries, nil
}

// resolveChannel maps a handle or channel id to the channel and its
// uploads playlist, falling back to search when direct lookup misses.
func (a *YouTubeAggregator) resolveChannel(ctx context.Context, service *youtube.Service, identifier string) (channelID, uploadsPlaylist string, err error) {
	identifier = strings.TrimSpace(identifier)

	call := service.Channels.List([]string{"contentDetails"})
	switch {
	case strings.HasPrefix(identifier, "@"):
		call = call.ForHandle(identifier)
	case strings.HasPrefix(identifier, "UC"):
		call = call.Id(identifier)
	default:
		call = call.ForHandle("@" + identifier)
	}

	resp, err := call.Context(ctx).Do()
	if err == nil && len(resp.Items) > 0 {
		return resp.Items[0].Id, resp.Items[0].ContentDetails.RelatedPlaylists.Uploads, nil
	}

	// Direct lookup failed; search for the channel by name.
	searchResp, searchErr := service.Search.List([]string{"snippet"}).
		Q(identifier).Type("channel").MaxResults(1).
		Context(ctx).Do()
	if searchErr != nil {
		return "", "", fmt.Errorf("%w: youtube channel lookup %q: %v", fetch.ErrContentFetch, identifier, searchErr)
	}
	if len(searchResp.Items) == 0 {
		return "", "", fmt.Errorf("%w: youtube channel %q not found", fetch.ErrContentFetch, identifier)
	}
	foundID := searchResp.Items[0].Snippet.ChannelId

	resp, err = service.Channels.List([]string{"contentDetails"}).Id(foundID).Context(ctx).Do()
	if err != nil || len(resp.Items) == 0 {
		return "", "", fmt.Errorf("%w: youtube channel %q details unavailable", fetch.ErrContentFetch, identifier)
	}
	return resp.Items[0].Id, resp.Items[0].ContentDetails.RelatedPlaylists.Uploads, nil
}

// listUploads reads the uploads playlist; when the playlist is missing
// or inaccessible it falls back to a date-ordered search.
func (a *YouTubeAggregator) listUploads(ctx context.Context, service *youtube.Service, channelID, uploadsPlaylist string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 10
	}

	if uploadsPlaylist != "" {
		resp, err := service.PlaylistItems.List([]string{"contentDetails"}).
			PlaylistId(uploadsPlaylist).MaxResults(int64(limit)).
			Context(ctx).Do()
		if err == nil {
			ids := make([]string, 0, len(resp.Items))
			for _, item := range resp.Items {
				ids = append(ids, item.ContentDetails.VideoId)
			}
			return ids, nil
		}
	}

	resp, err := service.Search.List([]string{"id"}).
		ChannelId(channelID).Type("video").Order("date").MaxResults(int64(limit)).
		Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("%w: youtube uploads for channel %s: %v", fetch.ErrContentFetch, channelID, err)
	}

	ids := make([]string, 0, len(resp.Items))
	for _, item := range resp.Items {
		if item.Id != nil && item.Id.VideoId != "" {
			ids = append(ids, item.Id.VideoId)
		}
	}
	return ids, nil
}

func bestThumbnail(thumbnails *youtube.ThumbnailDetails) string {
	if thumbnails == nil {
		return ""
	}
	for _, t := range []*youtube.Thumbnail{
		thumbnails.Maxres, thumbnails.High, thumbnails.Medium, thumbnails.Default,
	} {
		if t != nil && t.Url != "" {
			return t.Url
		}
	}
	return ""
}

// BuildContent renders the video description as paragraphs with
// clickable links.
func (a *YouTubeAggregator) BuildContent(ctx context.Context, env *Env, feed *database.Feed, entry *Entry) (string, error) {
	return descriptionToHTML(entry.RawContent), nil
}

var linkRe = regexp.MustCompile(`https?://[^\s<]+`)

func descriptionToHTML(description string) string {
	description = strings.TrimSpace(description)
	if description == "" {
		return ""
	}

	var sb strings.Builder
	for _, paragraph := range strings.Split(description, "\n\n") {
		paragraph = strings.TrimSpace(paragraph)
		if paragraph == "" {
			continue
		}
		escaped := html.EscapeString(paragraph)
		escaped = linkRe.ReplaceAllStringFunc(escaped, func(match string) string {
			return fmt.Sprintf(`<a href="%s">%s</a>`, match, match)
		})
		escaped = strings.ReplaceAll(escaped, "\n", "<br/>\n")
		sb.WriteString("<p>" + escaped + "</p>\n")
	}
	return sb.String()
}

var iso8601DurationRe = regexp.MustCompile(`^PT(?:(\d+)H)?(?:(\d+)M)?(?:(\d+)S)?$`)

// parseISO8601Duration converts the API's PT#H#M#S form to seconds.
func parseISO8601Duration(duration string) int {
	m := iso8601DurationRe.FindStringSubmatch(duration)
	if m == nil {
		return 0
	}
	hours, _ := strconv.Atoi(m[1])
	minutes, _ := strconv.Atoi(m[2])
	seconds, _ := strconv.Atoi(m[3])
	return hours*3600 + minutes*60 + seconds
}
