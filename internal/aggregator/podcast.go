package aggregator

import (
	"context"
	"fmt"
	"html"
	"strconv"
	"strings"

	"aggreader/internal/database"
)

// PodcastAggregator subscribes to a podcast RSS feed and renders each
// episode with its artwork, an audio player, a download link and the
// episode notes.
type PodcastAggregator struct {
	Base
}

func NewPodcastAggregator() *PodcastAggregator {
	return &PodcastAggregator{
		Base: Base{
			meta: Metadata{
				ID:          "podcast",
				Type:        KindCustom,
				Name:        "Podcast",
				Description: "Podcast episodes with an inline audio player and show notes.",
				ExampleURL:  "https://example.com/podcast.xml",

				IdentifierType:        IdentifierURL,
				IdentifierLabel:       "Podcast feed URL",
				IdentifierPlaceholder: "https://example.com/podcast.xml",
				IdentifierEditable:    true,
			},
		},
	}
}

func (a *PodcastAggregator) FetchEntries(ctx context.Context, env *Env, feed *database.Feed, limit int) ([]Entry, error) {
	parsed, err := a.FetchParsedFeed(ctx, env, feed.Identifier)
	if err != nil {
		return nil, err
	}

	showArtwork := ""
	if parsed.Image != nil {
		showArtwork = parsed.Image.URL
	}
	if parsed.ITunesExt != nil && parsed.ITunesExt.Image != "" {
		showArtwork = parsed.ITunesExt.Image
	}

	entries := make([]Entry, 0, len(parsed.Items))
	for _, item := range parsed.Items {
		if limit > 0 && len(entries) >= limit {
			break
		}

		entry := feedItemToEntry(item)

		if len(item.Enclosures) > 0 {
			entry.MediaURL = item.Enclosures[0].URL
			entry.MediaType = item.Enclosures[0].Type
		}

		if item.ITunesExt != nil {
			if item.ITunesExt.Duration != "" {
				entry.Duration = ParseEpisodeDuration(item.ITunesExt.Duration)
			}
			if item.ITunesExt.Image != "" {
				entry.HeaderImageURL = item.ITunesExt.Image
			}
			if entry.Author == "" {
				entry.Author = item.ITunesExt.Author
			}
		}
		if entry.HeaderImageURL == "" {
			entry.HeaderImageURL = showArtwork
		}

		// Episodes without audio are announcements; keep them but they
		// render without a player.
		if entry.Identifier == "" {
			entry.Identifier = entry.MediaURL
		}

		entries = append(entries, entry)
	}

	return entries, nil
}

func (a *PodcastAggregator) BuildContent(ctx context.Context, env *Env, feed *database.Feed, entry *Entry) (string, error) {
	var sb strings.Builder

	if entry.HeaderImageURL != "" {
		fmt.Fprintf(&sb, `<p><img src="%s" alt="" class="podcast-artwork"/></p>`+"\n",
			html.EscapeString(entry.HeaderImageURL))
	}

	if entry.MediaURL != "" {
		mediaType := entry.MediaType
		if mediaType == "" {
			mediaType = "audio/mpeg"
		}
		fmt.Fprintf(&sb, `<p><audio controls preload="none"><source src="%s" type="%s"/></audio></p>`+"\n",
			html.EscapeString(entry.MediaURL), html.EscapeString(mediaType))
		fmt.Fprintf(&sb, `<p><a href="%s">Download episode</a></p>`+"\n",
			html.EscapeString(entry.MediaURL))
	}

	if entry.Duration > 0 {
		fmt.Fprintf(&sb, "<p>Duration: %s</p>\n", formatDuration(entry.Duration))
	}

	if entry.RawContent != "" {
		sb.WriteString(entry.RawContent)
	}

	return sb.String(), nil
}

// ParseEpisodeDuration accepts HH:MM:SS, MM:SS or a raw seconds value.
// Anything else yields 0.
func ParseEpisodeDuration(raw string) int {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0
	}

	parts := strings.Split(raw, ":")
	switch len(parts) {
	case 1:
		seconds, err := strconv.Atoi(parts[0])
		if err != nil || seconds < 0 {
			return 0
		}
		return seconds
	case 2:
		minutes, err1 := strconv.Atoi(parts[0])
		seconds, err2 := strconv.Atoi(parts[1])
		if err1 != nil || err2 != nil || minutes < 0 || seconds < 0 || seconds > 59 {
			return 0
		}
		return minutes*60 + seconds
	case 3:
		hours, err1 := strconv.Atoi(parts[0])
		minutes, err2 := strconv.Atoi(parts[1])
		seconds, err3 := strconv.Atoi(parts[2])
		if err1 != nil || err2 != nil || err3 != nil ||
			hours < 0 || minutes < 0 || minutes > 59 || seconds < 0 || seconds > 59 {
			return 0
		}
		return hours*3600 + minutes*60 + seconds
	}
	return 0
}

func formatDuration(seconds int) string {
	hours := seconds / 3600
	minutes := (seconds % 3600) / 60
	secs := seconds % 60
	if hours > 0 {
		return fmt.Sprintf("%d:%02d:%02d", hours, minutes, secs)
	}
	return fmt.Sprintf("%d:%02d", minutes, secs)
}
