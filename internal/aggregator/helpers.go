package aggregator

import (
	"encoding/json"
	"strings"

	"aggreader/internal/database"
	"aggreader/internal/fetch"
)

// decodeOptions reads a feed's stored option values without schema
// validation. Malformed JSON yields an empty map; validation happens
// once per run in the Runner.
func decodeOptions(feed *database.Feed) (map[string]interface{}, error) {
	values := make(map[string]interface{})
	if strings.TrimSpace(feed.Options) == "" {
		return values, nil
	}
	err := json.Unmarshal([]byte(feed.Options), &values)
	return values, err
}

// renderOptionsFor builds browser render options, preferring the feed's
// wait selector over the aggregator default.
func renderOptionsFor(feed *database.Feed, defaultWaitSelector string) fetch.RenderOptions {
	waitSelector := defaultWaitSelector
	if feed != nil && feed.WaitForSelector != "" {
		waitSelector = feed.WaitForSelector
	}
	return fetch.RenderOptions{WaitSelector: waitSelector}
}
