package aggregator

import (
	"context"

	"aggreader/internal/content"
	"aggreader/internal/database"
)

// FullWebsiteAggregator follows each feed entry to its article page and
// extracts the full body, optionally through the headless browser when
// the feed configures a wait selector.
type FullWebsiteAggregator struct {
	Base
}

func NewFullWebsiteAggregator() *FullWebsiteAggregator {
	return &FullWebsiteAggregator{
		Base: Base{
			meta: Metadata{
				ID:          "full_website",
				Type:        KindCustom,
				Name:        "Full website article",
				Description: "Follows feed entries to the article page and extracts the complete text.",
				ExampleURL:  "https://example.com/rss.xml",

				IdentifierType:        IdentifierURL,
				IdentifierLabel:       "Feed URL",
				IdentifierPlaceholder: "https://example.com/rss.xml",
				IdentifierEditable:    true,

				Options: map[string]Option{
					"content_selector": {
						Type:     OptionString,
						Label:    "Content selector",
						HelpText: "CSS selector of the main article element. Falls back to common article containers.",
						Default:  "",
					},
					"render_page": {
						Type:     OptionBoolean,
						Label:    "Render with browser",
						HelpText: "Load the page in a headless browser so script-generated content is captured.",
						Default:  false,
					},
				},
			},
			ContentSelectors: []string{
				"article", "main article", ".article-content", ".entry-content",
				".post-content", "main", "#content",
			},
			FetchFullPage: true,
		},
	}
}

func (a *FullWebsiteAggregator) BuildContent(ctx context.Context, env *Env, feed *database.Feed, entry *Entry) (string, error) {
	values, _ := decodeOptions(feed)
	schema := a.meta.Options

	var pageHTML string
	var err error
	if BoolOption(values, schema, "render_page") && env.Browser != nil {
		pageHTML, err = env.Browser.RenderHTML(ctx, entry.URL, renderOptionsFor(feed, a.WaitSelector))
	} else {
		pageHTML, err = a.FetchPageHTML(ctx, env, feed, entry.URL)
	}
	if err != nil {
		return "", err
	}

	selectors := a.ContentSelectors
	if custom := StringOption(values, schema, "content_selector"); custom != "" {
		selectors = append([]string{custom}, selectors...)
	}

	return content.ExtractBySelectors(pageHTML, selectors)
}
