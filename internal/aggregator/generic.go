package aggregator

// GenericAggregator subscribes to any RSS/Atom feed and uses the HTML
// the feed itself provides. No page fetches beyond the feed document.
type GenericAggregator struct {
	Base
}

func NewGenericAggregator() *GenericAggregator {
	return &GenericAggregator{
		Base: Base{
			meta: Metadata{
				ID:          "rss",
				Type:        KindCustom,
				Name:        "RSS / Atom feed",
				Description: "Any standard RSS or Atom feed. Article content comes from the feed entries themselves.",
				ExampleURL:  "https://example.com/rss.xml",

				IdentifierType:        IdentifierURL,
				IdentifierLabel:       "Feed URL",
				IdentifierPlaceholder: "https://example.com/rss.xml",
				IdentifierEditable:    true,
			},
		},
	}
}
