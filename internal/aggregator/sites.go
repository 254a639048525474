package aggregator

import (
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"aggreader/internal/content"
	"aggreader/internal/database"
	"aggreader/internal/fetch"
)

// Site-specific aggregators. Each one pins the feed URL handling,
// extraction selectors and cleanup list for a single publication.

// --- Heise ---

// HeiseAggregator handles heise.de news articles, including multi-page
// articles and the optional comment section.
type HeiseAggregator struct {
	Base
}

func NewHeiseAggregator() *HeiseAggregator {
	return &HeiseAggregator{
		Base: Base{
			meta: Metadata{
				ID:          "heise",
				Type:        KindManaged,
				Name:        "Heise Online",
				Description: "News articles from heise.de with full text.",
				ExampleURL:  "https://www.heise.de/rss/heise-atom.xml",

				IdentifierType:     IdentifierURL,
				IdentifierLabel:    "Feed URL",
				IdentifierChoices:  heiseFeedChoices,
				IdentifierEditable: true,

				Options: map[string]Option{
					"include_comments": {
						Type:     OptionBoolean,
						Label:    "Include comments",
						HelpText: "Append the first page of forum comments below the article.",
						Default:  false,
					},
				},
			},
			ContentSelectors:  []string{"#meldung", ".article-content", "article"},
			SelectorsToRemove: heiseRemoveSelectors,
			SkipTitleTerms:    []string{"Anzeige", "heise+", "heise-Angebot"},
			FetchFullPage:     true,
		},
	}
}

var heiseFeedChoices = []string{
	"https://www.heise.de/rss/heise-atom.xml",
	"https://www.heise.de/rss/heise-top-atom.xml",
	"https://www.heise.de/security/rss/news-atom.xml",
}

var heiseRemoveSelectors = []string{
	"a-ad", ".ad-container", ".a-article-meta", "a-paid-content-teaser",
	".opt-in__content-container", "a-img figure figcaption a",
	".branding", ".printversion__logo",
}

// maxHeisePages bounds the multi-page traversal.
const maxHeisePages = 10

func (a *HeiseAggregator) BuildContent(ctx context.Context, env *Env, feed *database.Feed, entry *Entry) (string, error) {
	var parts []string

	pageURL := entry.URL
	for page := 0; page < maxHeisePages && pageURL != ""; page++ {
		pageHTML, err := a.FetchPageHTML(ctx, env, feed, pageURL)
		if err != nil {
			if page == 0 {
				return "", err
			}
			break
		}

		extracted, err := content.ExtractBySelectors(pageHTML, a.ContentSelectors)
		if err != nil {
			if page == 0 {
				return "", err
			}
			break
		}
		parts = append(parts, extracted)

		pageURL = heiseNextPageURL(pageHTML, pageURL)
	}

	body := strings.Join(parts, "\n")

	values, _ := decodeOptions(feed)
	if BoolOption(values, a.meta.Options, "include_comments") {
		if comments := a.fetchComments(ctx, env, feed, entry.URL); comments != "" {
			body += "\n<h3>Kommentare</h3>\n" + comments
		}
	}

	return body, nil
}

// heiseNextPageURL finds the "next page" link of a multi-page article.
func heiseNextPageURL(pageHTML, currentURL string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(pageHTML))
	if err != nil {
		return ""
	}
	href, ok := doc.Find(`a.seite_weiter, .pagination a[rel="next"], link[rel="next"]`).First().Attr("href")
	if !ok || href == "" {
		return ""
	}
	if strings.HasPrefix(href, "http") {
		return href
	}
	base := currentURL
	if idx := strings.Index(base, "?"); idx >= 0 {
		base = base[:idx]
	}
	if strings.HasPrefix(href, "?") {
		return base + href
	}
	return "https://www.heise.de" + href
}

func (a *HeiseAggregator) fetchComments(ctx context.Context, env *Env, feed *database.Feed, articleURL string) string {
	pageHTML, err := a.FetchPageHTML(ctx, env, feed, articleURL)
	if err != nil {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(pageHTML))
	if err != nil {
		return ""
	}
	forumHref, ok := doc.Find(`a[href*="/forum/"]`).First().Attr("href")
	if !ok {
		return ""
	}
	if !strings.HasPrefix(forumHref, "http") {
		forumHref = "https://www.heise.de" + forumHref
	}

	forumHTML, err := a.FetchPageHTML(ctx, env, feed, forumHref)
	if err != nil {
		return ""
	}
	comments, err := content.ExtractBySelectors(forumHTML, []string{".kommentare", ".posting_list"})
	if err != nil {
		return ""
	}
	return comments
}

// --- Merkur ---

type MerkurAggregator struct {
	Base
}

func NewMerkurAggregator() *MerkurAggregator {
	return &MerkurAggregator{
		Base: Base{
			meta: Metadata{
				ID:          "merkur",
				Type:        KindManaged,
				Name:        "Merkur",
				Description: "News articles from merkur.de with full text.",
				ExampleURL:  "https://www.merkur.de/welt/rssfeed.rdf",

				IdentifierType:     IdentifierURL,
				IdentifierLabel:    "Feed URL",
				IdentifierEditable: true,
			},
			ContentSelectors: []string{".idjs-Story", "#idjs-MainContentArea", "article"},
			SelectorsToRemove: []string{
				".id-DonaldBreadcrumb", ".id-Story-interactionBar",
				".id-StoryElement-interactionBar", ".id-Recommendation",
				"[data-id-ad]", ".id-AuthorList",
			},
			FetchFullPage: true,
		},
	}
}

// --- Tagesschau ---

// TagesschauAggregator builds articles from tagesschau.de, assembling a
// video or audio player above the text when the item carries media.
type TagesschauAggregator struct {
	Base
}

func NewTagesschauAggregator() *TagesschauAggregator {
	return &TagesschauAggregator{
		Base: Base{
			meta: Metadata{
				ID:          "tagesschau",
				Type:        KindManaged,
				Name:        "Tagesschau",
				Description: "News from tagesschau.de including embedded video and audio.",
				ExampleURL:  "https://www.tagesschau.de/xml/rss2/",

				IdentifierType:     IdentifierURL,
				IdentifierLabel:    "Feed URL",
				IdentifierEditable: true,
			},
			ContentSelectors: []string{".content-wrapper", "article", "main"},
			SelectorsToRemove: []string{
				".teaser-absatz", ".teaser-xs", ".tracking-pixel",
				".socialMedia", ".taglist", ".metablock",
			},
			FetchFullPage: true,
		},
	}
}

func (a *TagesschauAggregator) BuildContent(ctx context.Context, env *Env, feed *database.Feed, entry *Entry) (string, error) {
	pageHTML, err := a.FetchPageHTML(ctx, env, feed, entry.URL)
	if err != nil {
		return "", err
	}

	body, err := content.ExtractBySelectors(pageHTML, a.ContentSelectors)
	if err != nil {
		return "", err
	}

	if header := tagesschauMediaHeader(pageHTML, entry); header != "" {
		body = header + "\n" + body
	}

	return body, nil
}

// tagesschauMediaHeader finds the article's lead video or audio and
// renders a native player element for it.
func tagesschauMediaHeader(pageHTML string, entry *Entry) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(pageHTML))
	if err != nil {
		return ""
	}

	if src, ok := doc.Find(`video source[src], video[src]`).First().Attr("src"); ok && src != "" {
		entry.MediaURL = src
		entry.MediaType = "video/mp4"
		return fmt.Sprintf(`<video controls preload="none" src="%s"></video>`, src)
	}

	if src, ok := doc.Find(`audio source[src], audio[src]`).First().Attr("src"); ok && src != "" {
		entry.MediaURL = src
		entry.MediaType = "audio/mpeg"
		return fmt.Sprintf(`<audio controls preload="none" src="%s"></audio>`, src)
	}

	return ""
}

// --- MacTechNews ---

type MacTechNewsAggregator struct {
	Base
}

func NewMacTechNewsAggregator() *MacTechNewsAggregator {
	return &MacTechNewsAggregator{
		Base: Base{
			meta: Metadata{
				ID:          "mactechnews",
				Type:        KindManaged,
				Name:        "MacTechNews",
				Description: "Apple news from mactechnews.de with full text.",
				ExampleURL:  "https://www.mactechnews.de/news/rss.xml",

				IdentifierType:     IdentifierURL,
				IdentifierLabel:    "Feed URL",
				IdentifierEditable: false,
			},
			ContentSelectors:  []string{"#ContentText", ".article-body", "article"},
			SelectorsToRemove: []string{".ad", ".banner", ".related-articles", ".share-buttons"},
			FetchFullPage:     true,
		},
	}
}

// --- Caschys Blog ---

type CaschysAggregator struct {
	Base
}

func NewCaschysAggregator() *CaschysAggregator {
	return &CaschysAggregator{
		Base: Base{
			meta: Metadata{
				ID:          "caschys",
				Type:        KindManaged,
				Name:        "Caschys Blog",
				Description: "Tech news from stadt-bremerhaven.de with full text.",
				ExampleURL:  "https://stadt-bremerhaven.de/feed/",

				IdentifierType:     IdentifierURL,
				IdentifierLabel:    "Feed URL",
				IdentifierEditable: false,
			},
			ContentSelectors: []string{".entry-inner", ".entry-content", "article"},
			SelectorsToRemove: []string{
				".wp-embedded-content", ".avia-button-wrap", ".flattr-button",
				"[id^=snigel]", ".adsbygoogle",
			},
			SkipTitleTerms: []string{"(Anzeige)", "[Anzeige]"},
			FetchFullPage:  true,
		},
	}
}

// --- Explosm (Cyanide & Happiness) ---

// ExplosmAggregator turns the daily comic page into an article holding
// just the comic image.
type ExplosmAggregator struct {
	Base
}

func NewExplosmAggregator() *ExplosmAggregator {
	return &ExplosmAggregator{
		Base: Base{
			meta: Metadata{
				ID:          "explosm",
				Type:        KindManaged,
				Name:        "Cyanide & Happiness",
				Description: "Daily comic from explosm.net.",
				ExampleURL:  "https://explosm.net/rss.xml",

				IdentifierType:     IdentifierURL,
				IdentifierLabel:    "Feed URL",
				IdentifierEditable: false,
			},
			FetchFullPage: true,
		},
	}
}

func (a *ExplosmAggregator) BuildContent(ctx context.Context, env *Env, feed *database.Feed, entry *Entry) (string, error) {
	pageHTML, err := a.FetchPageHTML(ctx, env, feed, entry.URL)
	if err != nil {
		return "", err
	}
	return comicImageContent(pageHTML, []string{
		`img[src*="files.explosm.net/comics"]`,
		"#comic img",
		`main img`,
	})
}

// comicImageContent extracts the first matching comic image and renders
// it as the whole article body.
func comicImageContent(pageHTML string, selectors []string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(pageHTML))
	if err != nil {
		return "", fmt.Errorf("failed to parse comic page: %w", err)
	}
	for _, selector := range selectors {
		img := doc.Find(selector).First()
		if src, ok := img.Attr("src"); ok && src != "" {
			alt := img.AttrOr("alt", "")
			return fmt.Sprintf(`<p><img src="%s" alt="%s"/></p>`, src, alt), nil
		}
	}
	return "", fmt.Errorf("%w: comic image not found", fetch.ErrContentFetch)
}

// --- Dark Legacy Comics ---

type DarkLegacyAggregator struct {
	Base
}

func NewDarkLegacyAggregator() *DarkLegacyAggregator {
	return &DarkLegacyAggregator{
		Base: Base{
			meta: Metadata{
				ID:          "darklegacy",
				Type:        KindManaged,
				Name:        "Dark Legacy Comics",
				Description: "Weekly comic from darklegacycomics.com.",
				ExampleURL:  "https://www.darklegacycomics.com/feed.xml",

				IdentifierType:     IdentifierURL,
				IdentifierLabel:    "Feed URL",
				IdentifierEditable: false,
			},
			FetchFullPage: true,
		},
	}
}

func (a *DarkLegacyAggregator) BuildContent(ctx context.Context, env *Env, feed *database.Feed, entry *Entry) (string, error) {
	pageHTML, err := a.FetchPageHTML(ctx, env, feed, entry.URL)
	if err != nil {
		return "", err
	}
	return comicImageContent(pageHTML, []string{
		".comic img",
		`img[src*="comics/"]`,
	})
}

// --- MeinMMO ---

// MeinMMOAggregator extracts articles from mein-mmo.de and rewrites
// third-party embeds into plain links.
type MeinMMOAggregator struct {
	Base
}

func NewMeinMMOAggregator() *MeinMMOAggregator {
	return &MeinMMOAggregator{
		Base: Base{
			meta: Metadata{
				ID:          "meinmmo",
				Type:        KindManaged,
				Name:        "MeinMMO",
				Description: "Gaming news from mein-mmo.de with full text.",
				ExampleURL:  "https://mein-mmo.de/feed/",

				IdentifierType:     IdentifierURL,
				IdentifierLabel:    "Feed URL",
				IdentifierEditable: false,
			},
			ContentSelectors: []string{".entry-content", "article"},
			SelectorsToRemove: []string{
				".n2g-embed", ".mmo-related", ".ad-wrapper", ".newsletter-box",
			},
			FetchFullPage: true,
		},
	}
}

func (a *MeinMMOAggregator) BuildContent(ctx context.Context, env *Env, feed *database.Feed, entry *Entry) (string, error) {
	pageHTML, err := a.FetchPageHTML(ctx, env, feed, entry.URL)
	if err != nil {
		return "", err
	}

	body, err := content.ExtractBySelectors(pageHTML, a.ContentSelectors)
	if err != nil {
		return "", err
	}
	return normalizeEmbeds(body)
}

// normalizeEmbeds replaces script-driven embed containers (YouTube,
// Twitter, Reddit) with plain links so the sanitized article keeps a
// usable reference.
func normalizeEmbeds(fragment string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return fragment, nil
	}
	body := doc.Find("body")

	body.Find(`iframe[src], .embed-youtube iframe, figure.wp-block-embed`).Each(func(_ int, s *goquery.Selection) {
		src, ok := s.Attr("src")
		if !ok {
			src, ok = s.Find("iframe[src]").First().Attr("src")
		}
		if !ok || src == "" {
			s.Remove()
			return
		}
		if videoID := content.ExtractYouTubeVideoID(src); videoID != "" {
			src = "https://www.youtube.com/watch?v=" + videoID
		}
		s.ReplaceWithHtml(fmt.Sprintf(`<p><a href="%s">%s</a></p>`, src, src))
	})

	out, err := body.Html()
	if err != nil {
		return fragment, nil
	}
	return strings.TrimSpace(out), nil
}

// --- Oglaf ---

// OglafAggregator fetches the comic through the browser pool, clicking
// through the age confirmation page first.
type OglafAggregator struct {
	Base
}

func NewOglafAggregator() *OglafAggregator {
	return &OglafAggregator{
		Base: Base{
			meta: Metadata{
				ID:          "oglaf",
				Type:        KindManaged,
				Name:        "Oglaf",
				Description: "Weekly comic from oglaf.com (age-gated).",
				ExampleURL:  "https://www.oglaf.com/feeds/rss/",

				IdentifierType:     IdentifierURL,
				IdentifierLabel:    "Feed URL",
				IdentifierEditable: false,
			},
			FetchFullPage: true,
		},
	}
}

func (a *OglafAggregator) BuildContent(ctx context.Context, env *Env, feed *database.Feed, entry *Entry) (string, error) {
	var pageHTML string
	var err error

	if env.Browser != nil {
		pageHTML, err = env.Browser.RenderHTML(ctx, entry.URL, fetch.RenderOptions{
			ClickSelector: `a[href="#"], form button[type="submit"], #yes`,
			WaitSelector:  "#strip",
		})
	} else {
		pageHTML, err = a.FetchPageHTML(ctx, env, feed, entry.URL)
	}
	if err != nil {
		return "", err
	}

	return comicImageContent(pageHTML, []string{"#strip", "img#strip", ".comic img"})
}
