package content

import (
	"github.com/microcosm-cc/bluemonday"
)

// sanitizePolicy keeps a conservative allowlist of formatting tags and
// attributes. Scripts, styles, iframes, noscript and every on* handler
// are dropped.
var sanitizePolicy = buildSanitizePolicy()

func buildSanitizePolicy() *bluemonday.Policy {
	p := bluemonday.NewPolicy()

	p.AllowElements(
		"a", "abbr", "article", "aside", "audio", "b", "blockquote", "br",
		"caption", "code", "dd", "del", "details", "div", "dl", "dt", "em",
		"figcaption", "figure", "footer", "h1", "h2", "h3", "h4", "h5", "h6",
		"header", "hr", "i", "img", "ins", "li", "mark", "ol", "p", "pre",
		"q", "s", "section", "small", "source", "span", "strong", "sub",
		"summary", "sup", "table", "tbody", "td", "tfoot", "th", "thead",
		"time", "tr", "u", "ul", "video",
	)

	p.AllowAttrs("href", "title").OnElements("a")
	p.AllowAttrs("src", "alt", "title", "width", "height", "loading").OnElements("img")
	p.AllowAttrs("src", "controls", "preload", "poster").OnElements("audio", "video")
	p.AllowAttrs("src", "type").OnElements("source")
	p.AllowAttrs("datetime").OnElements("time")
	p.AllowAttrs("class").Globally()

	p.AllowStandardURLs()
	p.RequireNoFollowOnLinks(false)
	p.AllowRelativeURLs(true)

	return p
}

// SanitizeHTML removes disallowed tags and attributes from untrusted
// upstream HTML. The output never contains <script>, <style>, <iframe>,
// <noscript> or on* attributes.
func SanitizeHTML(html string) string {
	return sanitizePolicy.Sanitize(html)
}
