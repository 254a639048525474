package content

import (
	"fmt"
	"html"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

var emptyBlockTags = map[string]bool{
	"p": true, "div": true, "section": true, "article": true,
	"span": true, "figure": true, "aside": true,
}

// mediaTags inside an otherwise text-empty block keep it alive.
const mediaSelector = "img, video, audio, iframe, source, picture, embed"

// ExtractBySelectors picks the main article element from a full page.
// Selectors are tried in order; the first match wins. When nothing
// matches, the whole <body> is used. Empty block elements are dropped.
func ExtractBySelectors(pageHTML string, selectors []string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(pageHTML))
	if err != nil {
		return "", fmt.Errorf("failed to parse HTML: %w", err)
	}

	var selection *goquery.Selection
	for _, selector := range selectors {
		found := doc.Find(selector)
		if found.Length() > 0 {
			selection = found.First()
			break
		}
	}
	if selection == nil {
		selection = doc.Find("body")
		if selection.Length() == 0 {
			return pageHTML, nil
		}
	}

	dropEmptyBlocks(selection)

	out, err := selection.Html()
	if err != nil {
		return "", fmt.Errorf("failed to render extracted content: %w", err)
	}
	return strings.TrimSpace(out), nil
}

// RemoveElements deletes every node matching one of the selectors.
// With removeEmpty set, text-empty block elements are dropped as well.
func RemoveElements(fragment string, selectors []string, removeEmpty bool) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return "", fmt.Errorf("failed to parse HTML: %w", err)
	}

	body := doc.Find("body")
	for _, selector := range selectors {
		selector = strings.TrimSpace(selector)
		if selector == "" {
			continue
		}
		body.Find(selector).Remove()
	}

	if removeEmpty {
		dropEmptyBlocks(body)
	}

	out, err := body.Html()
	if err != nil {
		return "", fmt.Errorf("failed to render cleaned content: %w", err)
	}
	return strings.TrimSpace(out), nil
}

func dropEmptyBlocks(selection *goquery.Selection) {
	// Repeat until stable so emptied parents get collected too.
	for {
		removed := 0
		selection.Find("*").Each(func(_ int, s *goquery.Selection) {
			tag := goquery.NodeName(s)
			if !emptyBlockTags[tag] {
				return
			}
			if strings.TrimSpace(s.Text()) != "" {
				return
			}
			if s.Find(mediaSelector).Length() > 0 {
				return
			}
			s.Remove()
			removed++
		})
		if removed == 0 {
			return
		}
	}
}

// StandardizeOptions control the final formatting stage.
type StandardizeOptions struct {
	HeaderImageURL string
	SourceURL      string
	SourceName     string
	AddFooter      bool
	// RegexReplacements is a newline list of "pattern|replacement"
	// rules; a literal pipe is escaped as "\|".
	RegexReplacements string
}

// StandardizeFormat applies the final presentation transforms: header
// image prefix, per-feed regex replacements, and the source footer.
func StandardizeFormat(fragment string, opts StandardizeOptions) string {
	out := fragment

	if opts.RegexReplacements != "" {
		out = ApplyRegexReplacements(out, opts.RegexReplacements)
	}

	if opts.HeaderImageURL != "" && !strings.Contains(out, opts.HeaderImageURL) {
		header := fmt.Sprintf(`<img src="%s" alt="" class="header-image"/>`,
			html.EscapeString(opts.HeaderImageURL))
		out = header + "\n" + out
	}

	if opts.AddFooter && opts.SourceURL != "" {
		name := opts.SourceName
		if name == "" {
			name = opts.SourceURL
		}
		footer := fmt.Sprintf(`<p class="source-footer"><a href="%s">%s</a></p>`,
			html.EscapeString(opts.SourceURL), html.EscapeString(name))
		out = out + "\n" + footer
	}

	return out
}

// ApplyRegexReplacements runs each "pattern|replacement" line against
// the fragment. Invalid patterns are skipped; "\|" escapes a literal
// pipe inside either side.
func ApplyRegexReplacements(fragment, rules string) string {
	out := fragment
	for _, line := range strings.Split(rules, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		pattern, replacement, ok := splitReplacementRule(line)
		if !ok {
			continue
		}

		re, err := regexp.Compile(pattern)
		if err != nil {
			continue
		}
		out = re.ReplaceAllString(out, replacement)
	}
	return out
}

// splitReplacementRule splits on the first unescaped pipe.
func splitReplacementRule(rule string) (pattern, replacement string, ok bool) {
	var sb strings.Builder
	escaped := false
	for i := 0; i < len(rule); i++ {
		c := rule[i]
		switch {
		case escaped:
			if c != '|' {
				sb.WriteByte('\\')
			}
			sb.WriteByte(c)
			escaped = false
		case c == '\\':
			escaped = true
		case c == '|':
			rest := strings.ReplaceAll(rule[i+1:], `\|`, "|")
			return sb.String(), rest, true
		default:
			sb.WriteByte(c)
		}
	}
	return "", "", false
}

// IsTooOld reports whether a publication date predates the retention
// window of the given number of 30-day months.
func IsTooOld(date time.Time, months int) bool {
	if date.IsZero() || months <= 0 {
		return false
	}
	cutoff := time.Now().AddDate(0, 0, -months*30)
	return date.Before(cutoff)
}

var youtubeIDPatterns = []*regexp.Regexp{
	regexp.MustCompile(`[?&]v=([A-Za-z0-9_-]{11})`),
	regexp.MustCompile(`youtu\.be/([A-Za-z0-9_-]{11})`),
	regexp.MustCompile(`/embed/([A-Za-z0-9_-]{11})`),
	regexp.MustCompile(`/shorts/([A-Za-z0-9_-]{11})`),
}

// ExtractYouTubeVideoID pulls the 11-character video id out of any of
// the common YouTube URL shapes. Returns "" when none matches.
func ExtractYouTubeVideoID(url string) string {
	for _, re := range youtubeIDPatterns {
		if m := re.FindStringSubmatch(url); m != nil {
			return m[1]
		}
	}
	return ""
}
