package content

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"aggreader/internal/fetch"
)

const (
	maxImageDimension   = 600
	jpegCompressQuality = 65
)

// Fetcher is the subset of the HTTP client used for image extraction.
type Fetcher interface {
	Get(ctx context.Context, url string, opts fetch.Options) (*fetch.Result, error)
}

var tweetStatusRe = regexp.MustCompile(`(?:x\.com|twitter\.com)/[^/]+/status/(\d+)`)

// ExtractImageFromURL finds a representative image for a page and
// returns its compressed bytes plus content type. Strategy: YouTube
// URLs map to the maxresdefault thumbnail; tweet URLs go through the
// fxtwitter JSON API; anything else is fetched and scanned for
// og:image, twitter:image, then the largest <img>.
func ExtractImageFromURL(ctx context.Context, client Fetcher, pageURL string) ([]byte, string, error) {
	if videoID := ExtractYouTubeVideoID(pageURL); videoID != "" {
		thumb := fmt.Sprintf("https://img.youtube.com/vi/%s/maxresdefault.jpg", videoID)
		return fetchAndCompress(ctx, client, thumb)
	}

	if m := tweetStatusRe.FindStringSubmatch(pageURL); m != nil {
		if data, ctype, err := extractTweetImage(ctx, client, m[1]); err == nil {
			return data, ctype, nil
		}
		// Tweet lookup failed; fall through to the generic page scan.
	}

	imageURL, err := findPageImageURL(ctx, client, pageURL)
	if err != nil {
		return nil, "", err
	}
	if imageURL == "" {
		return nil, "", nil
	}
	return fetchAndCompress(ctx, client, imageURL)
}

func extractTweetImage(ctx context.Context, client Fetcher, statusID string) ([]byte, string, error) {
	apiURL := "https://api.fxtwitter.com/status/" + statusID
	result, err := client.Get(ctx, apiURL, fetch.Options{Accept: "application/json"})
	if err != nil {
		return nil, "", err
	}

	var payload struct {
		Tweet struct {
			Media struct {
				Photos []struct {
					URL string `json:"url"`
				} `json:"photos"`
			} `json:"media"`
		} `json:"tweet"`
	}
	if err := json.Unmarshal(result.Body, &payload); err != nil {
		return nil, "", fmt.Errorf("failed to decode fxtwitter response: %w", err)
	}
	if len(payload.Tweet.Media.Photos) == 0 {
		return nil, "", fmt.Errorf("tweet %s has no photos", statusID)
	}

	return fetchAndCompress(ctx, client, payload.Tweet.Media.Photos[0].URL)
}

// findPageImageURL scans a page for its most representative image URL.
func findPageImageURL(ctx context.Context, client Fetcher, pageURL string) (string, error) {
	result, err := client.Get(ctx, pageURL, fetch.Options{})
	if err != nil {
		return "", err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(result.Body))
	if err != nil {
		return "", fmt.Errorf("failed to parse page: %w", err)
	}

	for _, meta := range []string{
		`meta[property="og:image"]`,
		`meta[name="og:image"]`,
		`meta[name="twitter:image"]`,
		`meta[property="twitter:image"]`,
	} {
		if content, ok := doc.Find(meta).First().Attr("content"); ok && content != "" {
			return resolveURL(pageURL, content), nil
		}
	}

	// Fall back to the largest inline image by declared dimensions.
	var best string
	var bestArea int
	doc.Find("img[src]").Each(func(_ int, s *goquery.Selection) {
		src, _ := s.Attr("src")
		if src == "" || strings.HasPrefix(src, "data:") {
			return
		}
		area := imgArea(s)
		if area > bestArea || best == "" {
			best = src
			bestArea = area
		}
	})

	if best == "" {
		return "", nil
	}
	return resolveURL(pageURL, best), nil
}

func imgArea(s *goquery.Selection) int {
	w, _ := strconv.Atoi(s.AttrOr("width", "0"))
	h, _ := strconv.Atoi(s.AttrOr("height", "0"))
	return w * h
}

func resolveURL(base, ref string) string {
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return ref
	}
	if strings.HasPrefix(ref, "//") {
		return "https:" + ref
	}
	parsed, err := url.Parse(base)
	if err != nil {
		return ref
	}
	refURL, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return parsed.ResolveReference(refURL).String()
}

func fetchAndCompress(ctx context.Context, client Fetcher, imageURL string) ([]byte, string, error) {
	result, err := client.Get(ctx, imageURL, fetch.Options{})
	if err != nil {
		return nil, "", err
	}

	compressed, contentType, err := CompressImage(result.Body)
	if err != nil {
		// Keep the original bytes when the format is not decodable;
		// the caller stores them with the upstream content type.
		return result.Body, result.ContentType, nil
	}
	return compressed, contentType, nil
}

// CompressImage resizes the image to fit within 600x600 and re-encodes
// it as JPEG at quality 65. Decodes JPEG, PNG, GIF and WebP input.
func CompressImage(data []byte) ([]byte, string, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("failed to decode image: %w", err)
	}

	bounds := src.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	if width > maxImageDimension || height > maxImageDimension {
		scale := float64(maxImageDimension) / float64(width)
		if height > width {
			scale = float64(maxImageDimension) / float64(height)
		}
		newW := int(float64(width) * scale)
		newH := int(float64(height) * scale)
		if newW < 1 {
			newW = 1
		}
		if newH < 1 {
			newH = 1
		}

		dst := image.NewRGBA(image.Rect(0, 0, newW, newH))
		draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, bounds, draw.Over, nil)
		src = dst
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, src, &jpeg.Options{Quality: jpegCompressQuality}); err != nil {
		return nil, "", fmt.Errorf("failed to encode image: %w", err)
	}

	return buf.Bytes(), "image/jpeg", nil
}
