// Package preview fetches lightweight page metadata for link previews:
// Open Graph tags scraped from the page itself, and oEmbed records for
// video links. All lookups are bounded, validated at the boundary, and
// side-effect free.
package preview

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// ErrNotFound means the target yielded no usable metadata. Missing or
// malformed upstream fields resolve to this error, never to a
// partially-filled record.
var ErrNotFound = errors.New("preview: no metadata found")

const oembedEndpoint = "https://www.youtube.com/oembed"

// Preview is the scraped Open Graph metadata for a URL.
type Preview struct {
	URL         string `json:"url"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Image       string `json:"image,omitempty"`
	SiteName    string `json:"siteName,omitempty"`
}

// OEmbed is a validated oEmbed payload for a video URL.
type OEmbed struct {
	Title        string `json:"title"`
	AuthorName   string `json:"authorName,omitempty"`
	AuthorURL    string `json:"authorUrl,omitempty"`
	ProviderName string `json:"providerName"`
	ThumbnailURL string `json:"thumbnailUrl,omitempty"`
}

type Doer interface {
	Do(*http.Request) (*http.Response, error)
}

type Client struct {
	client    Doer
	userAgent string
	timeout   time.Duration
}

type Option func(*Client)

func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

func New(client Doer, opts ...Option) *Client {
	c := &Client{
		client:    client,
		userAgent: "Mozilla/5.0 (compatible; edge-preview/1.0)",
		timeout:   10 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Fetch scrapes og: meta tags from rawURL, falling back to the <title> tag
// when og:title is absent. A page with neither yields ErrNotFound.
func (c *Client) Fetch(ctx context.Context, rawURL string) (*Preview, error) {
	if !strings.Contains(rawURL, "://") {
		rawURL = "https://" + rawURL
	}
	target, err := url.Parse(rawURL)
	if err != nil || target.Host == "" {
		return nil, fmt.Errorf("preview: invalid url %q", rawURL)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "text/html")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("preview: upstream returned %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("preview: could not parse page: %w", err)
	}

	p := &Preview{
		URL:         target.String(),
		Title:       metaProperty(doc, "og:title"),
		Description: metaProperty(doc, "og:description"),
		Image:       metaProperty(doc, "og:image"),
		SiteName:    metaProperty(doc, "og:site_name"),
	}
	if p.Title == "" {
		p.Title = strings.TrimSpace(doc.Find("title").First().Text())
	}
	if p.Title == "" && p.Description == "" && p.Image == "" {
		return nil, ErrNotFound
	}
	return p, nil
}

func metaProperty(doc *goquery.Document, property string) string {
	sel := doc.Find(fmt.Sprintf(`meta[property=%q]`, property)).First()
	content, _ := sel.Attr("content")
	return strings.TrimSpace(content)
}

// oembedPayload mirrors the upstream JSON; fields are validated before a
// record is returned.
type oembedPayload struct {
	Title        string `json:"title"`
	AuthorName   string `json:"author_name"`
	AuthorURL    string `json:"author_url"`
	ProviderName string `json:"provider_name"`
	ThumbnailURL string `json:"thumbnail_url"`
}

// OEmbed resolves video metadata through the YouTube oEmbed endpoint. A
// payload without a title and provider is treated as not found.
func (c *Client) OEmbed(ctx context.Context, videoURL string) (*OEmbed, error) {
	if videoURL == "" {
		return nil, fmt.Errorf("preview: video url is required")
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	reqURL := oembedEndpoint + "?format=json&url=" + url.QueryEscape(videoURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	// The endpoint answers 401/404 for unlisted or unknown videos.
	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusUnauthorized {
		return nil, ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("preview: oembed returned %d", resp.StatusCode)
	}

	var payload oembedPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("preview: malformed oembed payload: %w", err)
	}
	if payload.Title == "" || payload.ProviderName == "" {
		return nil, ErrNotFound
	}

	return &OEmbed{
		Title:        payload.Title,
		AuthorName:   payload.AuthorName,
		AuthorURL:    payload.AuthorURL,
		ProviderName: payload.ProviderName,
		ThumbnailURL: payload.ThumbnailURL,
	}, nil
}
