package preview

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubDoer struct {
	resp *http.Response
	err  error
	seen *http.Request
}

func (s *stubDoer) Do(req *http.Request) (*http.Response, error) {
	s.seen = req
	if s.err != nil {
		return nil, s.err
	}
	return s.resp, nil
}

func htmlStub(body string) *stubDoer {
	return &stubDoer{resp: &http.Response{
		StatusCode: 200,
		Header:     http.Header{"Content-Type": []string{"text/html"}},
		Body:       io.NopCloser(strings.NewReader(body)),
	}}
}

func TestFetchOpenGraph(t *testing.T) {
	body := `<html><head>
		<meta property="og:title" content="A Page">
		<meta property="og:description" content="About things">
		<meta property="og:image" content="https://cdn.example.com/a.png">
		<meta property="og:site_name" content="Example">
		<title>fallback</title>
	</head></html>`
	c := New(htmlStub(body))

	p, err := c.Fetch(context.Background(), "example.com/page")
	require.NoError(t, err)
	assert.Equal(t, "A Page", p.Title)
	assert.Equal(t, "About things", p.Description)
	assert.Equal(t, "https://cdn.example.com/a.png", p.Image)
	assert.Equal(t, "Example", p.SiteName)
	assert.Equal(t, "https://example.com/page", p.URL)
}

func TestFetchTitleFallback(t *testing.T) {
	c := New(htmlStub(`<html><head><title> Plain Title </title></head></html>`))

	p, err := c.Fetch(context.Background(), "https://example.com")
	require.NoError(t, err)
	assert.Equal(t, "Plain Title", p.Title)
}

func TestFetchNoMetadata(t *testing.T) {
	c := New(htmlStub(`<html><body>nothing here</body></html>`))

	_, err := c.Fetch(context.Background(), "https://example.com")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFetchUpstreamError(t *testing.T) {
	stub := htmlStub("")
	stub.resp.StatusCode = 500
	c := New(stub)

	_, err := c.Fetch(context.Background(), "https://example.com")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestFetchInvalidURL(t *testing.T) {
	c := New(htmlStub(""))
	_, err := c.Fetch(context.Background(), "")
	assert.Error(t, err)
}

func jsonStub(status int, body string) *stubDoer {
	return &stubDoer{resp: &http.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(strings.NewReader(body)),
	}}
}

func TestOEmbedValid(t *testing.T) {
	stub := jsonStub(200, `{"title":"A Video","author_name":"Someone","provider_name":"YouTube","thumbnail_url":"https://i.ytimg.com/x.jpg"}`)
	c := New(stub)

	o, err := c.OEmbed(context.Background(), "https://www.youtube.com/watch?v=abc123")
	require.NoError(t, err)
	assert.Equal(t, "A Video", o.Title)
	assert.Equal(t, "Someone", o.AuthorName)
	assert.Equal(t, "YouTube", o.ProviderName)

	// the video URL must be escaped into the oembed query
	assert.Contains(t, stub.seen.URL.RawQuery, "url=https%3A%2F%2Fwww.youtube.com")
}

func TestOEmbedMissingFields(t *testing.T) {
	c := New(jsonStub(200, `{"author_name":"Someone"}`))

	_, err := c.OEmbed(context.Background(), "https://www.youtube.com/watch?v=abc123")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOEmbedUnknownVideo(t *testing.T) {
	c := New(jsonStub(404, `Not Found`))

	_, err := c.OEmbed(context.Background(), "https://www.youtube.com/watch?v=gone")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOEmbedNetworkError(t *testing.T) {
	c := New(&stubDoer{err: errors.New("dial timeout")})

	_, err := c.OEmbed(context.Background(), "https://www.youtube.com/watch?v=abc")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}
