package proxy

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotURL(t *testing.T) {
	u, _ := url.Parse("https://example.com/page?q=1")
	assert.Equal(t,
		"https://web.archive.org/web/20091201000000/https://example.com/page?q=1",
		SnapshotURL(u, "2009", "12"))
}

func TestSnapshotURLMonthDefaults(t *testing.T) {
	u, _ := url.Parse("https://example.com")
	assert.Equal(t,
		"https://web.archive.org/web/20090101000000/https://example.com",
		SnapshotURL(u, "2009", ""))
	assert.Equal(t,
		"https://web.archive.org/web/20090301000000/https://example.com",
		SnapshotURL(u, "2009", "3"))
}

func availabilityStub(body string) *stubDoer {
	return &stubDoer{responses: map[string]func(*http.Request) (*http.Response, error){
		"archive.org": func(*http.Request) (*http.Response, error) {
			return &http.Response{
				StatusCode: 200,
				Header:     http.Header{"Content-Type": []string{"application/json"}},
				Body:       io.NopCloser(strings.NewReader(body)),
			}, nil
		},
	}}
}

func TestLookupWaybackValidSnapshot(t *testing.T) {
	e := quietEngine(availabilityStub(`{"archived_snapshots":{"closest":{"available":true,"url":"https://web.archive.org/web/20200101000000/https://example.com/","timestamp":"20200101000000","status":"200"}}}`), nil)

	wb, err := e.lookupWayback(context.Background(), mustTarget(t, "https://example.com"))
	require.NoError(t, err)
	assert.Equal(t, "https://web.archive.org/web/20200101000000/https://example.com/", wb)
}

func TestLookupWaybackMissingSnapshot(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"empty object", `{"archived_snapshots":{}}`},
		{"unavailable", `{"archived_snapshots":{"closest":{"available":false,"url":"x","timestamp":"20200101000000"}}}`},
		{"no url", `{"archived_snapshots":{"closest":{"available":true,"url":"","timestamp":"20200101000000"}}}`},
		{"bad timestamp", `{"archived_snapshots":{"closest":{"available":true,"url":"x","timestamp":"2020"}}}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := quietEngine(availabilityStub(tc.body), nil)
			_, err := e.lookupWayback(context.Background(), mustTarget(t, "https://example.com"))
			assert.ErrorIs(t, err, errNoSnapshot)
		})
	}
}

func TestLookupWaybackMalformedPayload(t *testing.T) {
	e := quietEngine(availabilityStub(`not json`), nil)
	_, err := e.lookupWayback(context.Background(), mustTarget(t, "https://example.com"))
	assert.Error(t, err)
	assert.NotErrorIs(t, err, errNoSnapshot)
}
