package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
)

const (
	waybackSnapshotBase  = "https://web.archive.org/web/"
	waybackAvailablebase = "https://archive.org/wayback/available"
)

var errNoSnapshot = errors.New("no archived snapshot")

// timestamps from the availability API use the CDX 14-digit form
// YYYYMMDDhhmmss.
var cdxTimestampRe = regexp.MustCompile(`^\d{14}$`)

// archival dates are interpolated into snapshot URLs and cache keys, so
// they are held to strict shapes at the boundary.
var (
	archiveYearRe  = regexp.MustCompile(`^\d{4}$`)
	archiveMonthRe = regexp.MustCompile(`^(0?[1-9]|1[0-2])$`)
)

// SnapshotURL rewrites target to the archival capture closest to the given
// year and month. Month defaults to January.
func SnapshotURL(target *url.URL, year, month string) string {
	if month == "" {
		month = "01"
	}
	if len(month) == 1 {
		month = "0" + month
	}
	return fmt.Sprintf("%s%s%s01000000/%s", waybackSnapshotBase, year, month, target.String())
}

// availability is the upstream payload, modeled with optional fields so a
// missing or malformed snapshot decodes to an explicit not-found rather
// than zero values propagating silently.
type availability struct {
	ArchivedSnapshots struct {
		Closest *closestSnapshot `json:"closest"`
	} `json:"archived_snapshots"`
}

type closestSnapshot struct {
	Available bool   `json:"available"`
	URL       string `json:"url"`
	Timestamp string `json:"timestamp"`
	Status    string `json:"status"`
}

func (s *closestSnapshot) valid() bool {
	return s != nil && s.Available && s.URL != "" && cdxTimestampRe.MatchString(s.Timestamp)
}

// lookupWayback asks the availability API for the closest capture of
// target. It validates the payload at the boundary: any missing field is
// errNoSnapshot, not a partially-filled record.
func (e *Engine) lookupWayback(ctx context.Context, target *url.URL) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, e.checkTimeout)
	defer cancel()

	reqURL := waybackAvailablebase + "?url=" + url.QueryEscape(target.String())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("availability lookup returned %d", resp.StatusCode)
	}

	var payload availability
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("malformed availability payload: %w", err)
	}
	if !payload.ArchivedSnapshots.Closest.valid() {
		return "", errNoSnapshot
	}
	return payload.ArchivedSnapshots.Closest.URL, nil
}
