// Package clients holds the HTTP clients for the two upstream peers of the
// agent: the registry (assignment database) and the telemetry gateway.
package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

var (
	// ErrSensorNotFound is returned when the registry does not know this
	// machine ID.
	ErrSensorNotFound = errors.New("clients: sensor not found")

	// ErrUnassigned is returned when the gateway rejects telemetry because
	// the sensor has no farm/zone assignment.
	ErrUnassigned = errors.New("clients: sensor not assigned")
)

// statusError reports an unexpected HTTP status from a peer.
type statusError struct {
	peer   string
	status int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("clients: %s returned status %d", e.peer, e.status)
}

func trimBaseURL(u string) string {
	return strings.TrimRight(strings.TrimSpace(u), "/")
}

func getJSON(ctx context.Context, client *http.Client, url string, out any) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer drain(resp.Body)

	if resp.StatusCode == http.StatusOK && out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("clients: decoding response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

func postJSON(ctx context.Context, client *http.Client, url string, body any, out any) (int, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return 0, fmt.Errorf("clients: encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer drain(resp.Body)

	if (resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated) && out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("clients: decoding response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

// drain consumes the remainder of a response body so the connection can be
// reused, then closes it.
func drain(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, body)
	_ = body.Close()
}
