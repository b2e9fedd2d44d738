package webrtc

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

var signalingClient = &http.Client{
	Transport: otelhttp.NewTransport(http.DefaultTransport),
	Timeout:   15 * time.Second,
}

// negotiate posts the local SDP offer to the remote endpoint, authorized by
// the ephemeral credential, and returns the answer SDP.
func negotiate(ctx context.Context, endpoint, model, ephemeralToken, offerSDP string) (string, error) {
	query := url.Values{}
	query.Set("model", model)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		endpoint+"?"+query.Encode(), strings.NewReader(offerSDP))
	if err != nil {
		return "", fmt.Errorf("failed to build signaling request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+ephemeralToken)
	req.Header.Set("Content-Type", "application/sdp")

	resp, err := signalingClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("signaling request failed: %w", err)
	}
	defer resp.Body.Close()

	answer, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read signaling response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("signaling returned status %d: %s", resp.StatusCode, answer)
	}

	return string(answer), nil
}
