package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const defaultProviderTimeout = 10 * time.Second

// NewProviderHTTPClient returns the instrumented client the capability
// providers share.
func NewProviderHTTPClient() *http.Client {
	return &http.Client{
		Transport: otelhttp.NewTransport(http.DefaultTransport),
		Timeout:   defaultProviderTimeout,
	}
}

type weatherParameters struct {
	Location string `json:"location" jsonschema:"description=City or place to get the weather for"`
	Unit     string `json:"unit,omitempty" jsonschema:"description=Temperature unit,enum=celsius,enum=fahrenheit"`
}

// NewWeatherTool declares the weather lookup backed by the weather provider's
// GET /weather endpoint.
func NewWeatherTool(client *http.Client, baseURL string) Tool {
	return NewTool("get_weather",
		"Get the current weather for a location. If the user does not name a location, use their current one.",
		func(ctx context.Context, parameters weatherParameters) (string, error) {
			query := url.Values{}
			query.Set("location", parameters.Location)
			if parameters.Unit != "" {
				query.Set("unit", parameters.Unit)
			}

			return callProvider(ctx, client, http.MethodGet, baseURL+"/weather?"+query.Encode(), nil)
		})
}

type searchParameters struct {
	Query      string `json:"query" jsonschema:"description=What to search the web for"`
	NumResults int    `json:"num_results,omitempty" jsonschema:"description=How many results to return"`
}

type searchRequest struct {
	Query      string `json:"query"`
	NumResults int    `json:"num_results"`
}

// NewSearchTool declares the web search backed by the search provider's
// POST /search endpoint.
func NewSearchTool(client *http.Client, baseURL string) Tool {
	return NewTool("web_search",
		"Search the web for current information",
		func(ctx context.Context, parameters searchParameters) (string, error) {
			numResults := parameters.NumResults
			if numResults <= 0 {
				numResults = 5
			}

			body, err := json.Marshal(searchRequest{Query: parameters.Query, NumResults: numResults})
			if err != nil {
				return "", fmt.Errorf("failed to marshal search request: %w", err)
			}

			return callProvider(ctx, client, http.MethodPost, baseURL+"/search", body)
		})
}

type timeParameters struct {
	Timezone string `json:"timezone,omitempty" jsonschema:"description=IANA timezone name like America/Chicago; defaults to the user's local time"`
}

// NewTimeTool declares the time lookup. It is computed from the wall clock,
// no provider round-trip involved.
func NewTimeTool(now func() time.Time) Tool {
	if now == nil {
		now = time.Now
	}

	return NewTool("get_time",
		"Get the current date and time, optionally in a specific timezone",
		func(_ context.Context, parameters timeParameters) (string, error) {
			current := now()
			if parameters.Timezone != "" {
				location, err := time.LoadLocation(parameters.Timezone)
				if err != nil {
					return "", fmt.Errorf("unknown timezone %q: %w", parameters.Timezone, err)
				}
				current = current.In(location)
			}

			result, err := json.Marshal(map[string]string{
				"time":     current.Format(time.RFC3339),
				"weekday":  current.Weekday().String(),
				"timezone": current.Location().String(),
			})
			if err != nil {
				return "", fmt.Errorf("failed to marshal time result: %w", err)
			}
			return string(result), nil
		})
}

type memoryParameters struct {
	MemoryType string `json:"memoryType" jsonschema:"description=Kind of fact being stored,enum=preference,enum=fact,enum=event"`
	Content    string `json:"content" jsonschema:"description=The fact to remember, phrased in third person"`
	Importance int    `json:"importance,omitempty" jsonschema:"description=Importance from 1 to 5"`
}

// NewMemoryTool declares the durable-memory write backed by the memory
// provider's POST /memories endpoint.
func NewMemoryTool(client *http.Client, baseURL string) Tool {
	return NewTool("remember",
		"Persist a personal fact the user disclosed so future conversations can use it",
		func(ctx context.Context, parameters memoryParameters) (string, error) {
			body, err := json.Marshal(parameters)
			if err != nil {
				return "", fmt.Errorf("failed to marshal memory request: %w", err)
			}

			return callProvider(ctx, client, http.MethodPost, baseURL+"/memories", body)
		})
}

// DefaultRegistry assembles the standard capability set against one backend
// base URL.
func DefaultRegistry(client *http.Client, baseURL string) *Registry {
	if client == nil {
		client = NewProviderHTTPClient()
	}

	return NewRegistry(
		NewWeatherTool(client, baseURL),
		NewSearchTool(client, baseURL),
		NewTimeTool(nil),
		NewMemoryTool(client, baseURL),
	)
}

func callProvider(ctx context.Context, client *http.Client, method, url string, body []byte) (string, error) {
	ctx, span := tracer.Start(ctx, "call tool provider")
	defer span.End()
	span.SetAttributes(attribute.String("provider.url", url))

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return "", fmt.Errorf("failed to build provider request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(req)
	if err != nil {
		err = fmt.Errorf("provider request failed: %w", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		err = fmt.Errorf("failed to read provider response: %w", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		err = fmt.Errorf("provider returned status %d: %s", resp.StatusCode, payload)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	return string(payload), nil
}
