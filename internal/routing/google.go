package routing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"lifeconnect/pkg/domain"
	"lifeconnect/pkg/platform/sentinel"
)

const defaultBaseURL = "https://maps.googleapis.com"

// GoogleClient calls the Google Distance Matrix API with driving mode and
// best-guess traffic for a departure time of now, matching what the matching
// flow needs: "who can actually arrive fastest, right now".
type GoogleClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

// GoogleOption configures the client.
type GoogleOption func(*GoogleClient)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(c *http.Client) GoogleOption {
	return func(g *GoogleClient) {
		g.httpClient = c
	}
}

// WithBaseURL points the client at a different endpoint. Tests use this with
// httptest servers.
func WithBaseURL(base string) GoogleOption {
	return func(g *GoogleClient) {
		g.baseURL = strings.TrimRight(base, "/")
	}
}

// NewGoogleClient constructs a Distance Matrix client.
func NewGoogleClient(apiKey string, opts ...GoogleOption) *GoogleClient {
	g := &GoogleClient{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		baseURL:    defaultBaseURL,
		apiKey:     apiKey,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// distanceMatrixResponse mirrors the subset of the provider payload the
// matcher consumes.
type distanceMatrixResponse struct {
	Status string `json:"status"`
	Rows   []struct {
		Elements []struct {
			Status   string `json:"status"`
			Duration *struct {
				Value int    `json:"value"`
				Text  string `json:"text"`
			} `json:"duration"`
			DurationInTraffic *struct {
				Value int    `json:"value"`
				Text  string `json:"text"`
			} `json:"duration_in_traffic"`
			Distance *struct {
				Text string `json:"text"`
			} `json:"distance"`
		} `json:"elements"`
	} `json:"rows"`
	ErrorMessage string `json:"error_message"`
}

// DriveTimes implements Estimator.
func (g *GoogleClient) DriveTimes(ctx context.Context, origin domain.GeoPoint, destinations []domain.GeoPoint) ([]Estimate, error) {
	if len(destinations) == 0 {
		return nil, nil
	}

	dests := make([]string, len(destinations))
	for i, d := range destinations {
		dests[i] = formatPoint(d)
	}

	params := url.Values{}
	params.Set("origins", formatPoint(origin))
	params.Set("destinations", strings.Join(dests, "|"))
	params.Set("mode", "driving")
	params.Set("departure_time", "now")
	params.Set("traffic_model", "best_guess")
	params.Set("key", g.apiKey)

	endpoint := g.baseURL + "/maps/api/distancematrix/json?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build distance matrix request: %w", err)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("distance matrix call: %w: %w", sentinel.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("distance matrix call: %w: http %d", sentinel.ErrUnavailable, resp.StatusCode)
	}

	var payload distanceMatrixResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode distance matrix response: %w", err)
	}
	if payload.Status != "OK" {
		return nil, fmt.Errorf("distance matrix status %s: %w: %s", payload.Status, sentinel.ErrUnavailable, payload.ErrorMessage)
	}
	if len(payload.Rows) == 0 || len(payload.Rows[0].Elements) != len(destinations) {
		return nil, fmt.Errorf("distance matrix returned %d elements for %d destinations", elementCount(payload), len(destinations))
	}

	estimates := make([]Estimate, len(destinations))
	for i, el := range payload.Rows[0].Elements {
		duration := el.Duration
		if el.DurationInTraffic != nil {
			duration = el.DurationInTraffic
		}
		if el.Status != "OK" || duration == nil {
			estimates[i] = Unreachable()
			continue
		}
		est := Estimate{
			DurationSeconds: duration.Value,
			DurationText:    duration.Text,
			DistanceText:    "N/A",
			Reachable:       true,
		}
		if el.Distance != nil {
			est.DistanceText = el.Distance.Text
		}
		estimates[i] = est
	}
	return estimates, nil
}

func elementCount(payload distanceMatrixResponse) int {
	if len(payload.Rows) == 0 {
		return 0
	}
	return len(payload.Rows[0].Elements)
}

func formatPoint(p domain.GeoPoint) string {
	return fmt.Sprintf("%f,%f", p.Lat, p.Lng)
}
