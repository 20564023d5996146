package geocode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/Kwendataxi/kwenda-sub020/internal/models"
)

// Provider is an external geocoding service.
type Provider interface {
	ReverseGeocode(ctx context.Context, lat, lng float64) (*models.GeocodeResult, error)
	SearchPlaces(ctx context.Context, query string, near *models.Location) ([]models.PlaceSuggestion, error)
}

// HTTPProvider talks to a JSON geocoding API exposing /reverse and /search.
type HTTPProvider struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

type reverseResponse struct {
	Address   string `json:"address"`
	PlaceName string `json:"place_name"`
	PlaceID   string `json:"place_id"`
}

type searchResponse struct {
	Results []struct {
		Name    string  `json:"name"`
		Address string  `json:"address"`
		PlaceID string  `json:"place_id"`
		Lat     float64 `json:"lat"`
		Lng     float64 `json:"lng"`
	} `json:"results"`
}

func NewHTTPProvider(baseURL, apiKey string) *HTTPProvider {
	return &HTTPProvider{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (p *HTTPProvider) ReverseGeocode(ctx context.Context, lat, lng float64) (*models.GeocodeResult, error) {
	q := url.Values{}
	q.Set("lat", strconv.FormatFloat(lat, 'f', 6, 64))
	q.Set("lng", strconv.FormatFloat(lng, 'f', 6, 64))

	var res reverseResponse
	if err := p.get(ctx, "/reverse", q, &res); err != nil {
		return nil, err
	}
	if res.Address == "" {
		return nil, fmt.Errorf("%w: empty address", models.ErrProviderError)
	}
	return &models.GeocodeResult{
		Address:   res.Address,
		PlaceName: res.PlaceName,
		PlaceID:   res.PlaceID,
		Source:    models.SourceProvider,
		Accuracy:  models.AccuracyHigh,
	}, nil
}

func (p *HTTPProvider) SearchPlaces(ctx context.Context, query string, near *models.Location) ([]models.PlaceSuggestion, error) {
	q := url.Values{}
	q.Set("q", query)
	if near != nil {
		q.Set("lat", strconv.FormatFloat(near.Lat, 'f', 6, 64))
		q.Set("lng", strconv.FormatFloat(near.Lon, 'f', 6, 64))
	}

	var res searchResponse
	if err := p.get(ctx, "/search", q, &res); err != nil {
		return nil, err
	}
	places := make([]models.PlaceSuggestion, 0, len(res.Results))
	for _, r := range res.Results {
		places = append(places, models.PlaceSuggestion{
			Name:     r.Name,
			Address:  r.Address,
			PlaceID:  r.PlaceID,
			Location: models.Location{Lat: r.Lat, Lon: r.Lng},
		})
	}
	return places, nil
}

func (p *HTTPProvider) get(ctx context.Context, path string, q url.Values, out any) error {
	if p.apiKey != "" {
		q.Set("key", p.apiKey)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return classify(err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("%w: decode response: %v", models.ErrProviderError, err)
		}
		return nil
	case http.StatusNotFound:
		return fmt.Errorf("%w: no result", models.ErrProviderError)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: rate limit exceeded", models.ErrProviderError)
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: unexpected status: %d, body: %s", models.ErrProviderError, resp.StatusCode, string(body))
	}
}

// classify maps transport failures onto the provider error kinds.
func classify(err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%w: %v", models.ErrProviderTimeout, err)
	}
	return fmt.Errorf("%w: %v", models.ErrProviderError, err)
}
