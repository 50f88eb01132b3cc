package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/evanmoreau/loginshield/internal/models"
)

// ipAPIClient resolves IPs against the ip-api.com JSON endpoint.
type ipAPIClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewIPAPIClient creates a GeoProvider backed by ip-api.com.
func NewIPAPIClient(baseURL string) GeoProvider {
	return &ipAPIClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

func (c *ipAPIClient) Lookup(ctx context.Context, ip string) (*models.GeoLocation, error) {
	url := fmt.Sprintf("%s/%s?fields=status,message,country,countryCode,regionName,city,zip,lat,lon,timezone,isp,org,proxy,hosting", c.baseURL, ip)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling ip-api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ip-api returned HTTP %d", resp.StatusCode)
	}

	var apiResponse struct {
		Status      string  `json:"status"`
		Message     string  `json:"message"`
		Country     string  `json:"country"`
		CountryCode string  `json:"countryCode"`
		RegionName  string  `json:"regionName"`
		City        string  `json:"city"`
		Zip         string  `json:"zip"`
		Lat         float64 `json:"lat"`
		Lon         float64 `json:"lon"`
		Timezone    string  `json:"timezone"`
		ISP         string  `json:"isp"`
		Org         string  `json:"org"`
		Proxy       bool    `json:"proxy"`
		Hosting     bool    `json:"hosting"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiResponse); err != nil {
		return nil, fmt.Errorf("decoding ip-api response: %w", err)
	}

	if apiResponse.Status != "success" {
		return nil, fmt.Errorf("ip-api returned status %q: %s", apiResponse.Status, apiResponse.Message)
	}

	return &models.GeoLocation{
		Country:     apiResponse.Country,
		CountryCode: apiResponse.CountryCode,
		Region:      apiResponse.RegionName,
		City:        apiResponse.City,
		Zip:         apiResponse.Zip,
		Latitude:    apiResponse.Lat,
		Longitude:   apiResponse.Lon,
		Timezone:    apiResponse.Timezone,
		ISP:         apiResponse.ISP,
		Org:         apiResponse.Org,
		IsProxy:     apiResponse.Proxy,
		IsHosting:   apiResponse.Hosting,
	}, nil
}
