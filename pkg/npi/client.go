// Package npi provides a client for the NPPES NPI registry, used to
// cross-check prescriber identities in the claims store.
package npi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

const defaultBaseURL = "https://npiregistry.cms.hhs.gov/api/"

// Client looks up providers in the NPPES registry.
type Client interface {
	// Lookup fetches the registry record for a single NPI. Returns
	// (nil, nil) when the NPI is not registered.
	Lookup(ctx context.Context, npi string) (*Record, error)
}

// Record is the subset of an NPPES registry entry this tool consumes.
type Record struct {
	NPI             string
	FirstName       string
	LastName        string
	Credential      string
	TaxonomyDesc    string
	PrimaryTaxonomy bool
}

// Option configures the client.
type Option func(*client)

// WithBaseURL overrides the registry endpoint (used in tests).
func WithBaseURL(u string) Option {
	return func(c *client) {
		c.baseURL = u
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *client) {
		c.httpClient = hc
	}
}

// WithRateLimit sets the requests-per-second limit for registry calls.
func WithRateLimit(rps float64) Option {
	return func(c *client) {
		c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
}

type client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient creates a registry Client with the given options.
func NewClient(opts ...Option) Client {
	c := &client{
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		limiter:    rate.NewLimiter(5, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// registryResponse mirrors the NPPES API v2.1 response shape.
type registryResponse struct {
	ResultCount int `json:"result_count"`
	Results     []struct {
		Number string `json:"number"`
		Basic  struct {
			FirstName  string `json:"first_name"`
			LastName   string `json:"last_name"`
			Credential string `json:"credential"`
		} `json:"basic"`
		Taxonomies []struct {
			Desc    string `json:"desc"`
			Primary bool   `json:"primary"`
		} `json:"taxonomies"`
	} `json:"results"`
}

func (c *client) Lookup(ctx context.Context, npi string) (*Record, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "npi: rate limiter")
	}

	q := url.Values{}
	q.Set("version", "2.1")
	q.Set("number", npi)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "npi: build request")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, eris.Wrapf(err, "npi: lookup %s", npi)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, eris.Errorf("npi: lookup %s: unexpected status %d", npi, resp.StatusCode)
	}

	var parsed registryResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, eris.Wrapf(err, "npi: decode response for %s", npi)
	}

	if parsed.ResultCount == 0 || len(parsed.Results) == 0 {
		return nil, nil
	}

	r := parsed.Results[0]
	rec := &Record{
		NPI:        r.Number,
		FirstName:  r.Basic.FirstName,
		LastName:   r.Basic.LastName,
		Credential: r.Basic.Credential,
	}
	for _, t := range r.Taxonomies {
		if t.Primary {
			rec.TaxonomyDesc = t.Desc
			rec.PrimaryTaxonomy = true
			break
		}
	}
	if rec.TaxonomyDesc == "" && len(r.Taxonomies) > 0 {
		rec.TaxonomyDesc = r.Taxonomies[0].Desc
	}

	if rec.NPI != npi {
		return nil, eris.New(fmt.Sprintf("npi: registry returned record for %s, expected %s", rec.NPI, npi))
	}
	return rec, nil
}
