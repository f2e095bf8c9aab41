// Package match implements the prescriber matching engine: given
// medication search terms, an origin zip, and a radius, it returns every
// prescriber with claims history for ALL requested medications within
// range, ranked by distance.
package match

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/med-connect/prescriber-cli/internal/alias"
	"github.com/med-connect/prescriber-cli/internal/claims"
)

// defaultMaxResults caps the result set. A protective limit, not a
// pagination contract.
const defaultMaxResults = 200

var zipPattern = regexp.MustCompile(`^\d{5}$`)

// Store is the slice of the claims store the engine consumes.
type Store interface {
	ResolveZip(ctx context.Context, zip string) (*claims.Geocode, error)
	FetchCandidates(ctx context.Context, pattern string) ([]claims.CandidateRow, error)
	LogSearch(ctx context.Context, entry claims.SearchLog) error
}

// Request is one search invocation. MedicationNames are free-text terms;
// the engine resolves them through the alias table before matching.
type Request struct {
	MedicationNames []string `json:"medicationNames"`
	Zip             string   `json:"zipcode"`
	RadiusMiles     float64  `json:"radius"`
}

// Result is one qualifying prescriber.
type Result struct {
	NPI                string   `json:"npi"`
	PrescriberName     string   `json:"prescriberName"`
	Credentials        string   `json:"credentials,omitempty"`
	Specialization     string   `json:"specialization,omitempty"`
	TaxonomyClass      string   `json:"taxonomyClass,omitempty"`
	Address            string   `json:"address"`
	Zipcode            string   `json:"zipcode"`
	PhoneNumber        string   `json:"phoneNumber,omitempty"`
	MatchedMedications []string `json:"matchedMedications"`
	TotalClaims        int64    `json:"totalClaims"`
	ConfidenceScore    float64  `json:"confidenceScore"`
	Distance           float64  `json:"distance"`
}

// Response is a successful search outcome. Zero results is a valid
// response, with Message explaining it.
type Response struct {
	Results []Result `json:"results"`
	Message string   `json:"message,omitempty"`
}

// Engine runs prescriber searches. It is stateless per invocation and
// safe for concurrent use; the alias table is read-only after startup.
type Engine struct {
	resolver   *alias.Resolver
	store      Store
	maxResults int
}

// Option configures an Engine.
type Option func(*Engine)

// WithMaxResults overrides the result cap.
func WithMaxResults(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxResults = n
		}
	}
}

// NewEngine creates an Engine backed by the given alias resolver and
// claims store.
func NewEngine(resolver *alias.Resolver, store Store, opts ...Option) *Engine {
	e := &Engine{
		resolver:   resolver,
		store:      store,
		maxResults: defaultMaxResults,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// aggregate accumulates one prescriber's candidate rows.
type aggregate struct {
	first       claims.CandidateRow
	matched     map[string]string // lowercased canonical -> display form
	totalClaims int64
}

// Search executes one search: validate, geocode the origin, fetch
// candidate rows per canonical medication, aggregate by NPI, apply the
// ALL-match and radius filters, and rank by distance.
func (e *Engine) Search(ctx context.Context, req Request) (*Response, error) {
	started := time.Now()

	canonical := e.resolver.Resolve(req.MedicationNames)
	if len(canonical) == 0 {
		return nil, validationErr("medicationNames", "at least one medication is required")
	}
	if !zipPattern.MatchString(req.Zip) {
		return nil, validationErr("zipcode", "zip code must be exactly 5 digits")
	}
	if req.RadiusMiles <= 0 {
		return nil, validationErr("radius", "radius must be a positive number of miles")
	}

	origin, err := e.store.ResolveZip(ctx, req.Zip)
	if err != nil {
		switch {
		case eris.Is(err, claims.ErrZipNotFound):
			return nil, notFoundErr(fmt.Sprintf("no location data for zipcode %s", req.Zip), err)
		case eris.Is(err, claims.ErrBadCoordinates):
			zap.L().Error("geocode row has unusable coordinates",
				zap.String("zip", req.Zip),
				zap.Error(err),
			)
			return nil, dataIntegrityErr(fmt.Sprintf("location data for zipcode %s is invalid", req.Zip), err)
		default:
			zap.L().Error("zip geocode lookup failed", zap.String("zip", req.Zip), zap.Error(err))
			return nil, storeErr("search failed, try again", err)
		}
	}

	rows, err := e.fetchAll(ctx, canonical)
	if err != nil {
		zap.L().Error("candidate fetch failed",
			zap.Strings("medications", canonical),
			zap.Error(err),
		)
		return nil, storeErr("search failed, try again", err)
	}

	results := e.rank(canonical, origin, req.RadiusMiles, rows)

	resp := &Response{Results: results}
	if len(results) == 0 {
		resp.Message = fmt.Sprintf(
			"no prescribers found with claims for all requested medications within %.1f miles of %s",
			req.RadiusMiles, req.Zip,
		)
	}

	e.logSearch(ctx, canonical, req, len(results), time.Since(started))

	return resp, nil
}

// taggedRows pairs candidate rows with the canonical medication whose
// pattern fetched them, so the ALL-match filter can count distinct
// requested medications rather than raw drug-name variants.
type taggedRows struct {
	medication string
	rows       []claims.CandidateRow
}

// fetchAll runs one candidate fetch per canonical medication. Fetches run
// concurrently but results are recombined in request order so downstream
// aggregation order stays deterministic.
func (e *Engine) fetchAll(ctx context.Context, canonical []string) ([]taggedRows, error) {
	out := make([]taggedRows, len(canonical))

	g, gctx := errgroup.WithContext(ctx)
	for i, med := range canonical {
		g.Go(func() error {
			rows, err := e.store.FetchCandidates(gctx, med)
			if err != nil {
				return err
			}
			out[i] = taggedRows{medication: med, rows: rows}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// rank aggregates candidate rows by NPI and applies the ALL-match filter,
// the radius filter, distance sorting, and the result cap.
func (e *Engine) rank(canonical []string, origin *claims.Geocode, radiusMiles float64, fetched []taggedRows) []Result {
	byNPI := make(map[string]*aggregate)
	var order []string

	for _, tr := range fetched {
		key := strings.ToLower(tr.medication)
		for _, row := range tr.rows {
			agg, ok := byNPI[row.NPI]
			if !ok {
				agg = &aggregate{first: row, matched: make(map[string]string)}
				byNPI[row.NPI] = agg
				order = append(order, row.NPI)
			}
			agg.matched[key] = tr.medication
			agg.totalClaims += row.ClaimCount
		}
	}

	type ranked struct {
		agg      *aggregate
		distance float64
	}

	var qualifying []ranked
	for _, npi := range order {
		agg := byNPI[npi]
		if len(agg.matched) != len(canonical) {
			continue
		}
		// One location per prescriber; rounded so the reported distance
		// honors the radius bound exactly.
		d := round1(haversineMiles(origin.Latitude, origin.Longitude, agg.first.Latitude, agg.first.Longitude))
		if d > radiusMiles {
			continue
		}
		qualifying = append(qualifying, ranked{agg: agg, distance: d})
	}

	sort.SliceStable(qualifying, func(i, j int) bool {
		return qualifying[i].distance < qualifying[j].distance
	})

	if len(qualifying) > e.maxResults {
		qualifying = qualifying[:e.maxResults]
	}

	results := make([]Result, 0, len(qualifying))
	for _, q := range qualifying {
		row := q.agg.first

		matched := make([]string, 0, len(q.agg.matched))
		for _, display := range q.agg.matched {
			matched = append(matched, display)
		}
		sort.Strings(matched)

		results = append(results, Result{
			NPI:                row.NPI,
			PrescriberName:     displayName(row.FirstName, row.LastName),
			Credentials:        normalizeCredentials(row.Credentials),
			Specialization:     row.Specialization,
			TaxonomyClass:      row.TaxonomyClass,
			Address:            formatAddress(row.AddressLine1, row.AddressLine2, row.City, row.State),
			Zipcode:            row.Zip,
			PhoneNumber:        row.Phone,
			MatchedMedications: matched,
			TotalClaims:        q.agg.totalClaims,
			ConfidenceScore:    confidenceScore(q.agg.totalClaims),
			Distance:           q.distance,
		})
	}
	return results
}

// confidenceScore maps aggregate claim volume to [0, 100]. A volume
// heuristic surfaced as a relative-trust signal, not a statistical
// measure: 40+ claims reaches the ceiling.
func confidenceScore(totalClaims int64) float64 {
	score := float64(totalClaims) * 2.5
	if score > 100 {
		return 100
	}
	return score
}

// logSearch records the search best-effort; failures are logged, never
// surfaced.
func (e *Engine) logSearch(ctx context.Context, canonical []string, req Request, results int, took time.Duration) {
	entry := claims.SearchLog{
		Medications: canonical,
		Zip:         req.Zip,
		RadiusMiles: req.RadiusMiles,
		ResultCount: results,
		Duration:    took,
	}
	if err := e.store.LogSearch(ctx, entry); err != nil {
		zap.L().Warn("search log write failed", zap.Error(err))
	}
}
