// Package claims provides access to the prescriber claims store: zip
// geocode resolution, candidate-row fetches for the matching engine, and
// bulk reference-data loads.
package claims

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
)

// Sentinel errors returned by ResolveZip. The matching engine maps these
// to its user-facing error taxonomy.
var (
	// ErrZipNotFound means the zip code has no geocode row at all.
	ErrZipNotFound = eris.New("claims: zip not found")

	// ErrBadCoordinates means a geocode row exists but its coordinates are
	// null, a reference-data defect rather than a user input problem.
	ErrBadCoordinates = eris.New("claims: geocode row has null coordinates")
)

// Geocode is a resolved zip centroid.
type Geocode struct {
	Zip       string
	Latitude  float64
	Longitude float64
}

// CandidateRow is one (prescriber, matched drug) pair produced by a
// candidate fetch, before aggregation. All rows for one NPI carry the
// same identity, address, and coordinates.
type CandidateRow struct {
	NPI            string
	FirstName      string
	LastName       string
	Credentials    string
	Specialization string
	TaxonomyClass  string
	AddressLine1   string
	AddressLine2   string
	City           string
	State          string
	Zip            string
	Phone          string

	DrugName   string
	ClaimCount int64

	Latitude  float64
	Longitude float64
}

// Prescriber is a row of the prescriber reference table, used by imports.
type Prescriber struct {
	NPI            string
	FirstName      string
	LastName       string
	Credentials    string
	Specialization string
	TaxonomyClass  string
	AddressLine1   string
	AddressLine2   string
	City           string
	State          string
	Zip            string
	Phone          string
}

// Claim is a row of the claims history table, used by imports.
type Claim struct {
	NPI         string
	DrugName    string
	GenericName string
	TotalClaims int64
}

// ZipGeocode is a row of the zip centroid table, used by imports. Nil
// coordinates are loadable so upstream data defects stay observable.
type ZipGeocode struct {
	Zip       string
	Latitude  *float64
	Longitude *float64
}

// SearchLog records one completed search for auditing.
type SearchLog struct {
	Medications []string
	Zip         string
	RadiusMiles float64
	ResultCount int
	Duration    time.Duration
}

// Store defines the persistence interface for prescriber search.
type Store interface {
	// ResolveZip resolves a 5-digit zip to its centroid. Returns
	// ErrZipNotFound or ErrBadCoordinates on the two failure modes.
	ResolveZip(ctx context.Context, zip string) (*Geocode, error)

	// FetchCandidates returns every candidate row whose drug name or
	// generic name contains the pattern, case-insensitively, restricted to
	// prescribers whose practice zip has non-null coordinates.
	FetchCandidates(ctx context.Context, pattern string) ([]CandidateRow, error)

	// Bulk loads for reference data imports.
	BulkUpsertPrescribers(ctx context.Context, rows []Prescriber) (int64, error)
	BulkUpsertClaims(ctx context.Context, rows []Claim) (int64, error)
	BulkUpsertZipGeocodes(ctx context.Context, rows []ZipGeocode) (int64, error)

	// ListNPIs returns every distinct prescriber NPI, for registry checks.
	ListNPIs(ctx context.Context) ([]string, error)

	// LogSearch records a completed search.
	LogSearch(ctx context.Context, entry SearchLog) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
