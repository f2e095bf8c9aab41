package claims

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/med-connect/prescriber-cli/internal/db"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32
	MinConns int32
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "claims: parse postgres config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "claims: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "claims: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresWithPool wraps an existing pool. Used by tests to inject a
// pgxmock pool.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE SCHEMA IF NOT EXISTS rx;

CREATE TABLE IF NOT EXISTS rx.prescribers (
	npi            TEXT PRIMARY KEY,
	first_name     TEXT NOT NULL DEFAULT '',
	last_name      TEXT NOT NULL DEFAULT '',
	credentials    TEXT NOT NULL DEFAULT '',
	specialization TEXT NOT NULL DEFAULT '',
	taxonomy_class TEXT NOT NULL DEFAULT '',
	address_line1  TEXT NOT NULL DEFAULT '',
	address_line2  TEXT NOT NULL DEFAULT '',
	city           TEXT NOT NULL DEFAULT '',
	state          TEXT NOT NULL DEFAULT '',
	zip            TEXT NOT NULL DEFAULT '',
	phone          TEXT NOT NULL DEFAULT '',
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS rx.claims (
	npi          TEXT NOT NULL REFERENCES rx.prescribers(npi),
	drug_name    TEXT NOT NULL,
	generic_name TEXT NOT NULL DEFAULT '',
	total_claims BIGINT NOT NULL DEFAULT 0,
	PRIMARY KEY (npi, drug_name)
);

CREATE TABLE IF NOT EXISTS rx.zip_geocodes (
	zip       TEXT PRIMARY KEY,
	latitude  DOUBLE PRECISION,
	longitude DOUBLE PRECISION
);

CREATE TABLE IF NOT EXISTS rx.search_log (
	id           TEXT PRIMARY KEY,
	medications  JSONB NOT NULL,
	zip          TEXT NOT NULL,
	radius_miles DOUBLE PRECISION NOT NULL,
	result_count INT NOT NULL,
	duration_ms  BIGINT NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_claims_drug_name ON rx.claims (lower(drug_name));
CREATE INDEX IF NOT EXISTS idx_claims_generic_name ON rx.claims (lower(generic_name));
CREATE INDEX IF NOT EXISTS idx_prescribers_zip ON rx.prescribers (zip);
`

// Migrate creates the rx schema and tables.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "claims: migrate")
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// Pool exposes the underlying pool for subsystems needing direct access.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const resolveZipSQL = `SELECT latitude, longitude FROM rx.zip_geocodes WHERE zip = $1`

// ResolveZip implements Store.
func (s *PostgresStore) ResolveZip(ctx context.Context, zip string) (*Geocode, error) {
	var lat, lon *float64
	err := s.pool.QueryRow(ctx, resolveZipSQL, zip).Scan(&lat, &lon)
	if err != nil {
		if eris.Is(err, pgx.ErrNoRows) {
			return nil, eris.Wrapf(ErrZipNotFound, "zip %s", zip)
		}
		return nil, eris.Wrapf(err, "claims: resolve zip %s", zip)
	}
	if lat == nil || lon == nil {
		return nil, eris.Wrapf(ErrBadCoordinates, "zip %s: lat=%v lon=%v", zip, lat, lon)
	}
	return &Geocode{Zip: zip, Latitude: *lat, Longitude: *lon}, nil
}

const fetchCandidatesSQL = `
	SELECT p.npi, p.first_name, p.last_name, p.credentials, p.specialization, p.taxonomy_class,
	       p.address_line1, p.address_line2, p.city, p.state, p.zip, p.phone,
	       c.drug_name, c.total_claims, z.latitude, z.longitude
	FROM rx.claims c
	JOIN rx.prescribers p ON p.npi = c.npi
	JOIN rx.zip_geocodes z ON z.zip = p.zip
	WHERE (c.drug_name ILIKE '%' || $1 || '%' OR c.generic_name ILIKE '%' || $1 || '%')
	  AND z.latitude IS NOT NULL AND z.longitude IS NOT NULL
	ORDER BY p.npi, c.drug_name
`

// FetchCandidates implements Store. The substring match mirrors the
// source data's drug-name variants ("Aspirin 81mg" matches "aspirin").
func (s *PostgresStore) FetchCandidates(ctx context.Context, pattern string) ([]CandidateRow, error) {
	rows, err := s.pool.Query(ctx, fetchCandidatesSQL, pattern)
	if err != nil {
		return nil, eris.Wrapf(err, "claims: fetch candidates for %q", pattern)
	}
	defer rows.Close()

	var out []CandidateRow
	for rows.Next() {
		var r CandidateRow
		if err := rows.Scan(
			&r.NPI, &r.FirstName, &r.LastName, &r.Credentials, &r.Specialization, &r.TaxonomyClass,
			&r.AddressLine1, &r.AddressLine2, &r.City, &r.State, &r.Zip, &r.Phone,
			&r.DrugName, &r.ClaimCount, &r.Latitude, &r.Longitude,
		); err != nil {
			return nil, eris.Wrapf(err, "claims: scan candidate row for %q", pattern)
		}
		if err := validateCandidate(r); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrapf(err, "claims: iterate candidate rows for %q", pattern)
	}
	return out, nil
}

// validateCandidate rejects malformed rows at the fetch boundary rather
// than letting them reach aggregation.
func validateCandidate(r CandidateRow) error {
	if r.NPI == "" {
		return eris.New("claims: candidate row with empty npi")
	}
	if r.ClaimCount < 0 {
		return eris.Errorf("claims: candidate row for npi %s has negative claim count %d", r.NPI, r.ClaimCount)
	}
	return nil
}

// BulkUpsertPrescribers implements Store.
func (s *PostgresStore) BulkUpsertPrescribers(ctx context.Context, prescribers []Prescriber) (int64, error) {
	rows := make([][]any, len(prescribers))
	for i, p := range prescribers {
		rows[i] = []any{
			p.NPI, p.FirstName, p.LastName, p.Credentials, p.Specialization, p.TaxonomyClass,
			p.AddressLine1, p.AddressLine2, p.City, p.State, p.Zip, p.Phone,
		}
	}
	return db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table: "rx.prescribers",
		Columns: []string{
			"npi", "first_name", "last_name", "credentials", "specialization", "taxonomy_class",
			"address_line1", "address_line2", "city", "state", "zip", "phone",
		},
		ConflictKeys: []string{"npi"},
	}, rows)
}

// BulkUpsertClaims implements Store.
func (s *PostgresStore) BulkUpsertClaims(ctx context.Context, claimRows []Claim) (int64, error) {
	rows := make([][]any, len(claimRows))
	for i, c := range claimRows {
		rows[i] = []any{c.NPI, c.DrugName, c.GenericName, c.TotalClaims}
	}
	return db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "rx.claims",
		Columns:      []string{"npi", "drug_name", "generic_name", "total_claims"},
		ConflictKeys: []string{"npi", "drug_name"},
	}, rows)
}

// BulkUpsertZipGeocodes implements Store.
func (s *PostgresStore) BulkUpsertZipGeocodes(ctx context.Context, zips []ZipGeocode) (int64, error) {
	rows := make([][]any, len(zips))
	for i, z := range zips {
		rows[i] = []any{z.Zip, z.Latitude, z.Longitude}
	}
	return db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "rx.zip_geocodes",
		Columns:      []string{"zip", "latitude", "longitude"},
		ConflictKeys: []string{"zip"},
	}, rows)
}

// ListNPIs implements Store.
func (s *PostgresStore) ListNPIs(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT npi FROM rx.prescribers ORDER BY npi`)
	if err != nil {
		return nil, eris.Wrap(err, "claims: list npis")
	}
	defer rows.Close()

	var npis []string
	for rows.Next() {
		var npi string
		if err := rows.Scan(&npi); err != nil {
			return nil, eris.Wrap(err, "claims: scan npi")
		}
		npis = append(npis, npi)
	}
	return npis, eris.Wrap(rows.Err(), "claims: iterate npis")
}

const logSearchSQL = `
	INSERT INTO rx.search_log (id, medications, zip, radius_miles, result_count, duration_ms)
	VALUES ($1, $2, $3, $4, $5, $6)
`

// LogSearch implements Store.
func (s *PostgresStore) LogSearch(ctx context.Context, entry SearchLog) error {
	meds, err := json.Marshal(entry.Medications)
	if err != nil {
		return eris.Wrap(err, "claims: marshal search log medications")
	}
	_, err = s.pool.Exec(ctx, logSearchSQL,
		uuid.New().String(), meds, entry.Zip, entry.RadiusMiles,
		entry.ResultCount, entry.Duration.Milliseconds(),
	)
	return eris.Wrap(err, "claims: insert search log")
}
