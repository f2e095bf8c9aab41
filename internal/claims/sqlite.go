package claims

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using modernc.org/sqlite, for local and
// development use.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	sdb, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "claims: sqlite open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := sdb.Exec(pragma); err != nil {
			sdb.Close()
			return nil, eris.Wrapf(err, "claims: sqlite exec %s", pragma)
		}
	}
	return &SQLiteStore{db: sdb}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS prescribers (
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
	phone          TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS claims (
	npi          TEXT NOT NULL REFERENCES prescribers(npi),
	drug_name    TEXT NOT NULL,
	generic_name TEXT NOT NULL DEFAULT '',
	total_claims INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (npi, drug_name)
);

CREATE TABLE IF NOT EXISTS zip_geocodes (
	zip       TEXT PRIMARY KEY,
	latitude  REAL,
	longitude REAL
);

CREATE TABLE IF NOT EXISTS search_log (
	id           TEXT PRIMARY KEY,
	medications  TEXT NOT NULL,
	zip          TEXT NOT NULL,
	radius_miles REAL NOT NULL,
	result_count INTEGER NOT NULL,
	duration_ms  INTEGER NOT NULL,
	created_at   DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_claims_drug_name ON claims(drug_name);
CREATE INDEX IF NOT EXISTS idx_prescribers_zip ON prescribers(zip);
`

// Migrate creates the tables.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "claims: sqlite migrate")
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ResolveZip implements Store.
func (s *SQLiteStore) ResolveZip(ctx context.Context, zip string) (*Geocode, error) {
	var lat, lon *float64
	err := s.db.QueryRowContext(ctx,
		`SELECT latitude, longitude FROM zip_geocodes WHERE zip = ?`, zip,
	).Scan(&lat, &lon)
	if err != nil {
		if eris.Is(err, sql.ErrNoRows) {
			return nil, eris.Wrapf(ErrZipNotFound, "zip %s", zip)
		}
		return nil, eris.Wrapf(err, "claims: sqlite resolve zip %s", zip)
	}
	if lat == nil || lon == nil {
		return nil, eris.Wrapf(ErrBadCoordinates, "zip %s: lat=%v lon=%v", zip, lat, lon)
	}
	return &Geocode{Zip: zip, Latitude: *lat, Longitude: *lon}, nil
}

const sqliteFetchCandidatesSQL = `
	SELECT p.npi, p.first_name, p.last_name, p.credentials, p.specialization, p.taxonomy_class,
	       p.address_line1, p.address_line2, p.city, p.state, p.zip, p.phone,
	       c.drug_name, c.total_claims, z.latitude, z.longitude
	FROM claims c
	JOIN prescribers p ON p.npi = c.npi
	JOIN zip_geocodes z ON z.zip = p.zip
	WHERE (lower(c.drug_name) LIKE '%' || lower(?1) || '%'
	       OR lower(c.generic_name) LIKE '%' || lower(?1) || '%')
	  AND z.latitude IS NOT NULL AND z.longitude IS NOT NULL
	ORDER BY p.npi, c.drug_name
`

// FetchCandidates implements Store.
func (s *SQLiteStore) FetchCandidates(ctx context.Context, pattern string) ([]CandidateRow, error) {
	rows, err := s.db.QueryContext(ctx, sqliteFetchCandidatesSQL, pattern)
	if err != nil {
		return nil, eris.Wrapf(err, "claims: sqlite fetch candidates for %q", pattern)
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
			return nil, eris.Wrapf(err, "claims: sqlite scan candidate row for %q", pattern)
		}
		if err := validateCandidate(r); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, eris.Wrapf(rows.Err(), "claims: sqlite iterate candidate rows for %q", pattern)
}

// BulkUpsertPrescribers implements Store.
func (s *SQLiteStore) BulkUpsertPrescribers(ctx context.Context, prescribers []Prescriber) (int64, error) {
	return s.inTx(ctx, "prescribers", func(tx *sql.Tx) (int64, error) {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT OR REPLACE INTO prescribers
				(npi, first_name, last_name, credentials, specialization, taxonomy_class,
				 address_line1, address_line2, city, state, zip, phone)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return 0, err
		}
		defer stmt.Close()

		var n int64
		for _, p := range prescribers {
			if _, err := stmt.ExecContext(ctx,
				p.NPI, p.FirstName, p.LastName, p.Credentials, p.Specialization, p.TaxonomyClass,
				p.AddressLine1, p.AddressLine2, p.City, p.State, p.Zip, p.Phone,
			); err != nil {
				return 0, err
			}
			n++
		}
		return n, nil
	})
}

// BulkUpsertClaims implements Store.
func (s *SQLiteStore) BulkUpsertClaims(ctx context.Context, claimRows []Claim) (int64, error) {
	return s.inTx(ctx, "claims", func(tx *sql.Tx) (int64, error) {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT OR REPLACE INTO claims (npi, drug_name, generic_name, total_claims)
			VALUES (?, ?, ?, ?)`)
		if err != nil {
			return 0, err
		}
		defer stmt.Close()

		var n int64
		for _, c := range claimRows {
			if _, err := stmt.ExecContext(ctx, c.NPI, c.DrugName, c.GenericName, c.TotalClaims); err != nil {
				return 0, err
			}
			n++
		}
		return n, nil
	})
}

// BulkUpsertZipGeocodes implements Store.
func (s *SQLiteStore) BulkUpsertZipGeocodes(ctx context.Context, zips []ZipGeocode) (int64, error) {
	return s.inTx(ctx, "zip_geocodes", func(tx *sql.Tx) (int64, error) {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT OR REPLACE INTO zip_geocodes (zip, latitude, longitude)
			VALUES (?, ?, ?)`)
		if err != nil {
			return 0, err
		}
		defer stmt.Close()

		var n int64
		for _, z := range zips {
			if _, err := stmt.ExecContext(ctx, z.Zip, z.Latitude, z.Longitude); err != nil {
				return 0, err
			}
			n++
		}
		return n, nil
	})
}

// ListNPIs implements Store.
func (s *SQLiteStore) ListNPIs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT npi FROM prescribers ORDER BY npi`)
	if err != nil {
		return nil, eris.Wrap(err, "claims: sqlite list npis")
	}
	defer rows.Close()

	var npis []string
	for rows.Next() {
		var npi string
		if err := rows.Scan(&npi); err != nil {
			return nil, eris.Wrap(err, "claims: sqlite scan npi")
		}
		npis = append(npis, npi)
	}
	return npis, eris.Wrap(rows.Err(), "claims: sqlite iterate npis")
}

// LogSearch implements Store.
func (s *SQLiteStore) LogSearch(ctx context.Context, entry SearchLog) error {
	meds, err := json.Marshal(entry.Medications)
	if err != nil {
		return eris.Wrap(err, "claims: sqlite marshal search log medications")
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO search_log (id, medications, zip, radius_miles, result_count, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?)`,
		uuid.New().String(), string(meds), entry.Zip, entry.RadiusMiles,
		entry.ResultCount, entry.Duration.Milliseconds(),
	)
	return eris.Wrap(err, "claims: sqlite insert search log")
}

// inTx runs fn inside a transaction, rolling back on error.
func (s *SQLiteStore) inTx(ctx context.Context, what string, fn func(tx *sql.Tx) (int64, error)) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrapf(err, "claims: sqlite begin tx for %s", what)
	}
	n, err := fn(tx)
	if err != nil {
		tx.Rollback()
		return 0, eris.Wrapf(err, "claims: sqlite bulk upsert %s", what)
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrapf(err, "claims: sqlite commit %s", what)
	}
	return n, nil
}
