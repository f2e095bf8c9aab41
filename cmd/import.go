package main

import (
	"context"
	"encoding/csv"
	"io"
	"os"
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/med-connect/prescriber-cli/internal/claims"
)

const importBatchSize = 5000

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Load reference data into the claims store",
}

var importZipsCmd = &cobra.Command{
	Use:   "zips <file.csv>",
	Short: "Load zip centroid geocodes (zip,latitude,longitude)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runImport(cmd.Context(), args[0], importZips)
	},
}

var importPrescribersCmd = &cobra.Command{
	Use:   "prescribers <file.csv>",
	Short: "Load prescriber identities and practice addresses",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runImport(cmd.Context(), args[0], importPrescribers)
	},
}

var importClaimsCmd = &cobra.Command{
	Use:   "claims <file.csv>",
	Short: "Load claims history (npi,drug_name,generic_name,total_claims)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runImport(cmd.Context(), args[0], importClaims)
	},
}

// runImport opens the store and the CSV, then hands the reader to the
// table-specific loader.
func runImport(ctx context.Context, path string, load func(ctx context.Context, st claims.Store, r *csv.Reader) (int64, error)) error {
	st, err := initStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.Migrate(ctx); err != nil {
		return err
	}

	f, err := os.Open(path)
	if err != nil {
		return eris.Wrapf(err, "open %s", path)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	// Skip header row.
	if _, err := r.Read(); err != nil {
		if err == io.EOF {
			return eris.Errorf("%s is empty", path)
		}
		return eris.Wrapf(err, "read header of %s", path)
	}

	n, err := load(ctx, st, r)
	if err != nil {
		return err
	}

	zap.L().Info("import complete", zap.String("file", path), zap.Int64("rows", n))
	return nil
}

func importZips(ctx context.Context, st claims.Store, r *csv.Reader) (int64, error) {
	var total int64
	batch := make([]claims.ZipGeocode, 0, importBatchSize)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := st.BulkUpsertZipGeocodes(ctx, batch)
		if err != nil {
			return err
		}
		total += n
		batch = batch[:0]
		return nil
	}

	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, eris.Wrap(err, "read zip row")
		}
		if len(rec) < 3 {
			return 0, eris.Errorf("zip row has %d fields, want 3", len(rec))
		}

		z := claims.ZipGeocode{Zip: rec[0]}
		// Blank coordinates load as NULL so upstream data defects stay visible.
		if rec[1] != "" && rec[2] != "" {
			lat, err := strconv.ParseFloat(rec[1], 64)
			if err != nil {
				return 0, eris.Wrapf(err, "zip %s: bad latitude %q", rec[0], rec[1])
			}
			lon, err := strconv.ParseFloat(rec[2], 64)
			if err != nil {
				return 0, eris.Wrapf(err, "zip %s: bad longitude %q", rec[0], rec[2])
			}
			z.Latitude = &lat
			z.Longitude = &lon
		}

		batch = append(batch, z)
		if len(batch) >= importBatchSize {
			if err := flush(); err != nil {
				return 0, err
			}
		}
	}
	return total, flush()
}

func importPrescribers(ctx context.Context, st claims.Store, r *csv.Reader) (int64, error) {
	var total int64
	batch := make([]claims.Prescriber, 0, importBatchSize)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := st.BulkUpsertPrescribers(ctx, batch)
		if err != nil {
			return err
		}
		total += n
		batch = batch[:0]
		return nil
	}

	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, eris.Wrap(err, "read prescriber row")
		}
		if len(rec) < 12 {
			return 0, eris.Errorf("prescriber row has %d fields, want 12", len(rec))
		}
		if rec[0] == "" {
			return 0, eris.New("prescriber row with empty npi")
		}

		batch = append(batch, claims.Prescriber{
			NPI: rec[0], FirstName: rec[1], LastName: rec[2], Credentials: rec[3],
			Specialization: rec[4], TaxonomyClass: rec[5],
			AddressLine1: rec[6], AddressLine2: rec[7], City: rec[8], State: rec[9],
			Zip: rec[10], Phone: rec[11],
		})
		if len(batch) >= importBatchSize {
			if err := flush(); err != nil {
				return 0, err
			}
		}
	}
	return total, flush()
}

func importClaims(ctx context.Context, st claims.Store, r *csv.Reader) (int64, error) {
	var total int64
	batch := make([]claims.Claim, 0, importBatchSize)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := st.BulkUpsertClaims(ctx, batch)
		if err != nil {
			return err
		}
		total += n
		batch = batch[:0]
		return nil
	}

	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, eris.Wrap(err, "read claims row")
		}
		if len(rec) < 4 {
			return 0, eris.Errorf("claims row has %d fields, want 4", len(rec))
		}

		count, err := strconv.ParseInt(rec[3], 10, 64)
		if err != nil {
			return 0, eris.Wrapf(err, "npi %s drug %q: bad claim count %q", rec[0], rec[1], rec[3])
		}
		if count < 0 {
			return 0, eris.Errorf("npi %s drug %q: negative claim count %d", rec[0], rec[1], count)
		}

		batch = append(batch, claims.Claim{
			NPI: rec[0], DrugName: rec[1], GenericName: rec[2], TotalClaims: count,
		})
		if len(batch) >= importBatchSize {
			if err := flush(); err != nil {
				return 0, err
			}
		}
	}
	return total, flush()
}

func init() {
	importCmd.AddCommand(importZipsCmd, importPrescribersCmd, importClaimsCmd)
	rootCmd.AddCommand(importCmd)
}
