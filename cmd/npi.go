package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/med-connect/prescriber-cli/pkg/npi"
)

var npiAll bool

var npiCmd = &cobra.Command{
	Use:   "npi",
	Short: "Cross-check prescriber NPIs against the NPPES registry",
}

var npiVerifyCmd = &cobra.Command{
	Use:   "verify [npi...]",
	Short: "Verify NPIs against the registry (--all checks every stored prescriber)",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		npis := args
		if npiAll {
			st, err := initStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			npis, err = st.ListNPIs(ctx)
			if err != nil {
				return err
			}
		}
		if len(npis) == 0 {
			return fmt.Errorf("no NPIs to verify; pass NPIs as arguments or use --all")
		}

		client := npi.NewClient(
			npi.WithBaseURL(cfg.NPI.BaseURL),
			npi.WithRateLimit(cfg.NPI.RateLimit),
		)

		var missing int
		for _, id := range npis {
			rec, err := client.Lookup(ctx, id)
			if err != nil {
				return err
			}
			if rec == nil {
				missing++
				fmt.Printf("%s  NOT REGISTERED\n", id)
				continue
			}
			fmt.Printf("%s  %s %s, %s  %s\n", rec.NPI, rec.FirstName, rec.LastName, rec.Credential, rec.TaxonomyDesc)
		}

		zap.L().Info("npi verification complete",
			zap.Int("checked", len(npis)),
			zap.Int("missing", missing),
		)
		return nil
	},
}

func init() {
	npiVerifyCmd.Flags().BoolVar(&npiAll, "all", false, "verify every NPI in the claims store")
	npiCmd.AddCommand(npiVerifyCmd)
	rootCmd.AddCommand(npiCmd)
}
