package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/med-connect/prescriber-cli/internal/match"
)

var (
	searchMeds   string
	searchZip    string
	searchRadius float64
	searchJSON   bool
)

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Search for prescribers matching all given medications",
	Long: `Searches for prescribers with billing history for every requested
medication within a radius of the origin zip code.

Examples:
  prescriber-cli search --meds "Lipitor,Metformin" --zip 60601 --radius 10
  prescriber-cli search --meds lisinopril --zip 94103 --json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if searchMeds == "" {
			return eris.New("--meds is required")
		}
		radius := searchRadius
		if radius == 0 {
			radius = cfg.Search.DefaultRadiusMiles
		}

		engine, st, err := initEngine(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		req := match.Request{
			MedicationNames: strings.Split(searchMeds, ","),
			Zip:             searchZip,
			RadiusMiles:     radius,
		}

		resp, err := engine.Search(ctx, req)
		if err != nil {
			return err
		}

		if searchJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return eris.Wrap(enc.Encode(resp), "encode results")
		}

		if len(resp.Results) == 0 {
			fmt.Println(resp.Message)
			return nil
		}
		for i, r := range resp.Results {
			fmt.Printf("%3d. %s (%s)  %.1f mi, %d claims, confidence %.0f\n",
				i+1, r.PrescriberName, r.NPI, r.Distance, r.TotalClaims, r.ConfidenceScore)
			fmt.Printf("     %s %s  |  %s\n", r.Address, r.Zipcode, strings.Join(r.MatchedMedications, ", "))
		}
		zap.L().Info("search complete",
			zap.Int("results", len(resp.Results)),
			zap.String("zip", searchZip),
		)
		return nil
	},
}

func init() {
	searchCmd.Flags().StringVar(&searchMeds, "meds", "", "comma-separated medication names (brand or generic)")
	searchCmd.Flags().StringVar(&searchZip, "zip", "", "5-digit origin zip code")
	searchCmd.Flags().Float64Var(&searchRadius, "radius", 0, "search radius in miles (default from config)")
	searchCmd.Flags().BoolVar(&searchJSON, "json", false, "emit JSON instead of a table")
	rootCmd.AddCommand(searchCmd)
}
