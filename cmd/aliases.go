package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/med-connect/prescriber-cli/internal/alias"
)

var aliasesCmd = &cobra.Command{
	Use:   "aliases",
	Short: "Inspect and manage medication alias reference data",
}

var aliasesListCmd = &cobra.Command{
	Use:   "list",
	Short: "Print the loaded alias entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		entries, err := loadAliasEntries()
		if err != nil {
			return err
		}

		sort.Slice(entries, func(i, j int) bool {
			return entries[i].CanonicalName < entries[j].CanonicalName
		})
		for _, e := range entries {
			fmt.Printf("%-28s brands: %s\n", e.CanonicalName, strings.Join(e.BrandNames, ", "))
			if len(e.Variations) > 0 {
				fmt.Printf("%-28s variations: %s\n", "", strings.Join(e.Variations, ", "))
			}
		}
		return nil
	},
}

var aliasesResolveCmd = &cobra.Command{
	Use:   "resolve <term>...",
	Short: "Show the canonical names the given terms resolve to",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		resolver, err := initResolver()
		if err != nil {
			return err
		}
		for _, name := range resolver.Resolve(args) {
			fmt.Println(name)
		}
		return nil
	},
}

var aliasesConvertCmd = &cobra.Command{
	Use:   "convert <in.xlsx> <out.yaml>",
	Short: "Convert a curation workbook into a YAML alias file",
	Long: `Reads an XLSX curation workbook (columns: canonical name, brand names,
variations; lists separated by semicolons, first row is a header) and
writes the YAML alias file consumed via the aliases.path config key.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		entries, err := alias.ReadXLSX(args[0])
		if err != nil {
			return err
		}

		// Validate before writing: a broken workbook should fail loudly here,
		// not at the next process start.
		if _, err := alias.NewResolver(entries); err != nil {
			return err
		}

		if err := alias.WriteYAML(args[1], entries); err != nil {
			return err
		}
		zap.L().Info("alias file written",
			zap.String("from", args[0]),
			zap.String("to", args[1]),
			zap.Int("entries", len(entries)),
		)
		return nil
	},
}

// loadAliasEntries reads raw entries from the configured source, for the
// list command.
func loadAliasEntries() ([]alias.Entry, error) {
	if cfg.Aliases.Path != "" {
		return alias.ReadFileEntries(cfg.Aliases.Path)
	}
	return alias.DefaultEntries()
}

func init() {
	aliasesCmd.AddCommand(aliasesListCmd, aliasesResolveCmd, aliasesConvertCmd)
	rootCmd.AddCommand(aliasesCmd)
}
