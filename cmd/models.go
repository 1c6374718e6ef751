package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/samsaffron/relaychat/internal/llm"
	"github.com/samsaffron/relaychat/internal/usage"
	"github.com/spf13/cobra"
)

var modelsJSON bool

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List selectable models and their prices",
	Long: `List the model catalog served at /api/models.

Prices are USD per million tokens. Set models.catalog in the config file to
add models or override built-in prices.

Examples:
  relaychat models          # table output
  relaychat models --json   # same payload as GET /api/models`,
	RunE: runModels,
}

func init() {
	rootCmd.AddCommand(modelsCmd)
	modelsCmd.Flags().BoolVar(&modelsJSON, "json", false, "Output as JSON")
}

func runModels(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	catalog, err := loadCatalog(cfg)
	if err != nil {
		return err
	}

	if modelsJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string][]usage.Model{"models": catalog.Models()})
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "MODEL\tLABEL\tPROVIDER\tINPUT $/M\tOUTPUT $/M\tREASONING")
	for _, m := range catalog.Models() {
		reasoning := ""
		if m.Reasoning {
			reasoning = "yes"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%.2f\t%.2f\t%s\n",
			m.ID, m.Label, llm.ProviderForModel(m.ID), m.InputPerMillion, m.OutputPerMillion, reasoning)
	}
	return w.Flush()
}
