package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/samsaffron/relaychat/internal/client"
	"github.com/spf13/cobra"
)

var (
	usageUser   string
	usageServer string
	usageToken  string
	usageJSON   bool
)

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Show cumulative chat cost for a user",
	Long: `Show the cumulative API cost recorded for a user.

By default the local store is read directly. With --server the running
server is asked instead, for the user that owns --token.

Examples:
  relaychat usage --user alice
  relaychat usage --server http://127.0.0.1:8080 --token $RELAYCHAT_TOKEN
  relaychat usage --user alice --json`,
	RunE: runUsage,
}

func init() {
	rootCmd.AddCommand(usageCmd)
	usageCmd.Flags().StringVarP(&usageUser, "user", "u", "", "User ID to report (local store)")
	usageCmd.Flags().StringVar(&usageServer, "server", "", "Server base URL to query instead of the local store")
	usageCmd.Flags().StringVar(&usageToken, "token", os.Getenv("RELAYCHAT_TOKEN"), "Bearer token for --server")
	usageCmd.Flags().BoolVar(&usageJSON, "json", false, "Output as JSON")
}

func runUsage(cmd *cobra.Command, args []string) error {
	var (
		userID string
		total  float64
		err    error
	)

	if usageServer != "" {
		userID = "(token owner)"
		total, err = client.NewClient(usageServer, usageToken, nil).Usage(cmd.Context())
		if err != nil {
			return err
		}
	} else {
		userID = strings.TrimSpace(usageUser)
		if userID == "" {
			return fmt.Errorf("--user is required when reading the local store")
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		st, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer st.Close()
		total, err = st.UserCost(cmd.Context(), userID)
		if err != nil {
			return fmt.Errorf("read usage: %w", err)
		}
	}

	if usageJSON {
		return json.NewEncoder(os.Stdout).Encode(map[string]any{"userId": userID, "totalCost": total})
	}
	fmt.Printf("%s: $%.6f\n", userID, total)
	return nil
}
