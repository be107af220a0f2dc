package cli

import (
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(daemonCmd)
}

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Keep caches warm on the configured schedule",
	RunE:  handleDaemon,
}

func handleDaemon(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	progress("Running in the background; press Ctrl-C to stop.")
	return a.RunDaemon(cmd.Context())
}
