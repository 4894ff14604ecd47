package cli

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/kkrugley/pinq/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the pinq version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "pinq %s (%s, %s/%s)\n", version.Version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
