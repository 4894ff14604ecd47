package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kkrugley/pinq/internal/logging"
	"github.com/kkrugley/pinq/internal/ui"
	"github.com/kkrugley/pinq/internal/version"
)

// Flags shared by send and receive.
var (
	flagConfig   string
	flagServer   string
	flagSTUN     string
	flagTURN     string
	flagTURNUser string
	flagTURNPass string
	flagRelay    bool
	flagVerbose  bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "pinq",
	Short: "Send a file or a text snippet straight to another device",
	Long: `pinq pairs two devices with a short code and moves one file or text
snippet directly between them over a WebRTC data channel. The broker only
introduces the peers; payload bytes never pass through it.`,
	Version: version.Version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.Init(flagVerbose)
	},
}

// Execute runs the CLI. It is called once by main.main().
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		ui.PrintError(err.Error())
		stop()
		os.Exit(1)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flagConfig, "config", "", "YAML config file")
	pf.StringVar(&flagServer, "server", "", "Broker base URL")
	pf.StringVar(&flagSTUN, "stun", "", "Custom STUN server")
	pf.StringVar(&flagTURN, "turn", "", "Custom TURN server")
	pf.StringVar(&flagTURNUser, "turn-user", "", "TURN username")
	pf.StringVar(&flagTURNPass, "turn-pass", "", "TURN password")
	pf.BoolVar(&flagRelay, "relay", false, "Force relay mode")
	pf.BoolVarP(&flagVerbose, "verbose", "v", false, "Log debug output to stderr")
}
