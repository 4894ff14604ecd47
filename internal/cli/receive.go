package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kkrugley/pinq/internal/codec"
	"github.com/kkrugley/pinq/internal/pairing"
	"github.com/kkrugley/pinq/internal/transfer"
	"github.com/kkrugley/pinq/internal/ui"
)

var (
	flagDir string
	flagYes bool
)

var receiveCmd = &cobra.Command{
	Use:     "receive <code|url>",
	Aliases: []string{"r"},
	Short:   "Receive a file or text from a sender",
	Long: `Receive one file or text snippet from a sender.

Examples:
  pinq receive K7QP3M
  pinq receive k7q-p3m --dir ~/Downloads
  pinq receive https://pinq.example.com/r/K7QP3M --yes`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		code, err := parseCodeInput(args[0])
		if err != nil {
			return err
		}
		return receive(cmd.Context(), code)
	},
}

func receive(ctx context.Context, code string) error {
	cfg, err := loadConfig(flagDir)
	if err != nil {
		return err
	}

	conn, err := dial(ctx, cfg)
	if err != nil {
		return friendly(err)
	}
	defer conn.Close()

	joined, err := conn.join(ctx, code, pairing.RoleGuest)
	if err != nil {
		return friendly(err)
	}
	ui.PrintSuccessf("Joined room %s", ui.CodeStyle.Render(code))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	progress := ui.NewTransferUI(ui.ModeReceive, "", 0, cancel)
	defer progress.Stop()

	receiver, err := transfer.NewReceiver(conn.options(code, joined.Peers, progress), transfer.DefaultSinks(cfg.DownloadDir))
	if err != nil {
		return err
	}
	var offered string
	receiver.Confirm = func(meta codec.Metadata) bool {
		progress.Pause()
		fmt.Fprintln(os.Stderr, ui.MetadataView(meta))
		offered = payloadLabel(meta)
		progress.SetPayload(offered, meta.Size)
		if flagYes {
			return true
		}
		return confirm(os.Stdin, os.Stderr, "Accept? [y/N] ")
	}

	res, err := receiver.Run(ctx)
	progress.Stop()
	if errors.Is(err, transfer.ErrTransferDeclined) {
		ui.PrintInfof("Declined %s", offered)
		return nil
	}
	if err != nil {
		return friendly(err)
	}

	if res.Metadata.Type == codec.KindText {
		fmt.Println(res.Output)
	}
	printSummary("Receive Summary", "Complete", res)
	return nil
}

// confirm asks a yes/no question. Anything but y or yes declines.
func confirm(in io.Reader, out io.Writer, prompt string) bool {
	fmt.Fprint(out, prompt)
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && line == "" {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	}
	return false
}

// parseCodeInput accepts a bare code in any common spelling or a room
// link of the form https://host/r/CODE.
func parseCodeInput(input string) (string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", fmt.Errorf("code cannot be empty")
	}

	raw := input
	if strings.Contains(input, "://") {
		var err error
		if raw, err = extractCodeFromURL(input); err != nil {
			return "", err
		}
	}

	code := pairing.NormalizeCode(raw)
	if !pairing.ValidCode(code) {
		return "", fmt.Errorf("invalid code %q: expected %d characters from %s", raw, pairing.CodeLength, pairing.Alphabet)
	}
	return code, nil
}

func extractCodeFromURL(urlStr string) (string, error) {
	parsedURL, err := url.Parse(urlStr)
	if err != nil {
		return "", transfer.NewError("parse URL", err)
	}
	if code := parsedURL.Query().Get("code"); code != "" {
		return code, nil
	}

	parts := strings.Split(strings.TrimSuffix(parsedURL.Path, "/"), "/")
	for i, part := range parts {
		if part == "r" && i+1 < len(parts) && parts[i+1] != "" {
			return parts[i+1], nil
		}
	}

	return "", fmt.Errorf("could not extract code from URL: %s", urlStr)
}

func init() {
	rootCmd.AddCommand(receiveCmd)
	receiveCmd.Flags().StringVarP(&flagDir, "dir", "d", "", "Directory to save received files")
	receiveCmd.Flags().BoolVarP(&flagYes, "yes", "y", false, "Accept without asking")
}
