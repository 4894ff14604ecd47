package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kkrugley/pinq/internal/codec"
	"github.com/kkrugley/pinq/internal/pairing"
	"github.com/kkrugley/pinq/internal/signaling"
	"github.com/kkrugley/pinq/internal/transfer"
	"github.com/kkrugley/pinq/internal/ui"
	"github.com/kkrugley/pinq/internal/utils"
)

// codeAttempts bounds retries when a generated code is already taken.
const codeAttempts = 3

var flagText string

var sendCmd = &cobra.Command{
	Use:     "send [file]",
	Aliases: []string{"s"},
	Short:   "Send a file or text to a receiver",
	Long: `Send one file or a text snippet directly to a receiver.

Examples:
  pinq send report.pdf
  pinq send --text "meet at 6"
  pinq send --server https://pinq.example.com photo.jpg`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		payload, err := buildPayload(args, flagText, cmd.Flags().Changed("text"))
		if err != nil {
			return err
		}
		return send(cmd.Context(), payload)
	},
}

// buildPayload checks the input before any network activity, so an
// oversized file fails without touching the broker.
func buildPayload(args []string, text string, textSet bool) (*transfer.Payload, error) {
	switch {
	case textSet && len(args) > 0:
		return nil, errors.New("pass either a file or --text, not both")
	case textSet:
		return transfer.NewTextPayload(text)
	case len(args) == 1:
		return transfer.NewFilePayload(args[0])
	default:
		return nil, errors.New("nothing to send: pass a file or --text")
	}
}

func send(ctx context.Context, payload *transfer.Payload) error {
	cfg, err := loadConfig("")
	if err != nil {
		return err
	}

	conn, err := dial(ctx, cfg)
	if err != nil {
		return friendly(err)
	}
	defer conn.Close()

	code, joined, err := createRoom(ctx, conn)
	if err != nil {
		return friendly(err)
	}
	fmt.Println(ui.CodeBox(code, cfg.RoomLink(code)))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	progress := ui.NewTransferUI(ui.ModeSend, payloadLabel(payload.Metadata), payload.Metadata.Size, cancel)
	defer progress.Stop()

	sender, err := transfer.NewSender(conn.options(code, joined.Peers, progress), payload)
	if err != nil {
		return err
	}

	res, err := sender.Run(ctx)
	progress.Stop()
	if err != nil {
		if errors.Is(err, transfer.ErrAckTimeout) && res != nil {
			ui.PrintWarningf("Sent %s, but the receiver never confirmed it", utils.FormatSize(res.Bytes))
			printSummary("Transfer Summary", "Unconfirmed", res)
			return nil
		}
		return friendly(err)
	}

	printSummary("Transfer Summary", "Complete", res)
	return nil
}

// createRoom generates a code and joins as creator, retrying on the rare
// collision with a live room.
func createRoom(ctx context.Context, conn *connection) (string, *signaling.JoinResult, error) {
	var lastErr error
	for range codeAttempts {
		code, err := pairing.GenerateCode()
		if err != nil {
			return "", nil, err
		}
		res, err := conn.join(ctx, code, pairing.RoleCreator)
		if err == nil {
			return code, res, nil
		}
		if !errors.Is(err, signaling.ErrRoomFull) {
			return "", nil, err
		}
		conn.log.Debug("code collision, regenerating", "code", code)
		lastErr = err
	}
	return "", nil, lastErr
}

func payloadLabel(meta codec.Metadata) string {
	if meta.Type == codec.KindText {
		return "text message"
	}
	return meta.Filename
}

func printSummary(title, status string, res *transfer.Result) {
	fmt.Fprintln(os.Stderr, ui.SummaryView(title, ui.Summary{
		Status:   status,
		Payload:  payloadLabel(res.Metadata),
		Bytes:    res.Bytes,
		Chunks:   res.Chunks,
		Duration: res.Duration,
		Output:   savedPath(res),
	}))
}

func savedPath(res *transfer.Result) string {
	if res.Metadata.Type == codec.KindFile {
		return res.Output
	}
	return ""
}

func init() {
	rootCmd.AddCommand(sendCmd)
	sendCmd.Flags().StringVar(&flagText, "text", "", "Send this text instead of a file")
}
