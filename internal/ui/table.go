package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	prettytable "github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/kkrugley/pinq/internal/codec"
	"github.com/kkrugley/pinq/internal/utils"
)

// CodeBox renders the pairing code the sender reads out, plus the browser
// link when there is one.
func CodeBox(code, link string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s Room ready\n\n", IconSuccess)
	fmt.Fprintf(&b, "%s Code:  %s", IconCopy, CodeStyle.Render(code))
	if link != "" {
		fmt.Fprintf(&b, "\n%s Link:  %s", IconLink, MutedStyle.Render(link))
	}
	fmt.Fprintf(&b, "\n\n%s", MutedStyle.Render("On the other machine run: pinq receive "+code))
	return SuccessBoxStyle.Render(b.String())
}

// MetadataView renders what is about to be received.
func MetadataView(meta codec.Metadata) string {
	rows := [][]string{{"Type", string(meta.Type)}}
	if meta.Type == codec.KindFile {
		rows = append(rows, []string{"Name", utils.TruncateString(meta.Filename, 50)})
		if meta.MimeType != "" {
			rows = append(rows, []string{"MIME", utils.TruncateString(meta.MimeType, 30)})
		}
	}
	rows = append(rows, []string{"Size", utils.FormatSize(meta.Size)})

	tbl := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(Secondary)).
		Headers("Field", "Value").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return TableHeaderStyle
			case row%2 == 0:
				return TableRowStyle
			default:
				return TableRowAltStyle
			}
		})

	title := IconText + " Incoming text"
	if meta.Type == codec.KindFile {
		title = IconFile + " Incoming file"
	}
	return lipgloss.JoinVertical(lipgloss.Left, TitleStyle.Render(title), tbl.Render())
}

// Summary is the closing report for a finished transfer.
type Summary struct {
	Status   string
	Payload  string
	Bytes    int64
	Chunks   int64
	Duration time.Duration
	Output   string
}

// SummaryView renders a Summary with go-pretty.
func SummaryView(title string, s Summary) string {
	t := prettytable.NewWriter()
	t.SetTitle(title)
	t.SetStyle(prettytable.StyleRounded)
	t.Style().Title.Align = text.AlignCenter

	t.AppendRow(prettytable.Row{"Status", s.Status})
	if s.Payload != "" {
		t.AppendRow(prettytable.Row{"Payload", utils.TruncateString(s.Payload, 50)})
	}
	t.AppendRow(prettytable.Row{"Size", utils.FormatSize(s.Bytes)})
	t.AppendRow(prettytable.Row{"Chunks", s.Chunks})
	t.AppendRow(prettytable.Row{"Duration", utils.FormatTimeDuration(s.Duration)})
	t.AppendRow(prettytable.Row{"Avg Speed", utils.FormatSpeed(utils.Speed(s.Bytes, s.Duration))})
	if s.Output != "" {
		t.AppendRow(prettytable.Row{"Saved to", s.Output})
	}
	return t.Render()
}
