package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/kkrugley/pinq/internal/transfer"
	"github.com/kkrugley/pinq/internal/utils"
)

// Mode is the direction shown in the header.
type Mode int

const (
	ModeSend Mode = iota
	ModeReceive
)

type stateMsg transfer.State

type progressMsg struct {
	done  int64
	total int64
}

// progressModel renders one payload's progress bar.
type progressModel struct {
	mode    Mode
	label   string
	state   transfer.State
	done    int64
	total   int64
	started time.Time

	bar     progress.Model
	spinner spinner.Model
	cancel  func()

	quitting bool
}

func newProgressModel(mode Mode, label string, total int64, cancel func()) *progressModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = SpinnerStyle

	return &progressModel{
		mode:   mode,
		label:  label,
		state:  transfer.StateStreaming,
		total:  total,
		cancel: cancel,
		bar: progress.New(
			progress.WithGradient(ProgressStart, ProgressEnd),
			progress.WithWidth(30),
			progress.WithoutPercentage(),
		),
		spinner: s,
	}
}

func (m *progressModel) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m *progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			if m.cancel != nil {
				m.cancel()
			}
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.bar.Width = max(10, min(30, msg.Width-60))

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case stateMsg:
		m.state = transfer.State(msg)
		if m.state.Terminal() {
			return m, tea.Quit
		}

	case progressMsg:
		if m.started.IsZero() && msg.done > 0 {
			m.started = time.Now()
		}
		m.done, m.total = msg.done, msg.total
	}

	return m, nil
}

func (m *progressModel) percent() float64 {
	if m.total <= 0 {
		if m.state == transfer.StateStreaming {
			return 0
		}
		return 1
	}
	return float64(m.done) / float64(m.total)
}

func (m *progressModel) View() string {
	if m.quitting {
		return ""
	}

	icon, verb := IconSend, "Sending"
	if m.mode == ModeReceive {
		icon, verb = IconReceive, "Receiving"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s %s\n\n", icon, verb, BoldStyle.Render(utils.TruncateString(m.label, 40)))

	status := m.spinner.View()
	if m.state == transfer.StateClosed {
		status = IconSuccess
	}
	fmt.Fprintf(&b, "  %s %s %5.1f%%", status, m.bar.ViewAs(m.percent()), m.percent()*100)
	b.WriteString(MutedStyle.Render(fmt.Sprintf(" (%s/%s)", utils.FormatSize(m.done), utils.FormatSize(m.total))))

	if !m.started.IsZero() && m.state == transfer.StateStreaming {
		elapsed := time.Since(m.started)
		speed := utils.Speed(m.done, elapsed)
		b.WriteString(MutedStyle.Render(" " + utils.FormatSpeed(speed)))
		if remaining := m.total - m.done; remaining > 0 && speed > 0 {
			eta := time.Duration(float64(remaining) / speed * float64(time.Second))
			b.WriteString(MutedStyle.Render(" ETA " + utils.FormatTimeDuration(eta)))
		}
	}
	if m.state != transfer.StateStreaming {
		b.WriteString("\n  " + MutedStyle.Render(StateText(m.state)))
	}

	b.WriteString("\n\n" + MutedStyle.Render("Press q to cancel") + "\n")
	return b.String()
}

// StateIcon marks the handshake phases in the spinner line.
func StateIcon(s transfer.State) string {
	switch s {
	case transfer.StateAwaitingPeer, transfer.StateAwaitingOffer:
		return IconWaiting
	case transfer.StateConnecting:
		return IconConnect
	case transfer.StateAwaitingMetadata:
		return IconPeer
	case transfer.StateFailed:
		return IconError
	default:
		return IconInfo
	}
}

// StateText is the status line for a session state.
func StateText(s transfer.State) string {
	switch s {
	case transfer.StateAwaitingPeer:
		return "Waiting for the receiver to join"
	case transfer.StateAwaitingOffer:
		return "Waiting for the sender"
	case transfer.StateConnecting:
		return "Opening a direct connection"
	case transfer.StateAwaitingMetadata:
		return "Connected, waiting for details"
	case transfer.StateStreaming:
		return "Transferring"
	case transfer.StateAwaitingAck:
		return "Waiting for the receiver to confirm"
	case transfer.StateSendingAck:
		return "Confirming receipt"
	case transfer.StateClosed:
		return "Done"
	case transfer.StateFailed:
		return "Failed"
	default:
		return "Starting"
	}
}
