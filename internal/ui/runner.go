package ui

import (
	"os"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattn/go-isatty"

	"github.com/kkrugley/pinq/internal/transfer"
)

const progressInterval = 100 * time.Millisecond

// TransferUI follows a transfer session. Handshake states drive a
// spinner; once bytes flow a bubbletea progress bar takes over. It
// implements transfer.Observer.
type TransferUI struct {
	mode   Mode
	label  string
	total  int64
	cancel func()
	live   bool

	mu       sync.Mutex
	spin     *SimpleSpinner
	program  *tea.Program
	wg       sync.WaitGroup
	lastSent time.Time
	stopped  bool
}

// NewTransferUI creates the UI. cancel is called when the user quits the
// progress view. Without a terminal on stderr nothing is animated.
func NewTransferUI(mode Mode, label string, total int64, cancel func()) *TransferUI {
	return &TransferUI{
		mode:   mode,
		label:  label,
		total:  total,
		cancel: cancel,
		live:   isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd()),
	}
}

// SetPayload updates the label and size once metadata is known.
func (ui *TransferUI) SetPayload(label string, total int64) {
	ui.mu.Lock()
	ui.label, ui.total = label, total
	ui.mu.Unlock()
}

// StateChanged implements transfer.Observer.
func (ui *TransferUI) StateChanged(s transfer.State) {
	ui.mu.Lock()
	defer ui.mu.Unlock()

	if ui.stopped || !ui.live {
		return
	}
	if ui.program != nil {
		ui.program.Send(stateMsg(s))
		return
	}

	switch {
	case s == transfer.StateStreaming:
		ui.stopSpinner()
		ui.startProgram()
	case s.Terminal():
		ui.stopSpinner()
	case ui.spin == nil:
		ui.spin = NewWaitingSpinner(spinnerText(s))
		ui.spin.Start()
	default:
		ui.spin.UpdateMessage(spinnerText(s))
	}
}

// Progress implements transfer.Observer. Updates are throttled except for
// the final one.
func (ui *TransferUI) Progress(done, total int64) {
	ui.mu.Lock()
	defer ui.mu.Unlock()

	if ui.program == nil || ui.stopped {
		return
	}
	if done < total && time.Since(ui.lastSent) < progressInterval {
		return
	}
	ui.lastSent = time.Now()
	ui.program.Send(progressMsg{done: done, total: total})
}

// Pause stops the handshake spinner so the caller can prompt.
func (ui *TransferUI) Pause() {
	ui.mu.Lock()
	ui.stopSpinner()
	ui.mu.Unlock()
}

// Stop tears down whatever is on screen. Safe to call more than once.
func (ui *TransferUI) Stop() {
	ui.mu.Lock()
	ui.stopped = true
	ui.stopSpinner()
	program := ui.program
	ui.mu.Unlock()

	if program != nil {
		program.Quit()
	}
	ui.wg.Wait()
}

func spinnerText(s transfer.State) string {
	return StateIcon(s) + " " + StateText(s)
}

func (ui *TransferUI) stopSpinner() {
	if ui.spin != nil {
		ui.spin.Stop()
		ui.spin = nil
	}
}

func (ui *TransferUI) startProgram() {
	model := newProgressModel(ui.mode, ui.label, ui.total, ui.cancel)
	ui.program = tea.NewProgram(model, tea.WithOutput(os.Stderr))

	ui.wg.Add(1)
	go func() {
		defer ui.wg.Done()
		if _, err := ui.program.Run(); err != nil {
			PrintErrorf("UI error: %v", err)
		}
	}()
}
