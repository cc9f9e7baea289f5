package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const loginSpinnerLabel = "Logging in..."

var (
	loginSpinnerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("69"))
	loginRetryStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
)

type loginDoneMsg struct {
	err error
}

// loginRetryMsg is sent by the login controller's retry hook.
type loginRetryMsg struct {
	attempt     int
	maxAttempts int
	next        time.Duration
	err         error
}

type loginSpinnerModel struct {
	spinner spinner.Model
	login   tea.Cmd
	retry   *loginRetryMsg
	err     error
	done    bool
}

func newLoginSpinnerModel(login tea.Cmd) loginSpinnerModel {
	return loginSpinnerModel{
		spinner: spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(loginSpinnerStyle)),
		login:   login,
	}
}

func (m loginSpinnerModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.login)
}

func (m loginSpinnerModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case loginRetryMsg:
		m.retry = &msg
		return m, nil
	case loginDoneMsg:
		m.done = true
		m.err = msg.err
		return m, tea.Quit
	default:
		return m, nil
	}
}

func (m loginSpinnerModel) View() string {
	if m.done {
		return ""
	}
	if m.retry == nil {
		return fmt.Sprintf("%s %s", m.spinner.View(), loginSpinnerLabel)
	}

	retry := loginRetryStyle.Render(fmt.Sprintf("attempt %d/%d failed, retrying in %s",
		m.retry.attempt, m.retry.maxAttempts, m.retry.next.Round(time.Second)))
	return fmt.Sprintf("%s %s %s", m.spinner.View(), loginSpinnerLabel, retry)
}

// runLoginSpinner shows a spinner on output while login runs. login receives
// a callback it can hand to LoginController.WithRetryHook.
func runLoginSpinner(ctx context.Context, output io.Writer, login func(ctx context.Context, onRetry func(attempt, maxAttempts int, next time.Duration, err error)) error) error {
	var p *tea.Program
	onRetry := func(attempt, maxAttempts int, next time.Duration, err error) {
		p.Send(loginRetryMsg{attempt: attempt, maxAttempts: maxAttempts, next: next, err: err})
	}
	loginCmd := func() tea.Msg {
		return loginDoneMsg{err: login(ctx, onRetry)}
	}

	p = tea.NewProgram(
		newLoginSpinnerModel(loginCmd),
		tea.WithInput(nil),
		tea.WithOutput(output),
		tea.WithContext(ctx),
	)

	finalModel, err := p.Run()
	if err != nil {
		return err
	}

	result, ok := finalModel.(loginSpinnerModel)
	if !ok {
		return fmt.Errorf("unexpected final spinner model type %T", finalModel)
	}
	return result.err
}
