package status

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/bnema/botkeeper/internal/domain"
	tea "github.com/charmbracelet/bubbletea"
)

const DefaultWatchInterval = 2 * time.Second

var ErrUnexpectedRenderModel = errors.New("unexpected final bubbletea model type")

// LoadFunc reads the current runtime record, typically from the ledger.
type LoadFunc func(ctx context.Context) (domain.RuntimeRecord, error)

type WatchOptions struct {
	RenderOptions
	Interval time.Duration
	Clock    func() time.Time
	Input    io.Reader
	Output   io.Writer
}

type renderReadyMsg struct{}

type refreshMsg struct{}

type recordMsg struct {
	record domain.RuntimeRecord
	err    error
}

type model struct {
	record domain.RuntimeRecord
	opts   RenderOptions
	styles styles
	output string

	// watch mode only
	ctx      context.Context
	load     LoadFunc
	clock    func() time.Time
	interval time.Duration
	loadErr  error
}

func newModel(record domain.RuntimeRecord, opts RenderOptions) model {
	return model{record: record, opts: opts, styles: newStyles()}
}

func newWatchModel(ctx context.Context, load LoadFunc, opts WatchOptions) model {
	m := newModel(domain.RuntimeRecord{}, opts.RenderOptions)
	m.ctx = ctx
	m.load = load
	m.clock = opts.Clock
	if m.clock == nil {
		m.clock = time.Now
	}
	m.interval = opts.Interval
	if m.interval <= 0 {
		m.interval = DefaultWatchInterval
	}
	return m
}

func (m model) watching() bool {
	return m.load != nil
}

func (m model) Init() tea.Cmd {
	if m.watching() {
		return m.loadRecord
	}
	return func() tea.Msg {
		return renderReadyMsg{}
	}
}

func (m model) loadRecord() tea.Msg {
	record, err := m.load(m.ctx)
	if errors.Is(err, domain.ErrRuntimeNotFound) {
		return recordMsg{}
	}
	return recordMsg{record: record, err: err}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case renderReadyMsg:
		m.output = renderView(m.record, m.opts, m.styles)
		return m, tea.Quit
	case recordMsg:
		if msg.err != nil {
			m.loadErr = msg.err
		} else {
			m.record = msg.record
			m.loadErr = nil
		}
		m.opts.Now = m.clock()
		m.output = renderView(m.record, m.opts, m.styles)
		return m, tea.Tick(m.interval, func(time.Time) tea.Msg { return refreshMsg{} })
	case refreshMsg:
		return m, m.loadRecord
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			return m, tea.Quit
		}
	}
	return m, nil
}

func (m model) View() string {
	if !m.watching() {
		return m.output
	}

	view := m.output
	if m.loadErr != nil {
		view += "\n" + m.styles.warning.Render("reload failed: "+m.loadErr.Error())
	}
	footer := fmt.Sprintf("refreshing every %s, q to quit", m.interval)
	return view + "\n" + m.styles.header.Render(footer) + "\n"
}

// Render draws the runtime ledger once and returns the rendered text.
func Render(record domain.RuntimeRecord, opts RenderOptions) (string, error) {
	p := tea.NewProgram(
		newModel(record, opts),
		tea.WithInput(nil),
		tea.WithOutput(io.Discard),
	)

	finalModel, err := p.Run()
	if err != nil {
		return "", err
	}

	rendered, ok := finalModel.(model)
	if !ok {
		return "", ErrUnexpectedRenderModel
	}
	return rendered.View(), nil
}

// Watch redraws the ledger on every interval until the user quits or ctx is
// done. Failed reloads keep the last good record on screen.
func Watch(ctx context.Context, load LoadFunc, opts WatchOptions) error {
	programOpts := []tea.ProgramOption{tea.WithContext(ctx), tea.WithInput(opts.Input)}
	if opts.Output != nil {
		programOpts = append(programOpts, tea.WithOutput(opts.Output))
	}

	_, err := tea.NewProgram(newWatchModel(ctx, load, opts), programOpts...).Run()
	if err != nil && ctx.Err() != nil && errors.Is(err, tea.ErrProgramKilled) {
		return nil
	}
	return err
}
