package model

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/modoterra/reqlog/pkg/core"
	"github.com/modoterra/reqlog/pkg/csvexport"
	"github.com/modoterra/reqlog/pkg/transport/uds"
)

// Mode identifies the current interaction mode.
type Mode int

const (
	ModeNormal Mode = iota
	ModeCapacity
	ModeConfirmClear
)

// Requester sends a request to the daemon. *uds.Client implements it.
type Requester interface {
	Request(ctx context.Context, method string, data any) (uds.Message, error)
}

// App is the root Bubble Tea model.
type App struct {
	// Connection
	client     Requester
	socketPath string
	connected  bool
	events     chan tea.Msg

	// State
	records   []core.EventRecord
	capacity  int
	seq       uint64
	capturing bool

	// UI
	mode   Mode
	table  table.Model
	prompt *CapacityPrompt
	width  int
	height int

	exportDir string
	now       func() time.Time

	statusMsg string
}

// New creates a new TUI app model. Exports are written into exportDir.
func New(socketPath, exportDir string) App {
	if exportDir == "" {
		exportDir = "."
	}
	t := table.New(
		table.WithColumns(columns(80)),
		table.WithFocused(true),
		table.WithHeight(10),
	)
	t.SetStyles(tableStyles())

	return App{
		socketPath: socketPath,
		events:     make(chan tea.Msg, 16),
		mode:       ModeNormal,
		table:      t,
		exportDir:  exportDir,
		now:        time.Now,
	}
}

// Init connects to the daemon.
func (a App) Init() tea.Cmd {
	return tea.Batch(
		connectCmd(a.socketPath),
		tea.SetWindowTitle("reqlog"),
	)
}

// connectedMsg indicates successful daemon connection.
type connectedMsg struct{ client *uds.Client }

// disconnectedMsg is sent once the daemon closes the connection.
type disconnectedMsg struct{}

// snapshotMsg carries the current log contents.
type snapshotMsg uds.SnapshotResponse

// daemonStatusMsg carries the daemon status, used for the capture toggle.
type daemonStatusMsg uds.StatusResponse

// logChangedMsg is pushed by the daemon after every mutation.
type logChangedMsg uds.LogChangedEvent

// persistErrorMsg is pushed when the daemon's store rejected a write.
type persistErrorMsg uds.PersistErrorEvent

// captureChangedMsg is pushed when capture starts or stops, including when a
// source stops on its own.
type captureChangedMsg uds.CaptureChangedEvent

// commandMsg carries the result of a mutating command.
type commandMsg struct {
	verb string
	resp uds.CommandResponse
}

// exportedMsg reports where the CSV was written; path is empty when the log
// had nothing to export.
type exportedMsg struct{ path string }

// errorMsg carries an error to display.
type errorMsg struct{ err error }

func connectCmd(socketPath string) tea.Cmd {
	return func() tea.Msg {
		client, err := uds.Dial(socketPath)
		if err != nil {
			return errorMsg{err}
		}
		return connectedMsg{client}
	}
}

// listen forwards daemon events into the program.
func (a App) listen(client *uds.Client) {
	client.OnEvent(func(m uds.Message) {
		var msg tea.Msg
		switch m.Method {
		case uds.EventLogChanged:
			var ev uds.LogChangedEvent
			if err := m.UnmarshalData(&ev); err != nil {
				return
			}
			msg = logChangedMsg(ev)
		case uds.EventPersistError:
			var ev uds.PersistErrorEvent
			if err := m.UnmarshalData(&ev); err != nil {
				return
			}
			msg = persistErrorMsg(ev)
		case uds.EventCaptureChanged:
			var ev uds.CaptureChangedEvent
			if err := m.UnmarshalData(&ev); err != nil {
				return
			}
			msg = captureChangedMsg(ev)
		default:
			return
		}
		select {
		case a.events <- msg:
		default:
			// A refresh is already queued.
		}
	})
	go func() {
		<-client.Disconnected()
		a.events <- disconnectedMsg{}
	}()
}

func waitForEvent(ch <-chan tea.Msg) tea.Cmd {
	return func() tea.Msg {
		return <-ch
	}
}

func request(client Requester, timeout time.Duration, method string, data, out any) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	resp, err := client.Request(ctx, method, data)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return resp.UnmarshalData(out)
}

func fetchSnapshotCmd(client Requester) tea.Cmd {
	return func() tea.Msg {
		var snap uds.SnapshotResponse
		if err := request(client, 2*time.Second, uds.MethodSnapshot, nil, &snap); err != nil {
			return errorMsg{err}
		}
		return snapshotMsg(snap)
	}
}

func fetchStatusCmd(client Requester) tea.Cmd {
	return func() tea.Msg {
		var st uds.StatusResponse
		if err := request(client, 2*time.Second, uds.MethodStatus, nil, &st); err != nil {
			return errorMsg{err}
		}
		return daemonStatusMsg(st)
	}
}

func commandCmd(client Requester, verb, method string, data any) tea.Cmd {
	return func() tea.Msg {
		var resp uds.CommandResponse
		if err := request(client, 10*time.Second, method, data, &resp); err != nil {
			return errorMsg{fmt.Errorf("%s: %w", verb, err)}
		}
		return commandMsg{verb: verb, resp: resp}
	}
}

func exportCmd(client Requester, dir string, now time.Time) tea.Cmd {
	return func() tea.Msg {
		var resp uds.ExportResponse
		if err := request(client, 10*time.Second, uds.MethodExportCSV, nil, &resp); err != nil {
			return errorMsg{fmt.Errorf("export: %w", err)}
		}
		path, err := WriteExport(dir, now, resp)
		if err != nil {
			return errorMsg{err}
		}
		return exportedMsg{path}
	}
}

// WriteExport writes resp into dir under the timestamped export name and
// returns the file path. Nothing is written for an empty log.
func WriteExport(dir string, now time.Time, resp uds.ExportResponse) (string, error) {
	if resp.Empty || resp.CSV == "" {
		return "", nil
	}
	path := filepath.Join(dir, csvexport.FileName(now))
	if err := os.WriteFile(path, []byte(resp.CSV), 0o644); err != nil {
		return "", fmt.Errorf("write export: %w", err)
	}
	return path, nil
}

// Update handles messages.
func (a App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.resizeTable()
		return a, nil

	case connectedMsg:
		a.client = msg.client
		a.connected = true
		a.statusMsg = "connected"
		a.listen(msg.client)
		return a, tea.Batch(
			waitForEvent(a.events),
			fetchSnapshotCmd(a.client),
			fetchStatusCmd(a.client),
		)

	case disconnectedMsg:
		a.connected = false
		a.client = nil
		a.statusMsg = "daemon disconnected"
		return a, nil

	case logChangedMsg:
		cmds := []tea.Cmd{waitForEvent(a.events)}
		if a.client != nil && msg.Seq != a.seq {
			cmds = append(cmds, fetchSnapshotCmd(a.client))
		}
		return a, tea.Batch(cmds...)

	case persistErrorMsg:
		a.statusMsg = "persist " + msg.Op + " failed: " + msg.Error
		return a, waitForEvent(a.events)

	case captureChangedMsg:
		a.capturing = msg.Capturing
		if msg.Source != "" {
			a.statusMsg = msg.Source + " " + msg.Reason
		}
		return a, waitForEvent(a.events)

	case snapshotMsg:
		a.records = msg.Records
		a.capacity = msg.Capacity
		a.seq = msg.Seq
		a.table.SetRows(rows(a.records))
		// SetRows leaves the cursor at -1 after an empty snapshot.
		if len(a.records) > 0 && a.table.Cursor() < 0 {
			a.table.SetCursor(0)
		}
		return a, nil

	case daemonStatusMsg:
		a.capturing = msg.Capturing
		a.capacity = msg.Capacity
		if msg.PersistError != "" {
			a.statusMsg = "persist failed: " + msg.PersistError
		}
		return a, nil

	case commandMsg:
		a.capturing = msg.resp.Capturing
		a.capacity = msg.resp.Capacity
		switch {
		case len(msg.resp.Errors) > 0:
			a.statusMsg = msg.verb + ": " + strings.Join(msg.resp.Errors, "; ")
		case msg.resp.PersistError != "":
			a.statusMsg = msg.verb + " (not persisted: " + msg.resp.PersistError + ")"
		default:
			a.statusMsg = msg.verb + " ok"
		}
		if a.client != nil {
			return a, fetchSnapshotCmd(a.client)
		}
		return a, nil

	case exportedMsg:
		if msg.path == "" {
			a.statusMsg = "nothing to export"
		} else {
			a.statusMsg = "exported " + msg.path
		}
		return a, nil

	case errorMsg:
		a.statusMsg = "error: " + msg.err.Error()
		return a, nil

	case tea.KeyMsg:
		return a.handleKey(msg)
	}

	return a, nil
}

func (a App) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if a.mode == ModeCapacity && a.prompt != nil {
		return a.prompt.HandleKey(a, msg)
	}

	if a.mode == ModeConfirmClear {
		a.mode = ModeNormal
		switch msg.String() {
		case "y", "Y":
			if a.client == nil {
				a.statusMsg = "not connected"
				return a, nil
			}
			a.statusMsg = "clearing..."
			return a, commandCmd(a.client, "clear", uds.MethodClear, nil)
		default:
			a.statusMsg = "clear cancelled"
			return a, nil
		}
	}

	switch msg.String() {
	case "q", "ctrl+c":
		return a, tea.Quit

	case "s":
		if a.client == nil {
			a.statusMsg = "not connected"
			return a, nil
		}
		if a.capturing {
			return a, commandCmd(a.client, "stop", uds.MethodStopCapture, nil)
		}
		return a, commandCmd(a.client, "start", uds.MethodStartCapture, nil)

	case "c":
		a.mode = ModeConfirmClear
		a.statusMsg = "Clear the log? (y/n)"
		return a, nil

	case "n":
		a.prompt = NewCapacityPrompt(a.capacity)
		a.mode = ModeCapacity
		return a, textinput.Blink

	case "e":
		if a.client == nil {
			a.statusMsg = "not connected"
			return a, nil
		}
		if len(a.records) == 0 {
			a.statusMsg = "nothing to export"
			return a, nil
		}
		return a, exportCmd(a.client, a.exportDir, a.now())

	case "r":
		if a.client == nil {
			return a, connectCmd(a.socketPath)
		}
		return a, tea.Batch(fetchSnapshotCmd(a.client), fetchStatusCmd(a.client))
	}

	var cmd tea.Cmd
	a.table, cmd = a.table.Update(msg)
	return a, cmd
}

func (a *App) resizeTable() {
	w := max(a.width-4, 20)
	h := max(a.height-6, 3)
	a.table.SetColumns(columns(w))
	a.table.SetWidth(w)
	a.table.SetHeight(h)
}

// columns lays out the fixed field list; url takes whatever width is left.
func columns(width int) []table.Column {
	fixed := []int{24, 8, 16, 14}
	rest := width
	for _, w := range fixed {
		rest -= w + 2
	}
	cols := make([]table.Column, len(core.Fields))
	for i, name := range core.Fields {
		w := max(rest-2, 10)
		if i < len(fixed) {
			w = fixed[i]
		}
		cols[i] = table.Column{Title: name, Width: w}
	}
	return cols
}

func rows(records []core.EventRecord) []table.Row {
	out := make([]table.Row, len(records))
	for i, rec := range records {
		v := rec.Values()
		out[i] = table.Row(v[:])
	}
	return out
}
