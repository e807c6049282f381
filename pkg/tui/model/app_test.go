package model

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modoterra/reqlog/pkg/core"
	"github.com/modoterra/reqlog/pkg/transport/uds"
)

type call struct {
	method string
	data   any
}

type fakeRequester struct {
	calls     []call
	responses map[string]any
}

func (f *fakeRequester) Request(_ context.Context, method string, data any) (uds.Message, error) {
	f.calls = append(f.calls, call{method, data})
	resp, ok := f.responses[method]
	if !ok {
		resp = uds.CommandResponse{OK: true}
	}
	return uds.NewResponse("req-1", method, resp)
}

func key(s string) tea.KeyMsg {
	switch s {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func connectedApp(t *testing.T) (App, *fakeRequester) {
	t.Helper()
	f := &fakeRequester{responses: map[string]any{}}
	a := New("/tmp/reqlog-test.sock", t.TempDir())
	a.client = f
	a.connected = true
	m, _ := a.Update(tea.WindowSizeMsg{Width: 140, Height: 30})
	return m.(App), f
}

func update(t *testing.T, a App, msg tea.Msg) (App, tea.Cmd) {
	t.Helper()
	m, cmd := a.Update(msg)
	return m.(App), cmd
}

func records(urls ...string) []core.EventRecord {
	out := make([]core.EventRecord, len(urls))
	for i, u := range urls {
		out[i] = core.Normalize(core.RawEvent{"method": "GET", "url": u})
	}
	return out
}

func TestEmptyLogShowsPlaceholder(t *testing.T) {
	a, _ := connectedApp(t)
	a, _ = update(t, a, snapshotMsg{Capacity: 5})
	assert.Contains(t, a.View(), EmptyPlaceholder)
}

func TestSnapshotFillsTable(t *testing.T) {
	a, _ := connectedApp(t)
	a, _ = update(t, a, snapshotMsg{Capacity: 5, Seq: 2, Records: records("https://a.example/x", "https://b.example/y")})

	require.Len(t, a.table.Rows(), 2)
	assert.Equal(t, []string{core.Sentinel, "GET", core.Sentinel, core.Sentinel, "https://a.example/x"}, []string(a.table.Rows()[0]))
	assert.Equal(t, uint64(2), a.seq)

	view := a.View()
	assert.NotContains(t, view, EmptyPlaceholder)
	assert.Contains(t, view, "https://b.example/y")
	assert.Contains(t, view, "2/5")
}

func TestSnapshotShrinkKeepsCursorInRange(t *testing.T) {
	a, _ := connectedApp(t)
	a, _ = update(t, a, snapshotMsg{Capacity: 5, Records: records("1", "2", "3", "4")})
	a.table.SetCursor(3)
	a, _ = update(t, a, snapshotMsg{Capacity: 2, Records: records("3", "4")})
	assert.Equal(t, 1, a.table.Cursor())
}

func TestToggleCapture(t *testing.T) {
	a, f := connectedApp(t)
	f.responses[uds.MethodStartCapture] = uds.CommandResponse{OK: true, Capturing: true, Capacity: 5}

	a, cmd := update(t, a, key("s"))
	require.NotNil(t, cmd)
	msg := cmd()
	require.IsType(t, commandMsg{}, msg)
	assert.Equal(t, uds.MethodStartCapture, f.calls[0].method)

	a, cmd = update(t, a, msg)
	assert.True(t, a.capturing)
	assert.Equal(t, "start ok", a.statusMsg)
	assert.NotNil(t, cmd, "a command refreshes the snapshot")
	assert.Contains(t, a.renderStatusBar(), "s:stop")

	_, cmd = update(t, a, key("s"))
	cmd()
	assert.Equal(t, uds.MethodStopCapture, f.calls[1].method)
}

func TestSourceStoppingFlipsToggle(t *testing.T) {
	a, f := connectedApp(t)
	a.capturing = true

	a, cmd := update(t, a, captureChangedMsg{Capturing: false, Source: "cdp", Reason: "stopped on its own"})
	assert.NotNil(t, cmd, "keeps listening for events")
	assert.False(t, a.capturing)
	assert.Equal(t, "cdp stopped on its own", a.statusMsg)
	assert.Contains(t, a.renderStatusBar(), "s:start")

	_, cmd = update(t, a, key("s"))
	require.NotNil(t, cmd)
	cmd()
	assert.Equal(t, uds.MethodStartCapture, f.calls[0].method)
}

func TestCommandErrorsAreShown(t *testing.T) {
	a, _ := connectedApp(t)
	a, _ = update(t, a, commandMsg{verb: "start", resp: uds.CommandResponse{Errors: []string{"proxy: boom"}}})
	assert.Equal(t, "start: proxy: boom", a.statusMsg)

	a, _ = update(t, a, commandMsg{verb: "clear", resp: uds.CommandResponse{OK: true, PersistError: "disk full"}})
	assert.Contains(t, a.statusMsg, "not persisted: disk full")
}

func TestCapacityPrompt(t *testing.T) {
	a, f := connectedApp(t)
	a.capacity = 5

	a, _ = update(t, a, key("n"))
	require.Equal(t, ModeCapacity, a.mode)
	require.NotNil(t, a.prompt)
	assert.Equal(t, "5", a.prompt.input.Value())

	a.prompt.input.SetValue("ten")
	a, cmd := update(t, a, key("enter"))
	assert.Nil(t, cmd)
	assert.Equal(t, ModeCapacity, a.mode, "invalid input keeps the prompt open")
	assert.Contains(t, a.View(), "enter a whole number")

	a.prompt.input.SetValue("5000")
	a, cmd = update(t, a, key("enter"))
	require.NotNil(t, cmd)
	assert.Equal(t, ModeNormal, a.mode)
	cmd()
	require.Len(t, f.calls, 1)
	assert.Equal(t, uds.MethodSetCapacity, f.calls[0].method)
	assert.Equal(t, uds.SetCapacityRequest{Capacity: 5000}, f.calls[0].data)
}

func TestCapacityPromptEscape(t *testing.T) {
	a, f := connectedApp(t)
	a, _ = update(t, a, key("n"))
	a, _ = update(t, a, key("esc"))
	assert.Equal(t, ModeNormal, a.mode)
	assert.Nil(t, a.prompt)
	assert.Empty(t, f.calls)
}

func TestClearNeedsConfirmation(t *testing.T) {
	a, f := connectedApp(t)

	a, _ = update(t, a, key("c"))
	assert.Equal(t, ModeConfirmClear, a.mode)
	a, cmd := update(t, a, key("n"))
	assert.Nil(t, cmd)
	assert.Equal(t, "clear cancelled", a.statusMsg)

	a, _ = update(t, a, key("c"))
	_, cmd = update(t, a, key("y"))
	require.NotNil(t, cmd)
	cmd()
	require.Len(t, f.calls, 1)
	assert.Equal(t, uds.MethodClear, f.calls[0].method)
}

func TestExportOnEmptyLogDoesNothing(t *testing.T) {
	a, f := connectedApp(t)
	a, cmd := update(t, a, key("e"))
	assert.Nil(t, cmd)
	assert.Equal(t, "nothing to export", a.statusMsg)
	assert.Empty(t, f.calls)

	entries, err := os.ReadDir(a.exportDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestExportWritesFile(t *testing.T) {
	a, f := connectedApp(t)
	a.now = func() time.Time { return time.Date(2024, 3, 9, 14, 5, 7, 0, time.UTC) }
	csv := "initiator|method|timestamp|type|url\n--|GET|--|--|https://a\n"
	f.responses[uds.MethodExportCSV] = uds.ExportResponse{CSV: csv}
	a, _ = update(t, a, snapshotMsg{Capacity: 5, Records: records("https://a")})

	_, cmd := update(t, a, key("e"))
	require.NotNil(t, cmd)
	msg := cmd()
	require.IsType(t, exportedMsg{}, msg)

	want := filepath.Join(a.exportDir, "http_requests_log-20240309-140507.csv")
	assert.Equal(t, want, msg.(exportedMsg).path)
	got, err := os.ReadFile(want)
	require.NoError(t, err)
	assert.Equal(t, csv, string(got))
}

func TestWriteExportEmpty(t *testing.T) {
	dir := t.TempDir()
	path, err := WriteExport(dir, time.Now(), uds.ExportResponse{Empty: true})
	require.NoError(t, err)
	assert.Empty(t, path)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestPersistErrorEvent(t *testing.T) {
	a, _ := connectedApp(t)
	a, _ = update(t, a, persistErrorMsg{Op: "save", Error: "quota exceeded"})
	assert.Equal(t, "persist save failed: quota exceeded", a.statusMsg)
}

func TestDisconnect(t *testing.T) {
	a, _ := connectedApp(t)
	a, _ = update(t, a, disconnectedMsg{})
	assert.False(t, a.connected)
	assert.Nil(t, a.client)

	_, cmd := update(t, a, key("s"))
	assert.Nil(t, cmd)
}

func TestColumnsFollowFieldOrder(t *testing.T) {
	cols := columns(140)
	require.Len(t, cols, len(core.Fields))
	for i, c := range cols {
		assert.Equal(t, core.Fields[i], c.Title)
	}
	assert.Greater(t, cols[4].Width, cols[1].Width)
}

func TestFakeResponseRoundTrip(t *testing.T) {
	// Guards the fake: responses must decode like real daemon replies.
	f := &fakeRequester{responses: map[string]any{uds.MethodSnapshot: uds.SnapshotResponse{Capacity: 3}}}
	msg := fetchSnapshotCmd(f)()
	snap, ok := msg.(snapshotMsg)
	require.True(t, ok, "got %#v", msg)
	assert.Equal(t, 3, snap.Capacity)
}
