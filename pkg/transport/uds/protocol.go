package uds

import (
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/modoterra/reqlog/pkg/core"
)

var reqCounter atomic.Uint64

// MaxLineSize bounds a single NDJSON message. A full snapshot of the largest
// log must fit.
const MaxLineSize = 16 * 1024 * 1024

// MsgType identifies the kind of message.
type MsgType string

const (
	MsgTypeReq MsgType = "req"
	MsgTypeRes MsgType = "res"
	MsgTypeEvt MsgType = "evt"
)

// Message is the NDJSON envelope for all communication.
type Message struct {
	Type   MsgType         `json:"type"`
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Data   json.RawMessage `json:"data,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// UnmarshalData decodes the message payload into v.
func (m Message) UnmarshalData(v any) error {
	if len(m.Data) == 0 {
		return fmt.Errorf("%s: empty data", m.Method)
	}
	if err := json.Unmarshal(m.Data, v); err != nil {
		return fmt.Errorf("%s: decode data: %w", m.Method, err)
	}
	return nil
}

func marshalData(data any) (json.RawMessage, error) {
	if data == nil {
		return nil, nil
	}
	return json.Marshal(data)
}

// NewRequest creates a new request message with a unique ID.
func NewRequest(method string, data any) (Message, error) {
	raw, err := marshalData(data)
	if err != nil {
		return Message{}, err
	}
	return Message{
		Type:   MsgTypeReq,
		ID:     fmt.Sprintf("req-%d", reqCounter.Add(1)),
		Method: method,
		Data:   raw,
	}, nil
}

// NewResponse creates a response to a request.
func NewResponse(reqID, method string, data any) (Message, error) {
	raw, err := marshalData(data)
	if err != nil {
		return Message{}, err
	}
	return Message{
		Type:   MsgTypeRes,
		ID:     reqID,
		Method: method,
		Data:   raw,
	}, nil
}

// NewErrorResponse creates an error response.
func NewErrorResponse(reqID, method, errMsg string) Message {
	return Message{
		Type:   MsgTypeRes,
		ID:     reqID,
		Method: method,
		Error:  errMsg,
	}
}

// NewEvent creates a server-pushed event.
func NewEvent(method string, data any) (Message, error) {
	raw, err := marshalData(data)
	if err != nil {
		return Message{}, err
	}
	return Message{
		Type:   MsgTypeEvt,
		ID:     fmt.Sprintf("evt-%d", reqCounter.Add(1)),
		Method: method,
		Data:   raw,
	}, nil
}

// Methods
const (
	MethodPing         = "Ping"
	MethodStatus       = "Status"
	MethodSnapshot     = "Snapshot"
	MethodStartCapture = "StartCapture"
	MethodStopCapture  = "StopCapture"
	MethodSetCapacity  = "SetCapacity"
	MethodClear        = "Clear"
	MethodExportCSV    = "ExportCSV"

	EventLogChanged     = "log.changed"
	EventPersistError   = "persist.error"
	EventCaptureChanged = "capture.changed"
)

// PingResponse is the response to a Ping request.
type PingResponse struct {
	Pong bool `json:"pong"`
}

// SourceStatus describes one configured capture source.
type SourceStatus struct {
	Name        string `json:"name"`
	Kind        string `json:"kind"`
	Active      bool   `json:"active"`
	Unavailable string `json:"unavailable,omitempty"`
}

// StatusResponse is the response to a Status request.
type StatusResponse struct {
	Version      string         `json:"version"`
	Capturing    bool           `json:"capturing"`
	Size         int            `json:"size"`
	Capacity     int            `json:"capacity"`
	Seq          uint64         `json:"seq"`
	Sources      []SourceStatus `json:"sources"`
	Store        string         `json:"store"`
	PersistError string         `json:"persist_error,omitempty"`
}

// SnapshotResponse carries the log contents, oldest first.
type SnapshotResponse struct {
	Capacity int                `json:"capacity"`
	Seq      uint64             `json:"seq"`
	Records  []core.EventRecord `json:"records"`
}

// SetCapacityRequest is the payload for a SetCapacity request.
type SetCapacityRequest struct {
	Capacity int `json:"capacity"`
}

// CommandResponse is returned by the mutating commands.
type CommandResponse struct {
	OK           bool     `json:"ok"`
	Capturing    bool     `json:"capturing"`
	Size         int      `json:"size"`
	Capacity     int      `json:"capacity"`
	Errors       []string `json:"errors,omitempty"`
	PersistError string   `json:"persist_error,omitempty"`
}

// ExportResponse carries the CSV rendering of the log. Empty is set when the
// log has no records, in which case CSV is "".
type ExportResponse struct {
	Empty bool   `json:"empty"`
	CSV   string `json:"csv"`
}

// LogChangedEvent is pushed after the log was mutated.
type LogChangedEvent struct {
	Seq      uint64 `json:"seq"`
	Op       string `json:"op"`
	Size     int    `json:"size"`
	Capacity int    `json:"capacity"`
}

// PersistErrorEvent is pushed when the durable store rejected a write.
type PersistErrorEvent struct {
	Op    string `json:"op"`
	Error string `json:"error"`
}

// CaptureChangedEvent is pushed when capture starts or stops. Source and
// Reason are set when a single source stopped on its own.
type CaptureChangedEvent struct {
	Capturing bool   `json:"capturing"`
	Source    string `json:"source,omitempty"`
	Reason    string `json:"reason,omitempty"`
}
