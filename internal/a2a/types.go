// Package a2a defines the JSON-RPC envelope and the provider message shapes
// accepted on the webhook surface, plus the text extraction applied to
// provider messages.
package a2a

import "encoding/json"

// JSON-RPC error codes used on this surface.
const (
	CodeInvalidParams  = -32602
	CodeMethodNotFound = -32601
	CodeInternalError  = -32603
	CodeNotFound       = 404
)

// Request is the inbound JSON-RPC envelope. ID is kept raw so it can be
// echoed back verbatim whatever scalar the caller sent.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

// InvokeParams are the parameters of the "invoke" method.
type InvokeParams struct {
	Text        string         `json:"text"`
	ChannelID   string         `json:"channelId"`
	UserID      string         `json:"userId"`
	OrgID       string         `json:"orgId"`
	Metadata    map[string]any `json:"metadata"`
	Temperature *float64       `json:"temperature"`
}

// Result is the flat message payload carried on success.
type Result struct {
	Type    string `json:"type"`
	Format  string `json:"format"`
	Content string `json:"content"`
}

// Error is the in-envelope JSON-RPC error payload.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Response is the outbound JSON-RPC envelope. Exactly one of Result and Error
// is set. The transport always answers HTTP 200; failures travel here.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  *Result         `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// NewResult builds a success envelope echoing the request id.
func NewResult(id json.RawMessage, content string) Response {
	return Response{
		JSONRPC: "2.0",
		ID:      EchoID(id),
		Result:  &Result{Type: "message", Format: "markdown", Content: content},
	}
}

// NewError builds an error envelope echoing the request id.
func NewError(id json.RawMessage, code int, message string) Response {
	return Response{
		JSONRPC: "2.0",
		ID:      EchoID(id),
		Error:   &Error{Code: code, Message: message},
	}
}

// EchoID normalizes an absent request id to the empty string, matching the
// lenient envelope parse on the way in.
func EchoID(id json.RawMessage) json.RawMessage {
	if len(id) == 0 {
		return json.RawMessage(`""`)
	}
	return id
}

// Part kinds carried in provider messages.
const (
	PartKindText = "text"
	PartKindData = "data"
)

// DataItem is one entry of a data-part. Non-text entries keep their kind and
// are skipped during extraction.
type DataItem struct {
	Kind string `json:"kind"`
	Text string `json:"text"`
}

// Part is a tagged union over text-parts and data-parts. Anything else,
// including malformed JSON, decodes to an unknown part (empty Kind) so a bad
// payload degrades to "no text" instead of a decode error.
type Part struct {
	Kind string
	Text string
	Data []DataItem
}

// UnmarshalJSON never fails; unrecognized or malformed parts become unknown.
func (p *Part) UnmarshalJSON(b []byte) error {
	*p = Part{}
	var raw struct {
		Kind string          `json:"kind"`
		Text string          `json:"text"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil
	}
	switch raw.Kind {
	case PartKindText:
		p.Kind = PartKindText
		p.Text = raw.Text
	case PartKindData:
		p.Kind = PartKindData
		p.Data = decodeDataItems(raw.Data)
	}
	return nil
}

func decodeDataItems(raw json.RawMessage) []DataItem {
	if len(raw) == 0 {
		return nil
	}
	var entries []json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil
	}
	items := make([]DataItem, 0, len(entries))
	for _, entry := range entries {
		var item DataItem
		if err := json.Unmarshal(entry, &item); err != nil {
			continue
		}
		items = append(items, item)
	}
	return items
}

// Message is the provider message body.
type Message struct {
	Parts     []Part
	Text      string
	TaskID    string
	MessageID string
}

// UnmarshalJSON tolerates a missing or non-list parts field: either yields no
// parts and extraction falls through to the top-level text.
func (m *Message) UnmarshalJSON(b []byte) error {
	*m = Message{}
	var raw struct {
		Parts     json.RawMessage `json:"parts"`
		Text      string          `json:"text"`
		TaskID    string          `json:"taskId"`
		MessageID string          `json:"messageId"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil
	}
	m.Text = raw.Text
	m.TaskID = raw.TaskID
	m.MessageID = raw.MessageID
	if len(raw.Parts) > 0 {
		var parts []Part
		if err := json.Unmarshal(raw.Parts, &parts); err == nil {
			m.Parts = parts
		}
	}
	return nil
}

// SendParams are the parameters of the "message/send" method.
type SendParams struct {
	Message  Message        `json:"message"`
	Metadata map[string]any `json:"metadata"`
}
