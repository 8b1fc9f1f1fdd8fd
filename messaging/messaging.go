// Package messaging defines the Jupyter wire messages exchanged over a
// kernel's websocket channel, as described by the Jupyter messaging protocol:
// http://jupyter-client.readthedocs.io/en/latest/messaging.html
//
// Only the message types involved in code execution are modeled; everything
// else still deserializes into a Message and can be classified (and ignored)
// by its type tag.
package messaging

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ProtocolVersion is the Jupyter messaging protocol version stamped into
// outgoing message headers.
const ProtocolVersion = "5.2"

const defaultUsername = "kernelws"

// Message types this package knows how to classify.
const (
	MessageTypeExecuteRequest    = "execute_request"
	MessageTypeExecuteReply      = "execute_reply"
	MessageTypeExecuteResult     = "execute_result"
	MessageTypeStream            = "stream"
	MessageTypeDisplayData       = "display_data"
	MessageTypeError             = "error"
	MessageTypeStatus            = "status"
	MessageTypeKernelInfoRequest = "kernel_info_request"
	MessageTypeKernelInfoReply   = "kernel_info_reply"
)

// Channels multiplexed over the notebook server's kernel websocket.
const (
	ChannelShell = "shell"
	ChannelIOPub = "iopub"
)

// Kernel execution states carried by "status" messages.
const (
	ExecutionStateStarting = "starting"
	ExecutionStateBusy     = "busy"
	ExecutionStateIdle     = "idle"
)

// Header is a Jupyter message header.
// The msg_id of a request's header reappears as the parent_header msg_id of
// every message the kernel emits while handling that request.
type Header struct {
	MsgID    string `json:"msg_id"`
	Username string `json:"username,omitempty"`
	Session  string `json:"session,omitempty"`
	Date     string `json:"date,omitempty"`
	MsgType  string `json:"msg_type"`
	Version  string `json:"version,omitempty"`
}

// Message is the envelope sent and received on the kernel websocket.
// Content is kept raw so inbound messages can be decoded per-type after
// classification.
type Message struct {
	Channel      string          `json:"channel,omitempty"`
	Header       Header          `json:"header"`
	ParentHeader Header          `json:"parent_header"`
	Metadata     map[string]any  `json:"metadata"`
	Content      json.RawMessage `json:"content"`
	Buffers      []string        `json:"buffers,omitempty"`
}

// New builds an outbound message with a fresh msg_id and a fully populated
// header, serializing content into the envelope.
func New(channel, msgType, session string, content any) (Message, error) {
	b, err := json.Marshal(content)
	if err != nil {
		return Message{}, fmt.Errorf("encoding %s content: %w", msgType, err)
	}
	return Message{
		Channel: channel,
		Header: Header{
			MsgID:    uuid.NewString(),
			Username: defaultUsername,
			Session:  session,
			Date:     time.Now().UTC().Format(time.RFC3339),
			MsgType:  msgType,
			Version:  ProtocolVersion,
		},
		Metadata: map[string]any{},
		Content:  b,
	}, nil
}

// DecodeContent unmarshals the message's content payload into v.
func (m *Message) DecodeContent(v any) error {
	if len(m.Content) == 0 {
		return nil
	}
	if err := json.Unmarshal(m.Content, v); err != nil {
		return fmt.Errorf("decoding %s content: %w", m.Header.MsgType, err)
	}
	return nil
}

// IsChildOf reports whether the message was emitted in response to the
// request with the given msg_id.
func (m *Message) IsChildOf(msgID string) bool {
	return m.ParentHeader.MsgID == msgID
}

func (m *Message) String() string {
	b, err := json.Marshal(m)
	if err != nil {
		return fmt.Sprintf("messaging.Message(unencodable: %s)", err)
	}
	return string(b)
}
