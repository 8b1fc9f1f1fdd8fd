package kernel

import (
	"context"
	"fmt"

	"github.com/jupytergo/kernelws/messaging"
)

// Output is one entry of an execution's output, shaped like an nbformat v4
// output node. OutputType selects which of the remaining fields are set.
type Output struct {
	// OutputType is "stream", "display_data", "execute_result" or "error".
	OutputType string `json:"output_type"`

	// Stream fields. Name is "stdout" or "stderr".
	Name string `json:"name,omitempty"`
	Text string `json:"text,omitempty"`

	// Display data and execute result fields. Data maps MIME types to
	// payloads.
	Data     map[string]any `json:"data,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`

	// Error fields.
	Ename     string   `json:"ename,omitempty"`
	Evalue    string   `json:"evalue,omitempty"`
	Traceback []string `json:"traceback,omitempty"`
}

// ExecutionResult is everything the kernel produced for one execute request.
// Outputs preserves arrival order. ExecutionCount is nil if neither the
// execute reply nor an execute result carried one.
type ExecutionResult struct {
	Outputs        []Output `json:"outputs"`
	ExecutionCount *int     `json:"execution_count"`
}

type executeConfig struct {
	silent       bool
	storeHistory bool
	waitForIdle  bool
	onOutput     func(Output)
}

type ExecuteOption func(cfg *executeConfig)

// WithSilent asks the kernel not to broadcast the execution on its iopub
// channel and not to increment the execution counter.
func WithSilent() ExecuteOption {
	return func(cfg *executeConfig) {
		cfg.silent = true
	}
}

// WithStoreHistory controls whether the kernel records the code in its
// history. The default is true.
func WithStoreHistory(store bool) ExecuteOption {
	return func(cfg *executeConfig) {
		cfg.storeHistory = store
	}
}

// WithWaitForIdle makes Execute first confirm the kernel is idle via a
// kernel_info_request round trip. Useful against a freshly started kernel.
func WithWaitForIdle() ExecuteOption {
	return func(cfg *executeConfig) {
		cfg.waitForIdle = true
	}
}

// WithOutputCallback registers a callback invoked with each output as it
// arrives, before Execute returns the full result.
func WithOutputCallback(f func(Output)) ExecuteOption {
	return func(cfg *executeConfig) {
		cfg.onOutput = f
	}
}

// Execute runs code on the kernel and collects its outputs.
//
// It sends an execute_request and then consumes the inbound message stream,
// folding every message whose parent msg_id matches the request into the
// result; messages belonging to other requests or to unsolicited kernel
// chatter are discarded. The call returns when the kernel emits the idle
// status message for this request, which the protocol guarantees to arrive
// exactly once, after all output for the request has been sent.
//
// If the channel fails mid-collection the call fails with an ExecutionError
// and whatever was accumulated is discarded. There is no internal timeout;
// bound the call with ctx if needed.
func (c *Client) Execute(ctx context.Context, code string, opts ...ExecuteOption) (*ExecutionResult, error) {
	cfg := executeConfig{storeHistory: true}
	for _, opt := range opts {
		opt(&cfg)
	}

	if err := c.Connect(ctx); err != nil {
		return nil, err
	}
	if cfg.waitForIdle {
		if err := c.WaitForIdle(ctx); err != nil {
			return nil, err
		}
	}

	content := messaging.NewExecuteRequest(code)
	content.Silent = cfg.silent
	content.StoreHistory = cfg.storeHistory
	req, err := messaging.New(messaging.ChannelShell, messaging.MessageTypeExecuteRequest, c.sessionID, content)
	if err != nil {
		return nil, fmt.Errorf("building execute request: %w", err)
	}
	if err := c.send(ctx, &req); err != nil {
		return nil, err
	}
	msgID := req.Header.MsgID
	c.log.Debugw("sent execute request", "MsgID", msgID)

	res := &ExecutionResult{Outputs: []Output{}}
	for {
		msg, err := c.receive(ctx)
		if err != nil {
			return nil, &ExecutionError{MsgID: msgID, Err: err}
		}
		if !msg.IsChildOf(msgID) {
			c.log.Debugw("ignoring message for another request", "MsgType", msg.Header.MsgType, "ParentMsgID", msg.ParentHeader.MsgID)
			continue
		}
		done, err := res.fold(&msg, cfg.onOutput)
		if err != nil {
			return nil, &ExecutionError{MsgID: msgID, Err: err}
		}
		if done {
			c.log.Debugw("kernel idle again", "MsgID", msgID, "Outputs", len(res.Outputs))
			return res, nil
		}
	}
}

// fold incorporates one message addressed to the originating request and
// reports whether it was the terminal idle status.
func (r *ExecutionResult) fold(msg *messaging.Message, onOutput func(Output)) (bool, error) {
	switch msg.Header.MsgType {
	case messaging.MessageTypeStatus:
		var status messaging.KernelStatus
		if err := msg.DecodeContent(&status); err != nil {
			return false, err
		}
		return status.ExecutionState == messaging.ExecutionStateIdle, nil

	case messaging.MessageTypeStream:
		var stream messaging.Stream
		if err := msg.DecodeContent(&stream); err != nil {
			return false, err
		}
		r.append(Output{
			OutputType: messaging.MessageTypeStream,
			Name:       stream.Name,
			Text:       stream.Text,
		}, onOutput)

	case messaging.MessageTypeDisplayData:
		var display messaging.DisplayData
		if err := msg.DecodeContent(&display); err != nil {
			return false, err
		}
		r.append(Output{
			OutputType: messaging.MessageTypeDisplayData,
			Data:       display.Data,
			Metadata:   display.Metadata,
		}, onOutput)

	case messaging.MessageTypeExecuteResult:
		var result messaging.ExecuteResult
		if err := msg.DecodeContent(&result); err != nil {
			return false, err
		}
		r.append(Output{
			OutputType: messaging.MessageTypeExecuteResult,
			Data:       result.Data,
			Metadata:   result.Metadata,
		}, onOutput)
		if result.ExecutionCount != nil {
			r.ExecutionCount = result.ExecutionCount
		}

	case messaging.MessageTypeError:
		var kerr messaging.ErrorContent
		if err := msg.DecodeContent(&kerr); err != nil {
			return false, err
		}
		r.append(Output{
			OutputType: messaging.MessageTypeError,
			Ename:      kerr.Ename,
			Evalue:     kerr.Evalue,
			Traceback:  kerr.Traceback,
		}, onOutput)

	case messaging.MessageTypeExecuteReply:
		// The reply does not end the exchange: stream output may still be
		// in flight behind it. Only the idle status does.
		var reply messaging.ExecuteReply
		if err := msg.DecodeContent(&reply); err != nil {
			return false, err
		}
		if reply.ExecutionCount != nil {
			r.ExecutionCount = reply.ExecutionCount
		}

	default:
		// e.g. execute_input; not part of the result
	}
	return false, nil
}

func (r *ExecutionResult) append(out Output, onOutput func(Output)) {
	r.Outputs = append(r.Outputs, out)
	if onOutput != nil {
		onOutput(out)
	}
}

// WaitForIdle sends a kernel_info_request and drains the channel until the
// kernel reports it is idle again for that request.
func (c *Client) WaitForIdle(ctx context.Context) error {
	if err := c.Connect(ctx); err != nil {
		return err
	}
	req, err := messaging.New(messaging.ChannelShell, messaging.MessageTypeKernelInfoRequest, c.sessionID, map[string]any{})
	if err != nil {
		return fmt.Errorf("building kernel info request: %w", err)
	}
	if err := c.send(ctx, &req); err != nil {
		return err
	}
	for {
		msg, err := c.receive(ctx)
		if err != nil {
			return &ExecutionError{MsgID: req.Header.MsgID, Err: err}
		}
		if !msg.IsChildOf(req.Header.MsgID) || msg.Header.MsgType != messaging.MessageTypeStatus {
			continue
		}
		var status messaging.KernelStatus
		if err := msg.DecodeContent(&status); err != nil {
			return &ExecutionError{MsgID: req.Header.MsgID, Err: err}
		}
		if status.ExecutionState == messaging.ExecutionStateIdle {
			return nil
		}
	}
}
