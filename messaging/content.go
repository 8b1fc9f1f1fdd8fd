package messaging

// ExecuteRequest is the content of an "execute_request" shell message.
type ExecuteRequest struct {
	Code            string         `json:"code"`
	Silent          bool           `json:"silent"`
	StoreHistory    bool           `json:"store_history"`
	UserExpressions map[string]any `json:"user_expressions"`
	AllowStdin      bool           `json:"allow_stdin"`
	StopOnError     bool           `json:"stop_on_error"`
}

// NewExecuteRequest returns execute_request content with the protocol's
// default flags: not silent, history stored, stdin allowed.
func NewExecuteRequest(code string) ExecuteRequest {
	return ExecuteRequest{
		Code:            code,
		StoreHistory:    true,
		UserExpressions: map[string]any{},
		AllowStdin:      true,
		StopOnError:     true,
	}
}

// ExecuteReply is the content of an "execute_reply" shell message.
// Status is "ok", "error" or "aborted".
type ExecuteReply struct {
	Status         string `json:"status"`
	ExecutionCount *int   `json:"execution_count,omitempty"`
}

// ExecuteResult is the content of an "execute_result" iopub message.
// Data maps MIME types to representations of the result value.
type ExecuteResult struct {
	Data           map[string]any `json:"data"`
	Metadata       map[string]any `json:"metadata"`
	ExecutionCount *int           `json:"execution_count,omitempty"`
}

// DisplayData is the content of a "display_data" iopub message.
type DisplayData struct {
	Data     map[string]any `json:"data"`
	Metadata map[string]any `json:"metadata"`
}

// Stream is the content of a "stream" iopub message. Name is "stdout" or
// "stderr".
type Stream struct {
	Name string `json:"name"`
	Text string `json:"text"`
}

// ErrorContent is the content of an "error" iopub message.
type ErrorContent struct {
	Ename     string   `json:"ename"`
	Evalue    string   `json:"evalue"`
	Traceback []string `json:"traceback"`
}

// KernelStatus is the content of a "status" iopub message.
type KernelStatus struct {
	ExecutionState string `json:"execution_state"`
}
