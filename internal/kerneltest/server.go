// Package kerneltest provides a scriptable stand-in for a notebook server's
// kernel channels endpoint, for use in tests.
package kerneltest

import (
	"context"
	"net/http"
	"sync"

	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/jupytergo/kernelws/messaging"
)

// Server emulates the kernel side of the channels WebSocket. Handle is
// invoked for every inbound message and decides what the fake kernel sends
// back; if nil, the server behaves like an idle kernel that produces no
// output (it still acknowledges requests and reports idle).
type Server struct {
	Log    *zap.SugaredLogger
	Token  string
	Handle func(s *Session, msg messaging.Message)

	mut       sync.Mutex
	execCount int
	accepted  int
}

// Router returns the HTTP handler serving the channels endpoint, suitable
// for httptest.NewServer.
func (s *Server) Router() http.Handler {
	router := httprouter.New()
	router.GET("/api/kernels/:kernel/channels", s.channels)
	return router
}

// Accepted reports how many WebSocket connections the server has accepted.
func (s *Server) Accepted() int {
	s.mut.Lock()
	defer s.mut.Unlock()
	return s.accepted
}

// NextExecutionCount increments and returns the fake kernel's execution
// counter.
func (s *Server) NextExecutionCount() int {
	s.mut.Lock()
	defer s.mut.Unlock()
	s.execCount++
	return s.execCount
}

func (s *Server) channels(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	if s.Token != "" && r.Header.Get("Authorization") != "token "+s.Token {
		s.Log.Debugw("rejecting connection", "Authorization", r.Header.Get("Authorization"))
		http.Error(w, "invalid token", http.StatusForbidden)
		return
	}
	wsConn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.Log.Debugf("error accepting WebSocket conn: %s", err)
		return
	}
	s.mut.Lock()
	s.accepted++
	s.mut.Unlock()

	sess := &Session{
		log:      s.Log.Named("session"),
		server:   s,
		kernelID: params.ByName("kernel"),
		ctx:      r.Context(),
		conn:     wsConn,
	}
	handle := s.Handle
	if handle == nil {
		handle = IdleKernel
	}
	for {
		var msg messaging.Message
		if err := wsjson.Read(sess.ctx, wsConn, &msg); err != nil {
			s.Log.Debugf("session read error: %s", err)
			wsConn.Close(websocket.StatusNormalClosure, "")
			return
		}
		handle(sess, msg)
	}
}

// Session is one accepted channels connection. Its helpers emit messages
// parented to a given request header, the way a real kernel addresses its
// replies.
type Session struct {
	log      *zap.SugaredLogger
	server   *Server
	kernelID string
	ctx      context.Context
	conn     *websocket.Conn
}

// Server returns the owning fake server.
func (s *Session) Server() *Server { return s.server }

// Send writes an arbitrary message to the client.
func (s *Session) Send(msg messaging.Message) {
	if err := wsjson.Write(s.ctx, s.conn, &msg); err != nil {
		s.log.Debugf("session write error: %s", err)
	}
}

// Close tears the connection down without a normal closure, as a dying
// kernel or server would.
func (s *Session) Close() {
	s.conn.Close(websocket.StatusInternalError, "kernel died")
}

func (s *Session) emit(channel, msgType string, parent messaging.Header, content any) {
	msg, err := messaging.New(channel, msgType, s.kernelID, content)
	if err != nil {
		s.log.Debugf("error building %s message: %s", msgType, err)
		return
	}
	msg.ParentHeader = parent
	s.Send(msg)
}

// Busy emits an iopub busy status for the given request.
func (s *Session) Busy(parent messaging.Header) {
	s.emit(messaging.ChannelIOPub, messaging.MessageTypeStatus, parent, messaging.KernelStatus{ExecutionState: messaging.ExecutionStateBusy})
}

// Idle emits the iopub idle status that ends the request's exchange.
func (s *Session) Idle(parent messaging.Header) {
	s.emit(messaging.ChannelIOPub, messaging.MessageTypeStatus, parent, messaging.KernelStatus{ExecutionState: messaging.ExecutionStateIdle})
}

// Stream emits stream output on the named stream ("stdout" or "stderr").
func (s *Session) Stream(parent messaging.Header, name, text string) {
	s.emit(messaging.ChannelIOPub, messaging.MessageTypeStream, parent, messaging.Stream{Name: name, Text: text})
}

// DisplayData emits a display_data message.
func (s *Session) DisplayData(parent messaging.Header, data, metadata map[string]any) {
	s.emit(messaging.ChannelIOPub, messaging.MessageTypeDisplayData, parent, messaging.DisplayData{Data: data, Metadata: metadata})
}

// Result emits an execute_result carrying the given execution count.
func (s *Session) Result(parent messaging.Header, count int, data map[string]any) {
	s.emit(messaging.ChannelIOPub, messaging.MessageTypeExecuteResult, parent, messaging.ExecuteResult{
		Data:           data,
		Metadata:       map[string]any{},
		ExecutionCount: &count,
	})
}

// Error emits an iopub error message.
func (s *Session) Error(parent messaging.Header, ename, evalue string, traceback []string) {
	s.emit(messaging.ChannelIOPub, messaging.MessageTypeError, parent, messaging.ErrorContent{Ename: ename, Evalue: evalue, Traceback: traceback})
}

// Reply emits the shell execute_reply with the given status and, if count is
// non-nil, an execution count.
func (s *Session) Reply(parent messaging.Header, status string, count *int) {
	s.emit(messaging.ChannelShell, messaging.MessageTypeExecuteReply, parent, messaging.ExecuteReply{Status: status, ExecutionCount: count})
}

// KernelInfoReply emits a minimal kernel_info_reply.
func (s *Session) KernelInfoReply(parent messaging.Header) {
	s.emit(messaging.ChannelShell, messaging.MessageTypeKernelInfoReply, parent, map[string]any{"status": "ok", "protocol_version": messaging.ProtocolVersion})
}

// IdleKernel handles requests the way a healthy kernel with nothing to say
// would: execute requests are acknowledged with an incremented execution
// count and no output, kernel info requests with a kernel_info_reply, and
// every request ends with the idle status.
func IdleKernel(s *Session, msg messaging.Message) {
	parent := msg.Header
	switch msg.Header.MsgType {
	case messaging.MessageTypeExecuteRequest:
		s.Busy(parent)
		count := s.server.NextExecutionCount()
		s.Reply(parent, "ok", &count)
		s.Idle(parent)
	case messaging.MessageTypeKernelInfoRequest:
		s.Busy(parent)
		s.KernelInfoReply(parent)
		s.Idle(parent)
	}
}
