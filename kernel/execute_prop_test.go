package kernel

import (
	"context"
	"net/http/httptest"
	"net/url"
	"reflect"
	"strconv"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/jupytergo/kernelws/internal/kerneltest"
	"github.com/jupytergo/kernelws/messaging"
)

// streamingKernel emits one stream message per text, alternating stdout and
// stderr, then the reply and the idle status.
func streamingKernel(texts []string) func(s *kerneltest.Session, msg messaging.Message) {
	return func(s *kerneltest.Session, msg messaging.Message) {
		parent := msg.Header
		s.Busy(parent)
		for i, text := range texts {
			name := "stdout"
			if i%2 == 1 {
				name = "stderr"
			}
			s.Stream(parent, name, text)
		}
		count := s.Server().NextExecutionCount()
		s.Reply(parent, "ok", &count)
		s.Idle(parent)
	}
}

func executeAgainst(handle func(s *kerneltest.Session, msg messaging.Message)) (*ExecutionResult, error) {
	srv := &kerneltest.Server{Log: log.Named("kerneltest"), Handle: handle}
	hs := httptest.NewServer(srv.Router())
	defer hs.Close()

	u, err := url.Parse(hs.URL)
	if err != nil {
		return nil, err
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		return nil, err
	}
	client, err := NewClient(u.Hostname(), port, "prop-kernel", "", WithLogger(zlog))
	if err != nil {
		return nil, err
	}
	defer client.Close()
	return client.Execute(context.Background(), "emit()")
}

func TestExecuteProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50

	properties := gopter.NewProperties(parameters)

	properties.Property("outputs preserve arrival order and content", prop.ForAll(
		func(texts []string) bool {
			res, err := executeAgainst(streamingKernel(texts))
			if err != nil {
				return false
			}
			if len(res.Outputs) != len(texts) {
				return false
			}
			for i, out := range res.Outputs {
				expName := "stdout"
				if i%2 == 1 {
					expName = "stderr"
				}
				if out.OutputType != "stream" || out.Name != expName || out.Text != texts[i] {
					return false
				}
			}
			return res.ExecutionCount != nil
		},
		gen.SliceOf(gen.AnyString()),
	))

	properties.Property("a fixed message sequence yields the same result", prop.ForAll(
		func(texts []string) bool {
			first, err := executeAgainst(streamingKernel(texts))
			if err != nil {
				return false
			}
			second, err := executeAgainst(streamingKernel(texts))
			if err != nil {
				return false
			}
			// fresh servers, so the counters match too
			return reflect.DeepEqual(first, second)
		},
		gen.SliceOf(gen.AnyString()),
	))

	properties.TestingRun(t)
}
