package stream

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openclaude/jobstream/internal/sse"
	"github.com/openclaude/jobstream/internal/testutil"
)

// runChunks runs a session over chunks, one chunk per read.
func runChunks(t *testing.T, opts Options, chunks ...string) (*Session, Outcome) {
	t.Helper()
	session := NewSession(opts)
	outcome := session.Run(context.Background(), testutil.Opener(testutil.NewChunkReader(chunks...)))
	return session, outcome
}

func TestSessionEndToEndChatScenario(t *testing.T) {
	stream := "event: tool_call\ndata: {\"tool\":\"buscar\",\"duration_ms\":120}\n\n" +
		"event: chunk\ndata: {\"content\":\"Resultado: \"}\n\n" +
		"event: status\ndata: {\"status\":\"completed\",\"exit_code\":0}\n\n"

	session, outcome := runChunks(t, Options{Mode: sse.ModeChat}, stream)

	require.Equal(t, OutcomeCompleted, outcome.Kind)
	require.NoError(t, outcome.Err)
	state := session.Snapshot().State
	assert.Equal(t, []sse.ToolCall{{Tool: "buscar", DurationMs: 120}}, state.ToolSteps)
	assert.Equal(t, []Message{{Role: "assistant", Content: "Resultado: "}}, state.Messages)
	assert.Empty(t, state.StreamingText)
	assert.Equal(t, StatusCompleted, state.Status)
	require.NotNil(t, state.ExitCode)
	assert.Equal(t, 0, *state.ExitCode)
	assert.Nil(t, state.ErrorMessage)
}

func TestSessionIsChunkBoundaryIndependent(t *testing.T) {
	stream := testutil.Frame("output", `{"line":"héllo wörld"}`) +
		testutil.Frame("error", `{"line":"warn"}`) +
		testutil.Frame("chunk", `{"content":"ignored in console"}`) +
		testutil.Frame("", "not-json") +
		"event: status\ndata: {\"status\":\"completed\",\"exit_code\":0,\"duration_seconds\":1.5}"

	reference, outcome := runChunks(t, Options{Mode: sse.ModeConsole, RunID: "run"}, stream)
	require.Equal(t, OutcomeCompleted, outcome.Kind)
	want := reference.Snapshot()
	require.Len(t, want.Lines, 3)
	require.Equal(t, 5, want.Applied)

	for size := 1; size < len(stream); size++ {
		session, outcome := runChunks(t, Options{Mode: sse.ModeConsole, RunID: "run"}, testutil.SplitEvery(stream, size)...)
		require.Equal(t, OutcomeCompleted, outcome.Kind, "split size %d", size)
		require.Equal(t, want, session.Snapshot(), "split size %d", size)
	}
}

func TestSessionSplitFrameMatchesSingleChunk(t *testing.T) {
	whole, _ := runChunks(t, Options{Mode: sse.ModeChat, RunID: "r"}, "event: chunk\ndata: {\"content\":\"hi\"}\n\n")
	split, _ := runChunks(t, Options{Mode: sse.ModeChat, RunID: "r"}, "event: chunk\nda", "ta: {\"content\":\"hi\"}\n\n")

	assert.Equal(t, whole.Snapshot(), split.Snapshot())
	assert.Equal(t, []Message{{Role: "assistant", Content: "hi"}}, split.Snapshot().Messages)
}

func TestSessionAppliesTrailingFrameWithoutBlankLine(t *testing.T) {
	session, outcome := runChunks(t, Options{Mode: sse.ModeConsole},
		testutil.Frame("output", `{"line":"one"}`),
		"event: status\ndata: {\"status\":\"failed\",\"exit_code\":1,\"error\":\"exit 1\"}")

	require.Equal(t, OutcomeFailed, outcome.Kind)
	assert.ErrorIs(t, outcome.Err, ErrUpstreamFailure)
	assert.Equal(t, "exit 1", outcome.Message)
	state := session.Snapshot().State
	require.Len(t, state.Lines, 1)
	assert.Equal(t, StatusFailed, state.Status)
	assert.Equal(t, 1, *state.ExitCode)
}

func TestSessionCancelMidBatchStopsApplying(t *testing.T) {
	var batch strings.Builder
	for i := 1; i <= 5; i++ {
		batch.WriteString(testutil.Frame("output", fmt.Sprintf(`{"line":"line %d"}`, i)))
	}

	var session *Session
	session = NewSession(Options{
		Mode: sse.ModeConsole,
		OnSnapshot: func(snapshot Snapshot) {
			if snapshot.Applied == 2 {
				session.Cancel()
			}
		},
	})
	outcome := session.Run(context.Background(), testutil.Opener(testutil.NewChunkReader(batch.String())))

	require.Equal(t, OutcomeAborted, outcome.Kind)
	assert.ErrorIs(t, outcome.Err, ErrCancelled)
	state := session.Snapshot().State
	require.Len(t, state.Lines, 2)
	assert.Equal(t, "line 1", state.Lines[0].Text)
	assert.Equal(t, "line 2", state.Lines[1].Text)
	assert.Equal(t, 2, session.Snapshot().Applied)
}

func TestSessionRejectedBeforeStreaming(t *testing.T) {
	rejection := fmt.Errorf("%w: status 404: job not found", ErrTransportRejected)
	session := NewSession(Options{Mode: sse.ModeConsole})

	outcome := session.Run(context.Background(), testutil.FailingOpener(rejection))

	require.Equal(t, OutcomeFailed, outcome.Kind)
	assert.ErrorIs(t, outcome.Err, ErrTransportRejected)
	assert.Contains(t, outcome.Message, "job not found")
	snapshot := session.Snapshot()
	assert.Zero(t, snapshot.Applied)
	assert.Equal(t, StatusFailed, snapshot.Status)
}

func TestSessionInterruptedKeepsPartialOutput(t *testing.T) {
	reader := testutil.ErrorAfterReader(errors.New("connection reset"),
		testutil.Frame("output", `{"line":"compiling"}`),
		testutil.Frame("chunk", `{"content":"ignored"}`))
	session := NewSession(Options{Mode: sse.ModeConsole})

	outcome := session.Run(context.Background(), testutil.Opener(reader))

	require.Equal(t, OutcomeFailed, outcome.Kind)
	assert.ErrorIs(t, outcome.Err, ErrTransportInterrupted)
	state := session.Snapshot().State
	require.Len(t, state.Lines, 1)
	assert.Equal(t, StatusFailed, state.Status)
	assert.Equal(t, "connection reset", *state.ErrorMessage)
}

func TestSessionInterruptedChatFinalizesPartialText(t *testing.T) {
	reader := testutil.ErrorAfterReader(errors.New("unexpected EOF"), testutil.Frame("chunk", `{"content":"half an ans"}`))
	session := NewSession(Options{Mode: sse.ModeChat})

	outcome := session.Run(context.Background(), testutil.Opener(reader))

	require.Equal(t, OutcomeFailed, outcome.Kind)
	assert.Equal(t, []Message{{Role: "assistant", Content: "half an ans"}}, session.Snapshot().Messages)
}

// runUntilApplied starts a stalled session and waits for n applied events.
func runUntilApplied(t *testing.T, mode sse.Mode, n int, chunks ...string) (*Session, <-chan Outcome) {
	t.Helper()
	reached := make(chan struct{})
	var once sync.Once
	session := NewSession(Options{
		Mode: mode,
		OnSnapshot: func(snapshot Snapshot) {
			if snapshot.Applied >= n {
				once.Do(func() { close(reached) })
			}
		},
	})
	outcomes := make(chan Outcome, 1)
	go func() {
		outcomes <- session.Run(context.Background(), testutil.StallingOpener(chunks...))
	}()
	select {
	case <-reached:
	case <-time.After(5 * time.Second):
		t.Fatal("session did not apply events in time")
	}
	return session, outcomes
}

func awaitOutcome(t *testing.T, outcomes <-chan Outcome) Outcome {
	t.Helper()
	select {
	case outcome := <-outcomes:
		return outcome
	case <-time.After(5 * time.Second):
		t.Fatal("session did not resolve in time")
		return Outcome{}
	}
}

func TestSessionCancelDuringStalledRead(t *testing.T) {
	session, outcomes := runUntilApplied(t, sse.ModeChat, 1, testutil.Frame("chunk", `{"content":"draft"}`))

	session.Cancel()
	outcome := awaitOutcome(t, outcomes)

	require.Equal(t, OutcomeAborted, outcome.Kind)
	assert.Equal(t, outcome, session.Outcome())
	state := session.Snapshot().State
	assert.Equal(t, []Message{{Role: "assistant", Content: "draft"}}, state.Messages)
	assert.Equal(t, StatusRunning, state.Status)
}

func TestSessionClearDiscardsPendingText(t *testing.T) {
	session, outcomes := runUntilApplied(t, sse.ModeChat, 1, testutil.Frame("chunk", `{"content":"draft"}`))

	session.Clear()
	outcome := awaitOutcome(t, outcomes)

	require.Equal(t, OutcomeAborted, outcome.Kind)
	state := session.Snapshot().State
	assert.Empty(t, state.Messages)
	assert.Empty(t, state.StreamingText)
}

func TestSessionContextCancellationAborts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	session := NewSession(Options{Mode: sse.ModeConsole})
	outcomes := make(chan Outcome, 1)
	go func() {
		outcomes <- session.Run(ctx, testutil.StallingOpener(testutil.Frame("output", `{"line":"x"}`)))
	}()

	cancel()
	outcome := awaitOutcome(t, outcomes)

	assert.Equal(t, OutcomeAborted, outcome.Kind)
	assert.True(t, session.Cancelled())
}

func TestSessionCancelBeforeRun(t *testing.T) {
	reader := testutil.NewChunkReader(testutil.Frame("output", `{"line":"x"}`))
	session := NewSession(Options{Mode: sse.ModeConsole})
	session.Cancel()

	outcome := session.Run(context.Background(), testutil.Opener(reader))

	assert.Equal(t, OutcomeAborted, outcome.Kind)
	assert.Empty(t, session.Snapshot().Lines)
}

func TestSessionEndWithoutStatus(t *testing.T) {
	t.Run("console completes", func(t *testing.T) {
		session, outcome := runChunks(t, Options{Mode: sse.ModeConsole}, testutil.Frame("output", `{"line":"done"}`))
		assert.Equal(t, OutcomeCompleted, outcome.Kind)
		assert.Equal(t, StatusCompleted, session.Snapshot().Status)
		assert.Empty(t, session.Snapshot().Messages)
	})

	t.Run("chat without output gets fallback message", func(t *testing.T) {
		session, outcome := runChunks(t, Options{Mode: sse.ModeChat}, testutil.Frame("heartbeat", `{}`))
		assert.Equal(t, OutcomeCompleted, outcome.Kind)
		assert.Equal(t, []Message{{Role: "assistant", Content: noResponseMessage}}, session.Snapshot().Messages)
	})

	t.Run("chat with text keeps it", func(t *testing.T) {
		session, _ := runChunks(t, Options{Mode: sse.ModeChat}, testutil.Frame("chunk", `{"content":"answer"}`))
		assert.Equal(t, []Message{{Role: "assistant", Content: "answer"}}, session.Snapshot().Messages)
	})
}

func TestSessionChatThinkingFlow(t *testing.T) {
	session, outcome := runChunks(t, Options{Mode: sse.ModeChat},
		testutil.Frame("chunk", `{"content":"Let me check the portfolio."}`),
		testutil.Frame("clear_streaming", `{}`),
		testutil.Frame("tool_call", `{"tool":"get_positions","input_summary":"fund=A","result_summary":"12 rows","duration_ms":30,"iteration":1}`),
		testutil.Frame("chunk", `{"content":"You hold 12 positions."}`),
		testutil.Frame("error", `{"message":"quota"}`))

	require.Equal(t, OutcomeCompleted, outcome.Kind)
	state := session.Snapshot().State
	assert.Equal(t, []string{"Let me check the portfolio."}, state.ThinkingSegments)
	require.Len(t, state.ToolSteps, 1)
	assert.Equal(t, "12 rows", state.ToolSteps[0].ResultSummary)
	assert.Equal(t, []Message{{Role: "assistant", Content: "You hold 12 positions.\n\nError: quota"}}, state.Messages)
}

func TestSessionClearStreamingWithoutPayload(t *testing.T) {
	for _, data := range []string{"null", "", "{}"} {
		t.Run("data="+data, func(t *testing.T) {
			session, outcome := runChunks(t, Options{Mode: sse.ModeChat},
				testutil.Frame("chunk", `{"content":"reasoning"}`),
				testutil.Frame("clear_streaming", data),
				testutil.Frame("ping", "keepalive"),
				testutil.Frame("chunk", `{"content":"answer"}`))

			require.Equal(t, OutcomeCompleted, outcome.Kind)
			state := session.Snapshot().State
			assert.Equal(t, []string{"reasoning"}, state.ThinkingSegments)
			assert.Equal(t, []Message{{Role: "assistant", Content: "answer"}}, state.Messages)
		})
	}
}

func TestSessionKeepsToolStepWithFractionalDuration(t *testing.T) {
	frame := testutil.Frame("tool_call", `{"tool":"buscar","duration_ms":120.5,"iteration":1}`)
	for _, mode := range []sse.Mode{sse.ModeConsole, sse.ModeChat} {
		t.Run(mode.String(), func(t *testing.T) {
			session, outcome := runChunks(t, Options{Mode: mode}, frame)

			require.Equal(t, OutcomeCompleted, outcome.Kind)
			state := session.Snapshot().State
			assert.Equal(t, []sse.ToolCall{{Tool: "buscar", DurationMs: 121, Iteration: 1}}, state.ToolSteps)
			assert.Empty(t, state.Lines)
			for _, message := range state.Messages {
				assert.NotContains(t, message.Content, "buscar")
			}
		})
	}
}

func TestSessionIgnoresNonObjectStatus(t *testing.T) {
	session, outcome := runChunks(t, Options{Mode: sse.ModeConsole},
		testutil.Frame("output", `{"line":"one"}`),
		testutil.Frame("status", "null"),
		testutil.Frame("tool_call", "oops"))

	require.Equal(t, OutcomeCompleted, outcome.Kind)
	state := session.Snapshot().State
	require.Len(t, state.Lines, 1)
	assert.Equal(t, "one", state.Lines[0].Text)
	assert.Empty(t, state.ToolSteps)
	assert.Nil(t, state.ExitCode)
	assert.Equal(t, 3, session.Snapshot().Applied)
}

func TestSessionRecordsChunksAndSnapshots(t *testing.T) {
	var chunks []string
	var applied []int
	_, outcome := runChunks(t, Options{
		Mode:       sse.ModeConsole,
		RunID:      "fixed",
		OnChunk:    func(text string) { chunks = append(chunks, text) },
		OnSnapshot: func(snapshot Snapshot) { applied = append(applied, snapshot.Applied) },
	}, "data: {\"line\":\"a\"}\n", "\n")

	require.Equal(t, OutcomeCompleted, outcome.Kind)
	assert.Equal(t, []string{"data: {\"line\":\"a\"}\n", "\n"}, chunks)
	// start, one event, terminal.
	assert.Equal(t, []int{0, 1, 1}, applied)
}

func TestSessionRunTwiceFails(t *testing.T) {
	session, _ := runChunks(t, Options{Mode: sse.ModeConsole})

	outcome := session.Run(context.Background(), testutil.Opener(testutil.NewChunkReader()))

	assert.Equal(t, OutcomeFailed, outcome.Kind)
}
