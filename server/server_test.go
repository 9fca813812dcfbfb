package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/hupe1980/relaymesh/core"
	"github.com/hupe1980/relaymesh/engine"
	"github.com/hupe1980/relaymesh/runner"
	"github.com/hupe1980/relaymesh/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
	)
}

type dispatchFunc func(ctx context.Context, st *core.State) (engine.Result, error)

func (f dispatchFunc) Run(ctx context.Context, st *core.State) (engine.Result, error) {
	return f(ctx, st)
}

// answering notifies one step, answers with a source and persists the turn.
func answering(mem *store.Memory) dispatchFunc {
	return func(ctx context.Context, st *core.State) (engine.Result, error) {
		status, _ := json.Marshal(engine.StatusMessage{Type: "status", Step: core.RouterName})
		_ = st.Deliver(ctx, status)

		st.FinalAnswer = "A savings account earns interest."
		st.Sources = []string{"savings.md"}
		st.FollowUpQuestions = []string{"What are the fees?"}
		st.AppendHistory(core.Turn{Role: core.RoleAssistant, Content: st.FinalAnswer})
		if mem != nil {
			if err := mem.Save(ctx, st.Snapshot()); err != nil {
				return engine.Result{}, err
			}
		}
		return engine.Result{Phase: engine.PhaseTerminal, Steps: 2}, nil
	}
}

type fixture struct {
	ts  *httptest.Server
	hub *Hub
	mem *store.Memory
}

func newFixture(t *testing.T, d runner.Dispatcher) *fixture {
	t.Helper()
	mem := store.NewMemory()
	if d == nil {
		d = answering(mem)
	}
	hub := NewHub()
	r := runner.New(d, func(o *runner.Options) {
		o.Store = mem
		o.Sender = hub
	})
	srv := New(r, hub)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		hub.Close()
		ts.Close()
	})
	return &fixture{ts: ts, hub: hub, mem: mem}
}

func (f *fixture) post(t *testing.T, path, body string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := f.ts.Client().Post(f.ts.URL+path, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	return resp, decode(t, resp)
}

func (f *fixture) get(t *testing.T, path string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := f.ts.Client().Get(f.ts.URL + path)
	require.NoError(t, err)
	return resp, decode(t, resp)
}

func decode(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestChat(t *testing.T) {
	f := newFixture(t, nil)

	resp, body := f.post(t, "/chat", `{"message":"What is a savings account?","user_id":"alice","session_id":"s1"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Equal(t, "success", body["status"])
	assert.Equal(t, "s1", body["session_id"])
	assert.Equal(t, "A savings account earns interest.", body["message"])
	assert.Equal(t, []any{"savings.md"}, body["sources"])
	assert.Equal(t, []any{"What are the fees?"}, body["follow_up_questions"])
	assert.True(t, strings.HasPrefix(body["conversation_id"].(string), "alice_s1_"))
}

func TestChat_InvalidBody(t *testing.T) {
	f := newFixture(t, nil)

	resp, body := f.post(t, "/chat", `{`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "error", body["status"])
}

func TestChat_TurnError(t *testing.T) {
	f := newFixture(t, dispatchFunc(func(context.Context, *core.State) (engine.Result, error) {
		return engine.Result{Phase: engine.PhaseRouting}, core.Fatal(core.RouterName, errors.New("boom"))
	}))

	resp, body := f.post(t, "/chat", `{"message":"hi","session_id":"s1"}`)
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	assert.Equal(t, "error", body["status"])
	assert.Equal(t, runner.Apology, body["message"])
	assert.Equal(t, "turn_error", body["error_type"])
	assert.NotEmpty(t, body["error_id"])
	assert.NotContains(t, body["message"], "boom")
}

func TestHealth(t *testing.T) {
	f := newFixture(t, nil)

	resp, body := f.get(t, "/health")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, float64(0), body["connections"])
}

func TestEndSession(t *testing.T) {
	f := newFixture(t, nil)

	_, body := f.post(t, "/end-session?session_id=nope", ``)
	assert.Equal(t, "not_found", body["status"])
	assert.Equal(t, "Session not found", body["message"])

	f.post(t, "/chat", `{"message":"hi","session_id":"s1"}`)
	_, body = f.post(t, "/end-session?session_id=s1", ``)
	assert.Equal(t, "success", body["status"])
	assert.Equal(t, "Session ended", body["message"])

	resp, _ := f.post(t, "/end-session", ``)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSessions(t *testing.T) {
	f := newFixture(t, nil)
	f.post(t, "/chat", `{"message":"first","user_id":"alice","session_id":"s1"}`)

	resp, body := f.get(t, "/sessions?user_id=alice")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	sessions := body["sessions"].([]any)
	require.Len(t, sessions, 1)
	s := sessions[0].(map[string]any)
	assert.Equal(t, "s1", s["id"])
	assert.Equal(t, "first", s["first_message"])
	assert.Equal(t, float64(2), s["message_count"])
	assert.NotContains(t, s, "messages")

	resp, body = f.get(t, "/sessions/s1")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	detail := body["session"].(map[string]any)
	assert.Len(t, detail["messages"], 2)

	resp, _ = f.get(t, "/sessions/missing")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCORS(t *testing.T) {
	f := newFixture(t, nil)

	req, err := http.NewRequest(http.MethodOptions, f.ts.URL+"/chat", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", DefaultOrigin)
	resp, err := f.ts.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, DefaultOrigin, resp.Header.Get("Access-Control-Allow-Origin"))

	req.Header.Set("Origin", "http://evil.example")
	resp, err = f.ts.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestWebSocket(t *testing.T) {
	f := newFixture(t, nil)

	url := "ws" + strings.TrimPrefix(f.ts.URL, "http") + "/ws/s1?user_id=alice"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer ws.Close()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))

	var status wsStatus
	require.NoError(t, ws.ReadJSON(&status))
	assert.Equal(t, "connection_status", status.Type)
	assert.Equal(t, "s1", status.SessionID)
	assert.Equal(t, 1, f.hub.Connections())

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte("ping")))
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte("What is a savings account?")))

	var step engine.StatusMessage
	require.NoError(t, ws.ReadJSON(&step))
	assert.Equal(t, "status", step.Type)
	assert.Equal(t, core.RouterName, step.Step)

	var reply wsReply
	require.NoError(t, ws.ReadJSON(&reply))
	assert.Equal(t, "message", reply.Type)
	assert.Equal(t, "A savings account earns interest.", reply.Message)
	assert.Equal(t, []string{"• savings.md"}, reply.Sources)
	assert.Equal(t, []string{"What are the fees?"}, reply.FollowUpQuestions)
	assert.True(t, strings.HasPrefix(reply.ConversationID, "alice_s1_"))
}

func TestWebSocket_TurnError(t *testing.T) {
	f := newFixture(t, dispatchFunc(func(context.Context, *core.State) (engine.Result, error) {
		return engine.Result{}, core.Fatal(core.RouterName, errors.New("boom"))
	}))

	url := "ws" + strings.TrimPrefix(f.ts.URL, "http") + "/ws/s1"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer ws.Close()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))

	var status wsStatus
	require.NoError(t, ws.ReadJSON(&status))

	require.NoError(t, ws.WriteJSON(map[string]string{"message": "hi"}))

	var out wsError
	require.NoError(t, ws.ReadJSON(&out))
	assert.Equal(t, "error", out.Type)
	assert.Equal(t, wsApology, out.Message)
	assert.NotEmpty(t, out.ErrorID)
}

func TestHub_SendWithoutConnection(t *testing.T) {
	hub := NewHub()
	assert.NoError(t, hub.Send(context.Background(), "none", []byte("x")))
	assert.Equal(t, 0, hub.Connections())
}
