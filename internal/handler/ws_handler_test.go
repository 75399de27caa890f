package handler_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/clipexam-backend/internal/model"
	ws "github.com/stemsi/clipexam-backend/internal/websocket"
)

type wsClient struct {
	t    *testing.T
	conn *websocket.Conn
}

func dialRun(t *testing.T, s *testServer, token, examCode string) *wsClient {
	t.Helper()
	srv := httptest.NewServer(s.engine)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/v1/operator/exams/" + examCode + "/run?token=" + token
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)
	t.Cleanup(func() { _ = conn.Close() })
	return &wsClient{t: t, conn: conn}
}

func (c *wsClient) send(action ws.Action, status model.AttemptStatus) {
	require.NoError(c.t, c.conn.WriteJSON(ws.Request{Action: action, Status: status}))
}

func (c *wsClient) expect(event ws.Event) map[string]interface{} {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var msg map[string]interface{}
	require.NoError(c.t, c.conn.ReadJSON(&msg))
	require.Equal(c.t, string(event), msg["event"], "message: %v", msg)
	return msg
}

func TestExamRunStreamDemo(t *testing.T) {
	s := newTestServer(t)
	c := dialRun(t, s, s.operatorToken(t, "OP-1"), "DEMO")

	ready := c.expect(ws.EventReady)
	paper := ready["paper"].(map[string]interface{})
	assert.EqualValues(t, 2, paper["total_count"])

	// C1: press 10.3 s after arming against a 10.0 s ground truth.
	c.send(ws.ActionArm, "")
	armed := c.expect(ws.EventArmed)
	assert.Equal(t, "C1", armed["clip"].(map[string]interface{})["clip_id"])

	s.clock.Advance(10300 * time.Millisecond)
	c.send(ws.ActionPress, "")
	pressed := c.expect(ws.EventPressed)
	assert.Equal(t, true, pressed["accepted"])
	assert.InDelta(t, 10.3, pressed["press_time"], 1e-9)

	c.send(ws.ActionPress, "")
	assert.Equal(t, false, c.expect(ws.EventPressed)["accepted"])

	c.send(ws.ActionEnd, "")
	assert.Equal(t, "C1", c.expect(ws.EventScored)["clip_id"])

	c.send(ws.ActionNext, "")
	assert.Equal(t, "C2", c.expect(ws.EventClip)["clip"].(map[string]interface{})["clip_id"])

	// C2: no press.
	c.send(ws.ActionArm, "")
	c.expect(ws.EventArmed)
	c.send(ws.ActionEnd, "")
	c.expect(ws.EventScored)

	c.send(ws.ActionFinish, "InProgress")
	assert.Equal(t, "INVALID_FINAL_STATUS", c.expect(ws.EventError)["code"])

	c.send(ws.ActionNext, "")
	c.expect(ws.EventComplete)

	c.send(ws.ActionFinish, model.AttemptStatusSubmitted)
	finished := c.expect(ws.EventFinished)
	assert.EqualValues(t, 2, finished["total_score"])

	analysis, err := s.ledger.GetResultsAnalysis(t.Context(), "DEMO")
	require.NoError(t, err)
	assert.Equal(t, 1, analysis.TotalAttempts)
	assert.Equal(t, 1, analysis.CompletedCount)
	assert.Equal(t, 2.0, analysis.AverageScore)
	require.Len(t, analysis.Attempts, 1)
	c1 := analysis.Attempts[0].ClipResults["C1"]
	assert.Equal(t, 1, c1.Outcome)
	require.NotNil(t, c1.ReactionTime)
	assert.InDelta(t, 0.3, *c1.ReactionTime, 1e-9)
}

func TestExamRunStreamDisconnectAbandons(t *testing.T) {
	s := newTestServer(t)
	c := dialRun(t, s, s.operatorToken(t, "OP-2"), "DEMO")
	c.expect(ws.EventReady)

	c.send(ws.ActionArm, "")
	c.expect(ws.EventArmed)
	c.send(ws.ActionEnd, "")
	c.expect(ws.EventScored)
	_ = c.conn.Close()

	require.Eventually(t, func() bool {
		a, err := s.ledger.GetResultsAnalysis(t.Context(), "DEMO")
		return err == nil && a.AttemptedCount == 1
	}, 5*time.Second, 20*time.Millisecond)
}

func TestExamRunStreamRejectsUnknownExam(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.engine)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/v1/operator/exams/NOPE/run?token=" + s.operatorToken(t, "OP-1")
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	var env envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	assert.Equal(t, "UNKNOWN_EXAM_CODE", env.Error.Code)
}
