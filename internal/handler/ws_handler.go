package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/clipexam-backend/internal/metrics"
	"github.com/stemsi/clipexam-backend/internal/middleware"
	"github.com/stemsi/clipexam-backend/internal/model"
	"github.com/stemsi/clipexam-backend/internal/response"
	"github.com/stemsi/clipexam-backend/internal/scoring"
	"github.com/stemsi/clipexam-backend/internal/service"
	ws "github.com/stemsi/clipexam-backend/internal/websocket"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler hosts server-side scored exam runs over WebSocket.
type WSHandler struct {
	catalogService    *service.CatalogService
	ledgerService     *service.LedgerService
	sessionLogService *service.SessionLogService
	scoring           scoring.Config
	clock             scoring.Clock
	metrics           *metrics.Manager
	log               zerolog.Logger
	upgrader          websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(
	catalogService *service.CatalogService,
	ledgerService *service.LedgerService,
	sessionLogService *service.SessionLogService,
	scoringCfg scoring.Config,
	m *metrics.Manager,
	log zerolog.Logger,
	allowedOrigins []string,
) *WSHandler {
	return &WSHandler{
		catalogService:    catalogService,
		ledgerService:     ledgerService,
		sessionLogService: sessionLogService,
		scoring:           scoringCfg,
		clock:             scoring.RealClock,
		metrics:           m,
		log:               log.With().Str("component", "ws_handler").Logger(),
		upgrader:          buildUpgrader(allowedOrigins),
	}
}

// WithClock replaces the clock driving clip timers.
func (h *WSHandler) WithClock(clock scoring.Clock) *WSHandler {
	h.clock = clock
	return h
}

// ExamRunStream godoc
// WS /ws/v1/operator/exams/:exam_code/run?token=...
// Plays the exam's clips in order: the client arms each clip when playback
// starts, forwards presses, and asks for the next clip once the current one is
// scored. Disconnecting after the first clip was armed abandons the attempt.
func (h *WSHandler) ExamRunStream(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	examCode := service.NormalizeExamCode(c.Param("exam_code"))
	paper, err := h.catalogService.GetExamPaper(c.Request.Context(), examCode)
	if err != nil {
		failWith(c, err)
		return
	}
	clips, err := h.catalogService.ListActiveClips(c.Request.Context(), examCode)
	if err != nil {
		failWith(c, err)
		return
	}

	raw, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	conn := ws.NewConn(raw, ws.ReadWaitFor(h.scoring.ClipDuration))
	defer conn.Close()

	operatorID := claims.OperatorID
	wsLog := h.log.With().
		Str("operator_id", operatorID).
		Str("exam_code", examCode).
		Logger()

	run, err := scoring.NewRun(scoring.RunParams{
		UserID:   operatorID,
		ExamCode: examCode,
		Clips:    clips,
		Config:   h.scoring,
		Recorder: h.ledgerService,
		Clock:    h.clock,
		OnScored: func(index int, res scoring.Result) {
			h.metrics.ClipScored(res.Outcome)
			if err := conn.WriteTyped(ws.ScoredResponse{Event: ws.EventScored, Index: index, ClipID: res.ClipID}); err != nil {
				wsLog.Debug().Err(err).Msg("Scored event not delivered")
			}
		},
	})
	if err != nil {
		_ = conn.WriteError(string(response.ErrUnknownExamCode), err.Error(), false)
		return
	}

	h.metrics.RunStarted()
	defer h.metrics.RunEnded()
	wsLog.Info().Int("clips", run.Len()).Msg("Operator connected")

	_ = conn.WriteTyped(ws.ReadyResponse{Event: ws.EventReady, Paper: paper, Index: 0})

	s := &runSession{h: h, conn: conn, run: run, operatorID: operatorID, examCode: examCode, ip: c.ClientIP(), log: wsLog}
	s.loop()
	s.abandon()
}

type runSession struct {
	h          *WSHandler
	conn       *ws.Conn
	run        *scoring.Run
	operatorID string
	examCode   string
	ip         string
	log        zerolog.Logger
	logged     bool
}

func (s *runSession) loop() {
	for {
		var msg ws.Request
		if err := s.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Warn().Err(err).Msg("Unexpected close")
			} else {
				s.log.Debug().Msg("Connection closed")
			}
			return
		}

		switch msg.Action {
		case ws.ActionArm:
			s.handleArm()
		case ws.ActionPress:
			s.handlePress()
		case ws.ActionEnd:
			s.handleEnd()
		case ws.ActionNext:
			s.handleNext()
		case ws.ActionFinish:
			if s.handleFinish(msg.Status) {
				return
			}
		case ws.ActionPing:
			_ = s.conn.WriteTyped(ws.PongResponse{Event: ws.EventPong})
		default:
			s.log.Warn().Str("action", string(msg.Action)).Msg("Unknown action")
			_ = s.conn.WriteError(string(response.ErrInvalidPayload), "unknown action: "+string(msg.Action), false)
		}
	}
}

func (s *runSession) handleArm() {
	clip, err := s.run.Arm()
	if err != nil {
		s.writeErr(err)
		return
	}
	_, idx := s.run.Current()
	if !s.logged {
		s.logged = true
		s.logSession(model.SessionActionStart, nil)
	}
	_ = s.conn.WriteTyped(ws.ClipResponse{Event: ws.EventArmed, Index: idx, Clip: clip.ForOperator()})
}

func (s *runSession) handlePress() {
	at, ok := s.run.Press()
	_ = s.conn.WriteTyped(ws.PressedResponse{Event: ws.EventPressed, Accepted: ok, PressTime: at})
}

func (s *runSession) handleEnd() {
	// The scored event is emitted by the run's hook.
	if _, err := s.run.EndClip(); err != nil {
		s.writeErr(err)
	}
}

func (s *runSession) handleNext() {
	ctx, cancel := context.WithTimeout(context.Background(), ledgerWriteTimeout)
	defer cancel()

	next, done, err := s.run.Next(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("Advance refused")
		s.writeErr(err)
		return
	}
	if done {
		_ = s.conn.WriteTyped(ws.CompleteResponse{Event: ws.EventComplete})
		return
	}
	_, idx := s.run.Current()
	_ = s.conn.WriteTyped(ws.ClipResponse{Event: ws.EventClip, Index: idx, Clip: next.ForOperator()})
}

// handleFinish reports whether the run is over.
func (s *runSession) handleFinish(status model.AttemptStatus) bool {
	if !status.Terminal() {
		s.writeErr(service.ErrInvalidFinalStatus)
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), ledgerWriteTimeout)
	defer cancel()

	summary, err := s.run.Finish(ctx, status)
	if err != nil {
		s.log.Warn().Err(err).Msg("Finish refused")
		s.writeErr(err)
		return false
	}

	s.logSession(model.SessionActionFinish, map[string]string{"status": string(status)})
	s.log.Info().Str("status", string(status)).Int("total_score", summary.TotalScore).Msg("Run finished")
	_ = s.conn.WriteTyped(ws.FinishedResponse{
		Event:      ws.EventFinished,
		Status:     summary.Status,
		TotalScore: summary.TotalScore,
		ClipCount:  len(summary.Results),
		EndTime:    summary.EndTime.Format(time.RFC3339),
	})
	return true
}

// abandon closes a started run that the client left without finishing.
func (s *runSession) abandon() {
	if s.run.Finished() || !s.run.Started() {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), ledgerWriteTimeout)
	defer cancel()

	if _, err := s.run.Finish(ctx, model.AttemptStatusAttempted); err != nil && !errors.Is(err, scoring.ErrRunFinished) {
		s.log.Error().Err(err).Msg("Abandoned run could not be finalized")
		return
	}
	s.logSession(model.SessionActionAbort, nil)
	s.log.Info().Msg("Run abandoned")
}

func (s *runSession) writeErr(err error) {
	_, code := classify(err)
	_ = s.conn.WriteError(string(code), err.Error(), response.Retryable(code))
}

func (s *runSession) logSession(action model.SessionAction, meta map[string]string) {
	if meta == nil {
		meta = map[string]string{}
	}
	meta["exam_code"] = s.examCode
	err := s.h.sessionLogService.Log(context.Background(), model.SessionLogEntry{
		OperatorID: s.operatorID,
		Action:     action,
		IPAddress:  s.ip,
		Metadata:   meta,
	})
	if err != nil {
		s.log.Warn().Err(err).Msg("Session log enqueue failed")
	}
}
