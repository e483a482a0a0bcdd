package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"exam-prep-sync/internal/domain"
	"github.com/gorilla/websocket"
)

// PodSession is the device's pod coordinator as seen by the UI bridge.
type PodSession interface {
	Create(ctx context.Context, roomName string) (domain.Pod, error)
	Join(ctx context.Context, roomCode string) (domain.Pod, error)
	Leave(ctx context.Context) error
	UpdateScore(ctx context.Context, points int) (int, error)
	AdvanceQuestion(ctx context.Context, questionID string) (domain.Pod, error)
	ListActivePods(ctx context.Context) ([]domain.Pod, error)
	Watch() (<-chan domain.PodView, func())
}

// PodHandler bridges the local UI to the pod session over a websocket.
// Disconnecting only stops the stream; the device stays in its pod.
type PodHandler struct {
	session  PodSession
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

func NewPodHandler(session PodSession, logger *slog.Logger) *PodHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &PodHandler{
		session: session,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type createPayload struct {
	RoomName string `json:"roomName"`
}

type joinPayload struct {
	RoomCode string `json:"roomCode"`
}

type scorePayload struct {
	Points int `json:"points"`
}

type advancePayload struct {
	QuestionID string `json:"questionId"`
}

type scoreResult struct {
	Score int `json:"score"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ServeWS upgrades the request and serves pod commands until the client disconnects.
func (h *PodHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	views, cancel := h.session.Watch()
	defer cancel()

	send := make(chan outboundMessage[any], 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	viewsDone := make(chan struct{})

	// single writer: gorilla connections do not support concurrent writes
	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				h.logger.Warn("ws write error", "error", err)
				return
			}
		}
	}()

	go func() {
		defer close(viewsDone)
		for {
			select {
			case view, ok := <-views:
				if !ok {
					return
				}
				select {
				case send <- outboundMessage[any]{Type: "pod", Payload: view}:
				case <-closeSignals:
					return
				}
			case <-closeSignals:
				return
			}
		}
	}()

	ctx := r.Context()
	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		if reply, err := h.dispatch(ctx, inbound); err != nil {
			send <- outboundMessage[any]{Type: "error", Payload: toErrorPayload(err)}
		} else if reply != nil {
			send <- *reply
		}
	}

	close(closeSignals)
	<-viewsDone
	close(send)
	<-writerDone
}

// dispatch runs one command. View changes arrive through the watch stream,
// so only commands with a direct result reply here.
func (h *PodHandler) dispatch(ctx context.Context, msg inboundMessage) (*outboundMessage[any], error) {
	switch msg.Type {
	case "create":
		var p createPayload
		if err := decode(msg.Payload, &p); err != nil {
			return nil, err
		}
		_, err := h.session.Create(ctx, p.RoomName)
		return nil, err
	case "join":
		var p joinPayload
		if err := decode(msg.Payload, &p); err != nil {
			return nil, err
		}
		_, err := h.session.Join(ctx, p.RoomCode)
		return nil, err
	case "leave":
		return nil, h.session.Leave(ctx)
	case "score":
		var p scorePayload
		if err := decode(msg.Payload, &p); err != nil {
			return nil, err
		}
		score, err := h.session.UpdateScore(ctx, p.Points)
		if err != nil {
			return nil, err
		}
		return &outboundMessage[any]{Type: "score", Payload: scoreResult{Score: score}}, nil
	case "advance":
		var p advancePayload
		if err := decode(msg.Payload, &p); err != nil {
			return nil, err
		}
		_, err := h.session.AdvanceQuestion(ctx, p.QuestionID)
		return nil, err
	case "list":
		pods, err := h.session.ListActivePods(ctx)
		if err != nil {
			return nil, err
		}
		if pods == nil {
			pods = []domain.Pod{}
		}
		return &outboundMessage[any]{Type: "pods", Payload: pods}, nil
	default:
		return nil, errUnsupported
	}
}

var (
	errUnsupported = errors.New("unsupported message type")
	errBadPayload  = errors.New("invalid payload")
)

func decode(raw json.RawMessage, dst any) error {
	if len(raw) == 0 {
		return errBadPayload
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return errBadPayload
	}
	return nil
}

func toErrorPayload(err error) errorPayload {
	code := "internal"
	switch {
	case errors.Is(err, errUnsupported), errors.Is(err, errBadPayload), errors.Is(err, domain.ErrValidation):
		code = "invalid"
	case errors.Is(err, domain.ErrRoomNotFound):
		code = "room_not_found"
	case errors.Is(err, domain.ErrNotInPod):
		code = "not_in_pod"
	case errors.Is(err, domain.ErrAlreadyInPod):
		code = "already_in_pod"
	case errors.Is(err, domain.ErrNotHost):
		code = "not_host"
	case errors.Is(err, domain.ErrRoomCodeTaken):
		code = "room_code_taken"
	case errors.Is(err, domain.ErrRemoteUnavailable):
		code = "remote_unavailable"
	}
	return errorPayload{Code: code, Message: err.Error()}
}
