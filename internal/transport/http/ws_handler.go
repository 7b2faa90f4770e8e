package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"exam-session-service/internal/domain"
	"exam-session-service/internal/engine"
)

// WSHandler exposes the session engine over one websocket per participant.
type WSHandler struct {
	service  *engine.Service
	upgrader websocket.Upgrader
	log      zerolog.Logger
}

func NewWSHandler(service *engine.Service, log zerolog.Logger) *WSHandler {
	return &WSHandler{
		service: service,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		log: log.With().Str("component", "ws").Logger(),
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type startPayload struct {
	AssessmentID string `json:"assessmentId"`
}

type answerPayload struct {
	QuestionID  string `json:"questionId"`
	OptionIndex int    `json:"optionIndex"`
}

type jumpPayload struct {
	Index int `json:"index"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// ServeWS upgrades the request and wires the connection into the engine's
// caller-facing operations.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	participantID := r.URL.Query().Get("participantId")
	displayName := r.URL.Query().Get("name")
	if participantID == "" || displayName == "" {
		http.Error(w, "missing participantId or name", http.StatusBadRequest)
		return
	}
	participant := domain.Participant{ID: participantID, DisplayName: displayName}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("ws upgrade failed")
		return
	}
	defer conn.Close()

	send := make(chan outboundMessage[any], 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})

	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				h.log.Debug().Err(err).Msg("ws write error")
				return
			}
		}
	}()

	// One state-update pump at a time; replaced when a new session starts.
	// The pump's done channel is waited on before send may close, so a pump
	// draining buffered views can never write to a closed channel.
	var cancelUpdates func()
	var updatesDone chan struct{}
	stopUpdates := func() {
		if cancelUpdates != nil {
			cancelUpdates()
			<-updatesDone
			cancelUpdates = nil
		}
	}
	startUpdates := func() {
		stopUpdates()
		updates, cancel, err := h.service.Subscribe(participantID)
		if err != nil {
			return
		}
		cancelUpdates = cancel
		done := make(chan struct{})
		updatesDone = done
		go func() {
			defer close(done)
			for {
				select {
				case view, ok := <-updates:
					if !ok {
						return
					}
					select {
					case send <- outboundMessage[any]{Type: "state", Payload: view}:
					case <-closeSignals:
						return
					}
				case <-closeSignals:
					return
				}
			}
		}()
	}

	send <- outboundMessage[any]{Type: "state", Payload: h.service.CurrentState(participantID)}

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}

		switch inbound.Type {
		case "list":
			listing, err := h.service.ListAvailable(r.Context(), participant)
			if err != nil {
				send <- errorMessage(err)
				continue
			}
			send <- outboundMessage[any]{Type: "catalog", Payload: listing}

		case "start":
			var payload startPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				send <- errorMessage(errors.New("invalid start payload"))
				continue
			}
			view, err := h.service.Start(r.Context(), participant, payload.AssessmentID)
			if err != nil {
				send <- errorMessage(err)
				continue
			}
			startUpdates()
			send <- outboundMessage[any]{Type: "state", Payload: view}

		case "answer":
			var payload answerPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				send <- errorMessage(errors.New("invalid answer payload"))
				continue
			}
			if _, err := h.service.Answer(participantID, payload.QuestionID, payload.OptionIndex); err != nil {
				send <- errorMessage(err)
			}

		case "next":
			if _, err := h.service.Next(participantID); err != nil {
				send <- errorMessage(err)
			}

		case "previous":
			if _, err := h.service.Previous(participantID); err != nil {
				send <- errorMessage(err)
			}

		case "jump":
			var payload jumpPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				send <- errorMessage(errors.New("invalid jump payload"))
				continue
			}
			if _, err := h.service.JumpTo(participantID, payload.Index); err != nil {
				send <- errorMessage(err)
			}

		case "submit":
			view, err := h.service.Submit(r.Context(), participantID)
			if err != nil {
				send <- errorMessage(err)
				continue
			}
			if view.Result != nil {
				send <- outboundMessage[any]{Type: "result", Payload: *view.Result}
			}

		case "abandon":
			if err := h.service.Abandon(participantID); err != nil {
				send <- errorMessage(err)
				continue
			}
			stopUpdates()
			send <- outboundMessage[any]{Type: "state", Payload: h.service.CurrentState(participantID)}

		case "state":
			send <- outboundMessage[any]{Type: "state", Payload: h.service.CurrentState(participantID)}

		default:
			send <- errorMessage(errors.New("unsupported message type"))
		}
	}

	// closeSignals unblocks a pump parked on a full send buffer; only after
	// the pump reports done is it safe to close send.
	if cancelUpdates != nil {
		cancelUpdates()
	}
	close(closeSignals)
	if updatesDone != nil {
		<-updatesDone
	}
	close(send)
	<-writerDone
}

func errorMessage(err error) outboundMessage[any] {
	return outboundMessage[any]{Type: "error", Payload: errorPayload{
		Message:   err.Error(),
		Retryable: errors.Is(err, domain.ErrCatalogUnavailable) ||
			errors.Is(err, domain.ErrPersistenceFailure) ||
			errors.Is(err, domain.ErrSubmissionInFlight),
	}}
}
