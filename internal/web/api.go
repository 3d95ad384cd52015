package web

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/cuteecarrot/agentrelay/internal/router"
)

func (s *Server) registerAPI(mux *http.ServeMux) {
	mux.HandleFunc("POST /messages", s.handleMessages)
	mux.HandleFunc("POST /acks", s.handleAcks)
	mux.HandleFunc("POST /presence/register", s.handlePresenceRegister)
	mux.HandleFunc("POST /presence/heartbeat", s.handlePresenceHeartbeat)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /trace", s.handleTrace)
	mux.HandleFunc("GET /inbox", s.handleInbox)
	mux.HandleFunc("GET /presence", s.handlePresence)
	mux.HandleFunc("GET /health", s.handleHealth)
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	var msg map[string]any
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := s.router.ReceiveMessage(msg)
	if err != nil {
		writeRouterError(w, err)
		return
	}
	jsonResponse(w, http.StatusOK, result)
}

func (s *Server) handleAcks(w http.ResponseWriter, r *http.Request) {
	var ack map[string]any
	if err := json.NewDecoder(r.Body).Decode(&ack); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := s.router.ReceiveAck(ack)
	if err != nil {
		writeRouterError(w, err)
		return
	}
	jsonResponse(w, http.StatusOK, result)
}

func (s *Server) handlePresenceRegister(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Agent string         `json:"agent"`
		Meta  map[string]any `json:"meta"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.Agent == "" {
		jsonError(w, http.StatusBadRequest, "missing agent")
		return
	}
	jsonResponse(w, http.StatusOK, s.router.RegisterPresence(body.Agent, body.Meta))
}

func (s *Server) handlePresenceHeartbeat(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Agent string `json:"agent"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.Agent == "" {
		jsonError(w, http.StatusBadRequest, "missing agent")
		return
	}
	jsonResponse(w, http.StatusOK, s.router.Heartbeat(body.Agent))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	includeTasks := r.URL.Query().Get("tasks") == "1"
	filterTask := r.URL.Query().Get("filter_task")
	jsonResponse(w, http.StatusOK, s.router.Status(includeTasks, filterTask))
}

func (s *Server) handleTrace(w http.ResponseWriter, r *http.Request) {
	taskID := r.URL.Query().Get("task")
	messageID := r.URL.Query().Get("id")
	result, err := s.router.Trace(taskID, messageID)
	if err != nil {
		writeRouterError(w, err)
		return
	}
	jsonResponse(w, http.StatusOK, result)
}

func (s *Server) handleInbox(w http.ResponseWriter, r *http.Request) {
	agent := r.URL.Query().Get("agent")
	if agent == "" {
		jsonError(w, http.StatusBadRequest, "missing agent")
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			jsonError(w, http.StatusBadRequest, "limit must be an integer")
			return
		}
		limit = n
	}

	messages, err := s.router.PopInbox(agent, limit)
	if err != nil {
		writeRouterError(w, err)
		return
	}
	jsonResponse(w, http.StatusOK, map[string]any{"agent": agent, "messages": messages})
}

func (s *Server) handlePresence(w http.ResponseWriter, r *http.Request) {
	agent := r.URL.Query().Get("agent")
	jsonResponse(w, http.StatusOK, s.router.PresenceSnapshot(agent))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}

func jsonResponse(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func jsonError(w http.ResponseWriter, status int, message string) {
	jsonResponse(w, status, map[string]string{"error": message})
}

// writeRouterError maps the router's domain error taxonomy (spec.md
// §7) onto HTTP status codes: validation/protocol/bad-request errors
// are 400, not-found is 404, anything else is an opaque 500.
func writeRouterError(w http.ResponseWriter, err error) {
	switch err.(type) {
	case *router.ValidationError, *router.ProtocolError, *router.BadRequestError:
		jsonError(w, http.StatusBadRequest, err.Error())
	case *router.NotFoundError:
		jsonError(w, http.StatusNotFound, err.Error())
	default:
		jsonError(w, http.StatusInternalServerError, "internal error")
	}
}
