package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	log "gopkg.in/inconshreveable/log15.v2"

	"skim/data"
)

// DefaultKeepaliveInterval is how often an idle stream gets a ping event.
const DefaultKeepaliveInterval = 15 * time.Second

// Server exposes the streaming protocol: GET /stream/{token}/open holds
// a long-lived SSE connection, POST /stream/{token}/command?session={id}
// dispatches one command against that session. The token is a capability
// credential (any holder acts as that subscriber) and every tool is
// scoped to the session's subscriber.
type Server struct {
	repo     data.Repository
	logger   log.Logger
	sessions *sessionTable

	KeepaliveInterval time.Duration
	ServerName        string
	ServerVersion     string
}

func NewServer(repo data.Repository, logger log.Logger) *Server {
	return &Server{
		repo:              repo,
		logger:            logger,
		sessions:          newSessionTable(),
		KeepaliveInterval: DefaultKeepaliveInterval,
		ServerName:        "skim",
		ServerVersion:     "devel",
	}
}

func (s *Server) Handler() http.Handler {
	router := chi.NewRouter()
	router.Get("/stream/{token}/open", s.handleOpen)
	router.Post("/stream/{token}/command", s.handleCommand)
	return router
}

// authenticate resolves the path token to a subscriber. A bad token is
// rejected before any side effects.
func (s *Server) authenticate(w http.ResponseWriter, req *http.Request) *data.Subscriber {
	token := chi.URLParam(req, "token")

	sub, err := s.repo.SubscriberByToken(req.Context(), token)
	if errors.Is(err, data.ErrNotFound) {
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, "bad or missing token")
		return nil
	}
	if err != nil {
		s.logger.Error("token lookup failed", "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return nil
	}

	return sub
}

func (s *Server) handleOpen(w http.ResponseWriter, req *http.Request) {
	sub := s.authenticate(w, req)
	if sub == nil {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	sess := newSession(sub.ID, w, flusher)
	s.sessions.add(sess)
	// Synchronous removal: once the stream is gone, commands against
	// this session id must fail fast, not time out.
	defer s.sessions.remove(sess.id)

	if err := sess.sendEvent("endpoint", s.commandURL(req, sess.id)); err != nil {
		return
	}
	s.logger.Info("stream opened", "session", sess.id, "subscriber", sub.ID)

	ticker := time.NewTicker(s.KeepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-req.Context().Done():
			s.logger.Info("stream closed", "session", sess.id)
			return
		case <-ticker.C:
			if err := sess.sendEvent("ping", ""); err != nil {
				s.logger.Warn("keepalive failed", "session", sess.id, "error", err)
				return
			}
		}
	}
}

// commandURL is the absolute URL commands for this session must be
// POSTed to, announced in the endpoint event on open.
func (s *Server) commandURL(req *http.Request, sessionID string) string {
	scheme := "http"
	if req.TLS != nil {
		scheme = "https"
	}
	if fwd := req.Header.Get("X-Forwarded-Proto"); fwd != "" {
		scheme = fwd
	}
	return fmt.Sprintf("%s://%s/stream/%s/command?session=%s",
		scheme, req.Host, chi.URLParam(req, "token"), sessionID)
}

func (s *Server) handleCommand(w http.ResponseWriter, req *http.Request) {
	sub := s.authenticate(w, req)
	if sub == nil {
		return
	}

	var cmd request
	if err := json.NewDecoder(req.Body).Decode(&cmd); err != nil {
		writeResponse(w, errorResponse(json.RawMessage("null"), codeParseError, "parse error: "+err.Error()))
		return
	}

	sess, ok := s.sessions.get(req.URL.Query().Get("session"))
	if ok && sess.subscriberID != sub.ID {
		// A valid token cannot reach another subscriber's session.
		ok = false
	}

	// Notifications are acknowledged without a reply, even on error.
	if cmd.isNotification() {
		w.WriteHeader(http.StatusAccepted)
		return
	}

	if !ok {
		writeResponse(w, errorResponse(cmd.ID, codeSessionNotFound, "session not found"))
		return
	}

	writeResponse(w, s.dispatch(req.Context(), sess, &cmd))
}

func (s *Server) dispatch(ctx context.Context, sess *session, cmd *request) response {
	switch cmd.Method {
	case "initialize":
		sess.initialize()
		return resultResponse(cmd.ID, initializeResult{
			ProtocolVersion: protocolVersion,
			Capabilities:    serverCapabilities{Tools: &toolCapability{}},
			ServerInfo:      serverInfo{Name: s.ServerName, Version: s.ServerVersion},
		})
	case "ping":
		return resultResponse(cmd.ID, struct{}{})
	case "tools/list":
		if !sess.isInitialized() {
			return errorResponse(cmd.ID, codeInvalidRequest, "session not initialized (call initialize first)")
		}
		return resultResponse(cmd.ID, toolsListResult{Tools: toolCatalog()})
	case "tools/call":
		if !sess.isInitialized() {
			return errorResponse(cmd.ID, codeInvalidRequest, "session not initialized (call initialize first)")
		}
		return s.handleToolsCall(ctx, sess, cmd)
	default:
		return errorResponse(cmd.ID, codeMethodNotFound, "unknown method: "+cmd.Method)
	}
}

func (s *Server) handleToolsCall(ctx context.Context, sess *session, cmd *request) response {
	if len(cmd.Params) == 0 {
		return errorResponse(cmd.ID, codeInvalidParams, "params required for tools/call")
	}

	var params toolsCallParams
	if err := json.Unmarshal(cmd.Params, &params); err != nil {
		return errorResponse(cmd.ID, codeInvalidParams, "invalid tools/call params: "+err.Error())
	}

	payload, err := s.callTool(ctx, sess.subscriberID, params.Name, params.Arguments)

	var argErr *toolArgumentError
	switch {
	case errors.As(err, &argErr):
		// Validation failures are structured tool errors; the session
		// carries on.
		return resultResponse(cmd.ID, toolsCallResult{
			IsError: true,
			Content: []contentBlock{{Type: "text", Text: argErr.Error()}},
		})
	case errors.Is(err, errUnknownTool):
		return errorResponse(cmd.ID, codeInvalidParams, "unknown tool: "+params.Name)
	case err != nil:
		s.logger.Error("tool call failed", "tool", params.Name, "session", sess.id, "error", err)
		return errorResponse(cmd.ID, codeInternalError, "internal server error")
	}

	text, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error("tool result marshal failed", "tool", params.Name, "error", err)
		return errorResponse(cmd.ID, codeInternalError, "internal server error")
	}

	return resultResponse(cmd.ID, toolsCallResult{
		Content: []contentBlock{{Type: "text", Text: string(text)}},
	})
}

func writeResponse(w http.ResponseWriter, resp response) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
