package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strconv"

	"github.com/meshtalk/meshtalk/internal/chat"
	"github.com/meshtalk/meshtalk/internal/identity"
	"github.com/meshtalk/meshtalk/internal/link"
	"github.com/meshtalk/meshtalk/internal/presence"
	"github.com/meshtalk/meshtalk/internal/session"
	"github.com/meshtalk/meshtalk/internal/store"
	"go.uber.org/zap"
)

// Server exposes the daemon API as JSON over HTTP on the profile's Unix
// domain socket.
type Server struct {
	httpServer *http.Server
	listener   net.Listener
	socketPath string
	logger     *zap.Logger

	profile string
	svc     *chat.Service
	db      *store.DB
	machine *link.Machine
	tracker *presence.Tracker
}

// NewServer creates the API server bound to the profile's Unix domain socket.
func NewServer(
	p Params,
	logger *zap.Logger,
	svc *chat.Service,
	db *store.DB,
	machine *link.Machine,
	tracker *presence.Tracker,
) (*Server, error) {
	socketPath := p.SocketPath
	if socketPath == "" {
		socketPath = session.SocketPath(p.Profile)
	}

	// Clean stale socket if it exists.
	if _, err := os.Stat(socketPath); err == nil {
		_ = os.Remove(socketPath)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("listen unix socket: %w", err)
	}
	if err := os.Chmod(socketPath, 0600); err != nil {
		_ = listener.Close()
		return nil, fmt.Errorf("chmod socket: %w", err)
	}

	s := &Server{
		listener:   listener,
		socketPath: socketPath,
		logger:     logger,
		profile:    p.Profile,
		svc:        svc,
		db:         db,
		machine:    machine,
		tracker:    tracker,
	}
	s.httpServer = &http.Server{Handler: s.routes()}
	return s, nil
}

// Start begins serving API requests. Blocks until stopped.
func (s *Server) Start() error {
	s.logger.Info("api server starting", zap.String("socket", s.socketPath))
	err := s.httpServer.Serve(s.listener)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop performs a graceful shutdown and removes the socket file.
func (s *Server) Stop(ctx context.Context) {
	s.logger.Info("api server stopping")
	_ = s.httpServer.Shutdown(ctx)
	_ = os.Remove(s.socketPath)
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/status", s.handleStatus)
	mux.HandleFunc("GET /v1/identity", s.handleIdentity)
	mux.HandleFunc("GET /v1/identity/qr", s.handleIdentityQR)

	mux.HandleFunc("GET /v1/contacts", s.handleListContacts)
	mux.HandleFunc("POST /v1/contacts", s.handleAddContact)
	mux.HandleFunc("DELETE /v1/contacts/{id}", s.handleRemoveContact)

	mux.HandleFunc("GET /v1/chats", s.handleListChats)
	mux.HandleFunc("POST /v1/chats/direct", s.handleCreateDirect)
	mux.HandleFunc("POST /v1/chats/group", s.handleCreateGroup)
	mux.HandleFunc("DELETE /v1/chats/{id}", s.handleDeleteChat)
	mux.HandleFunc("GET /v1/chats/{id}/messages", s.handleListMessages)
	mux.HandleFunc("POST /v1/chats/{id}/messages", s.handleSendText)
	mux.HandleFunc("POST /v1/chats/{id}/images", s.handleSendImage)
	mux.HandleFunc("POST /v1/chats/{id}/read", s.handleMarkRead)
	mux.HandleFunc("POST /v1/chats/{id}/mute", s.handleMute)
	mux.HandleFunc("POST /v1/chats/{id}/name", s.handleRename)
	mux.HandleFunc("GET /v1/chats/{id}/participants", s.handleListParticipants)
	mux.HandleFunc("POST /v1/chats/{id}/participants", s.handleAddParticipant)
	mux.HandleFunc("DELETE /v1/chats/{id}/participants/{contact}", s.handleRemoveParticipant)

	mux.HandleFunc("GET /v1/search", s.handleSearch)
	mux.HandleFunc("POST /v1/messages/{id}/retry", s.handleRetry)
	mux.HandleFunc("POST /v1/active", s.handleSetActive)

	return mux
}

// StatusResponse is the daemon self-report returned by GET /v1/status.
type StatusResponse struct {
	Profile     string `json:"profile"`
	PeerID      string `json:"peer_id"`
	Nickname    string `json:"nickname"`
	LinkState   string `json:"link_state"`
	Contacts    int64  `json:"contacts"`
	Chats       int64  `json:"chats"`
	Messages    int64  `json:"messages"`
	OutboxDepth int64  `json:"outbox_depth"`
	PID         int    `json:"pid"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	local := s.svc.LocalIdentity()
	resp := StatusResponse{
		Profile:   s.profile,
		PeerID:    local.ID,
		Nickname:  local.Nickname,
		LinkState: string(s.machine.Current()),
		PID:       os.Getpid(),
	}
	var err error
	if resp.Contacts, err = s.db.ContactCount(); err != nil {
		s.writeError(w, err)
		return
	}
	if resp.Chats, err = s.db.ChatCount(); err != nil {
		s.writeError(w, err)
		return
	}
	if resp.Messages, err = s.db.MessageCount(); err != nil {
		s.writeError(w, err)
		return
	}
	if resp.OutboxDepth, err = s.db.OutboxDepth(); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleIdentity(w http.ResponseWriter, r *http.Request) {
	payload, err := s.svc.ExchangePayload()
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(payload)
}

func (s *Server) handleIdentityQR(w http.ResponseWriter, r *http.Request) {
	png, err := s.svc.ExchangeQR()
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}

func (s *Server) handleListContacts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	var (
		contacts []chat.ContactView
		err      error
	)
	if q == "" {
		contacts, err = s.svc.Contacts()
	} else {
		contacts, err = s.svc.SearchContacts(q)
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, contacts)
}

func (s *Server) handleAddContact(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, 64<<10))
	if err != nil {
		s.writeError(w, err)
		return
	}
	c, err := s.svc.AddContact(payload)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, c)
}

func (s *Server) handleRemoveContact(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.RemoveContact(r.PathValue("id")); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleListChats(w http.ResponseWriter, r *http.Request) {
	limit, offset := pageParams(r, 100)
	chats, err := s.svc.Chats(limit, offset)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, chats)
}

func (s *Server) handleCreateDirect(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ContactID string `json:"contact_id"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	c, err := s.svc.CreateDirect(req.ContactID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleCreateGroup(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name         string   `json:"name"`
		Participants []string `json:"participants"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	c, err := s.svc.CreateGroup(req.Name, req.Participants)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, c)
}

func (s *Server) handleDeleteChat(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.DeleteChat(r.PathValue("id")); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	limit, offset := pageParams(r, 50)
	msgs, err := s.svc.Messages(r.PathValue("id"), limit, offset)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, msgs)
}

func (s *Server) handleSendText(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Content string `json:"content"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	msg, err := s.svc.SendText(r.PathValue("id"), req.Content)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, msg)
}

func (s *Server) handleSendImage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FileName string `json:"file_name"`
		Data     []byte `json:"data"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	msg, err := s.svc.SendImage(r.PathValue("id"), req.Data, req.FileName)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, msg)
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.MarkRead(r.PathValue("id")); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleMute(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Muted bool `json:"muted"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.svc.MuteChat(r.PathValue("id"), req.Muted); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleRename(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.svc.RenameGroup(r.PathValue("id"), req.Name); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleListParticipants(w http.ResponseWriter, r *http.Request) {
	participants, err := s.svc.Participants(r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, participants)
}

func (s *Server) handleAddParticipant(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ContactID string `json:"contact_id"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.svc.AddGroupParticipant(r.PathValue("id"), req.ContactID); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleRemoveParticipant(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.RemoveGroupParticipant(r.PathValue("id"), r.PathValue("contact")); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing query"})
		return
	}
	limit, _ := pageParams(r, 50)
	msgs, err := s.svc.Search(q, r.URL.Query().Get("chat"), limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, msgs)
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.RetryMessage(r.PathValue("id")); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleSetActive(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ChatID string `json:"chat_id"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	s.svc.SetActiveChat(req.ChatID)
	s.writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, 16<<20)).Decode(v); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return false
	}
	return true
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("encode response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, chat.ErrContactNotFound),
		errors.Is(err, chat.ErrChatNotFound),
		errors.Is(err, chat.ErrMessageNotFound):
		code = http.StatusNotFound
	case errors.Is(err, chat.ErrContactAlreadyExists),
		errors.Is(err, chat.ErrNotRetryable):
		code = http.StatusConflict
	case errors.Is(err, identity.ErrInvalidFormat),
		errors.Is(err, chat.ErrEmptyMessage),
		errors.Is(err, chat.ErrMessageTooLong),
		errors.Is(err, chat.ErrImageTooLarge),
		errors.Is(err, chat.ErrNoParticipants),
		errors.Is(err, chat.ErrTooManyParticipants),
		errors.Is(err, chat.ErrDirectChatImmutable),
		errors.Is(err, chat.ErrCannotAddSelf):
		code = http.StatusUnprocessableEntity
	}
	if code == http.StatusInternalServerError {
		s.logger.Error("request failed", zap.Error(err))
	}
	s.writeJSON(w, code, map[string]string{"error": err.Error()})
}

func pageParams(r *http.Request, defaultLimit int) (limit, offset int) {
	limit = defaultLimit
	if n, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && n > 0 {
		limit = n
	}
	if n, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && n > 0 {
		offset = n
	}
	return limit, offset
}
