// Package api exposes the node's REST surface: submitting Propose/Vote
// transactions into the consensus mempool and querying configuration
// state. It goes through consensus.Consensus's exported methods
// (AddTransaction and the height/active/following getters) and reads
// proposals and votes through configuration.Schema over a storage View.
package api

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/rechain/configchain/internal/configuration"
	"github.com/rechain/configchain/internal/consensus"
	"github.com/rechain/configchain/internal/security"
	"github.com/rechain/configchain/internal/storage"
	"github.com/rechain/configchain/pkg/crypto"
)

// Server is the node's HTTP API.
type Server struct {
	consensus *consensus.Consensus
	store     storage.Store
	audit     *security.AuditLogger

	httpServer *http.Server
	router     *mux.Router
	listener   net.Listener
}

// NewServer builds the router but does not start listening.
func NewServer(cs *consensus.Consensus, store storage.Store, audit *security.AuditLogger) *Server {
	s := &Server{
		consensus: cs,
		store:     store,
		audit:     audit,
		router:    mux.NewRouter(),
	}
	s.routes()
	return s
}

// Start blocks serving addr until Stop is called or the listener fails.
// A nil tlsConfig serves plain HTTP. addr may use port 0, in which case
// Addr reports the OS-assigned port once Start has bound the listener —
// relied on by the end-to-end wiring test, which never knows its port
// in advance.
func (s *Server) Start(addr string, tlsConfig *tls.Config) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	s.listener = ln

	s.httpServer = &http.Server{
		Handler:   s.router,
		TLSConfig: tlsConfig,
	}
	if tlsConfig != nil {
		return s.httpServer.ServeTLS(ln, "", "")
	}
	return s.httpServer.Serve(ln)
}

// Addr returns the address the server is actually bound to. Empty until
// Start has been called.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop gracefully shuts the server down.
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) routes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	s.router.HandleFunc("/configuration/propose", s.handlePropose).Methods(http.MethodPost)
	s.router.HandleFunc("/configuration/vote", s.handleVote).Methods(http.MethodPost)
	s.router.HandleFunc("/configuration/active", s.handleActive).Methods(http.MethodGet)
	s.router.HandleFunc("/configuration/following", s.handleFollowing).Methods(http.MethodGet)
	s.router.HandleFunc("/configuration/proposals/{hash}", s.handleGetProposal).Methods(http.MethodGet)
	s.router.HandleFunc("/configuration/votes/{hash}", s.handleGetVotes).Methods(http.MethodGet)
}

func (s *Server) respond(w http.ResponseWriter, data interface{}, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

func (s *Server) error(w http.ResponseWriter, err error, status int) {
	s.respond(w, map[string]string{"error": err.Error()}, status)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respond(w, map[string]interface{}{
		"status": "healthy",
		"height": s.consensus.CurrentHeight(),
	}, http.StatusOK)
}

// proposeRequest mirrors the wire layout in internal/configuration's
// service.go: the envelope's pubkey/hash/payload fields, with the pubkey
// and signature base64-encoded, the hash hex-encoded, and the payload
// carried as raw JSON.
type proposeRequest struct {
	From                 string          `json:"from"`
	ReferencedConfigHash string          `json:"referenced_config_hash"`
	Payload              json.RawMessage `json:"payload"`
	Signature            string          `json:"signature"`
}

func (s *Server) handlePropose(w http.ResponseWriter, r *http.Request) {
	var req proposeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.error(w, err, http.StatusBadRequest)
		return
	}

	from, err := crypto.ParsePublicKey(req.From)
	if err != nil {
		s.error(w, fmt.Errorf("invalid from pubkey: %w", err), http.StatusBadRequest)
		return
	}

	var refHash crypto.Hash
	if err := refHash.UnmarshalJSON([]byte(`"` + req.ReferencedConfigHash + `"`)); err != nil {
		s.error(w, fmt.Errorf("invalid referenced_config_hash: %w", err), http.StatusBadRequest)
		return
	}

	sig, err := base64.StdEncoding.DecodeString(req.Signature)
	if err != nil {
		s.error(w, fmt.Errorf("invalid signature encoding: %w", err), http.StatusBadRequest)
		return
	}
	if !crypto.Verify(from, req.Payload, sig) {
		s.error(w, fmt.Errorf("signature does not verify"), http.StatusUnauthorized)
		return
	}

	raw := make([]byte, 0, 64+len(req.Payload))
	raw = append(raw, from[:]...)
	raw = append(raw, refHash[:]...)
	raw = append(raw, req.Payload...)

	s.consensus.AddTransaction(consensus.Transaction{
		ServiceID: configuration.ServiceID,
		Tag:       configuration.TagPropose,
		Payload:   raw,
	})

	if s.audit != nil {
		s.audit.LogAccess("configuration/propose", "submit", from.String())
	}

	s.respond(w, map[string]string{"status": "accepted"}, http.StatusAccepted)
}

type voteRequest struct {
	From             string `json:"from"`
	TargetConfigHash string `json:"target_config_hash"`
	Signature        string `json:"signature"`
}

func (s *Server) handleVote(w http.ResponseWriter, r *http.Request) {
	var req voteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.error(w, err, http.StatusBadRequest)
		return
	}

	from, err := crypto.ParsePublicKey(req.From)
	if err != nil {
		s.error(w, fmt.Errorf("invalid from pubkey: %w", err), http.StatusBadRequest)
		return
	}

	var target crypto.Hash
	if err := target.UnmarshalJSON([]byte(`"` + req.TargetConfigHash + `"`)); err != nil {
		s.error(w, fmt.Errorf("invalid target_config_hash: %w", err), http.StatusBadRequest)
		return
	}

	sig, err := base64.StdEncoding.DecodeString(req.Signature)
	if err != nil {
		s.error(w, fmt.Errorf("invalid signature encoding: %w", err), http.StatusBadRequest)
		return
	}
	if !crypto.Verify(from, target[:], sig) {
		s.error(w, fmt.Errorf("signature does not verify"), http.StatusUnauthorized)
		return
	}

	raw := make([]byte, 0, 64)
	raw = append(raw, from[:]...)
	raw = append(raw, target[:]...)

	s.consensus.AddTransaction(consensus.Transaction{
		ServiceID: configuration.ServiceID,
		Tag:       configuration.TagVote,
		Payload:   raw,
	})

	if s.audit != nil {
		s.audit.LogAccess("configuration/vote", "submit", from.String())
	}

	s.respond(w, map[string]string{"status": "accepted"}, http.StatusAccepted)
}

func (s *Server) handleActive(w http.ResponseWriter, r *http.Request) {
	s.respond(w, s.consensus.ActiveConfig(), http.StatusOK)
}

func (s *Server) handleFollowing(w http.ResponseWriter, r *http.Request) {
	following := s.consensus.FollowingConfig()
	if following == nil {
		s.respond(w, map[string]interface{}{"following": nil}, http.StatusOK)
		return
	}
	s.respond(w, following, http.StatusOK)
}

func (s *Server) handleGetProposal(w http.ResponseWriter, r *http.Request) {
	hash, err := parseHashVar(r)
	if err != nil {
		s.error(w, err, http.StatusBadRequest)
		return
	}

	view := storage.NewView(s.store)
	proposal, err := configuration.NewSchema(view).GetProposal(r.Context(), hash)
	if err != nil {
		s.error(w, err, http.StatusInternalServerError)
		return
	}
	if proposal == nil {
		s.error(w, fmt.Errorf("proposal not found"), http.StatusNotFound)
		return
	}
	s.respond(w, proposal, http.StatusOK)
}

func (s *Server) handleGetVotes(w http.ResponseWriter, r *http.Request) {
	hash, err := parseHashVar(r)
	if err != nil {
		s.error(w, err, http.StatusBadRequest)
		return
	}

	view := storage.NewView(s.store)
	votes, err := configuration.NewSchema(view).IterVotes(r.Context(), hash)
	if err != nil {
		s.error(w, err, http.StatusInternalServerError)
		return
	}
	s.respond(w, map[string]interface{}{"votes": votes, "count": len(votes)}, http.StatusOK)
}

func parseHashVar(r *http.Request) (crypto.Hash, error) {
	var hash crypto.Hash
	raw := mux.Vars(r)["hash"]
	if err := hash.UnmarshalJSON([]byte(`"` + raw + `"`)); err != nil {
		return crypto.Hash{}, fmt.Errorf("invalid hash: %w", err)
	}
	return hash, nil
}
