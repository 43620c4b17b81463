package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"

	"voting-ledger/anonymizer"
	"voting-ledger/blockchain/ledger"
	"voting-ledger/logging"
	"voting-ledger/models"
	"voting-ledger/registry"
	"voting-ledger/service"
)

const maxBodyBytes = 1 << 16

// VoteQueue accepts votes for asynchronous processing.
type VoteQueue interface {
	QueueVote(identity, candidate string) <-chan *service.ProcessingResult
}

type Server struct {
	votingService *service.VotingService
	queue         VoteQueue
	handler       http.Handler
	http          *http.Server
	log           *logrus.Entry
}

type ServerOptions struct {
	CORSAllowedOrigins []string
	// MetricsHandler is served on /metrics. Defaults to the Prometheus
	// default registry.
	MetricsHandler http.Handler
}

type RegisterVoterRequest struct {
	VoterID  string `json:"voter_id"`
	AdminKey string `json:"admin_key"`
}

type RegisterVoterResponse struct {
	Message     string `json:"message"`
	Fingerprint string `json:"fingerprint"`
}

type CastVoteRequest struct {
	VoterID   string `json:"voter_id"`
	Candidate string `json:"candidate"`
}

type CastVoteResponse struct {
	Message   string `json:"message"`
	RequestID string `json:"request_id"`
}

type ChainResponse struct {
	Chain  []models.Block `json:"chain"`
	Length int            `json:"length"`
}

type ValidateResponse struct {
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
}

type EndSessionRequest struct {
	AdminKey string `json:"admin_key"`
}

type errorResponse struct {
	Message string `json:"message"`
}

func NewServer(vs *service.VotingService, queue VoteQueue, opts ServerOptions) *Server {
	s := &Server{
		votingService: vs,
		queue:         queue,
		log:           logging.Module("api"),
	}

	metricsHandler := opts.MetricsHandler
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /chain", s.handleGetChain)
	mux.HandleFunc("POST /register", s.handleRegisterVoter)
	mux.HandleFunc("GET /registered", s.handleGetRegistered)
	mux.HandleFunc("GET /voted", s.handleHasVoted)
	mux.HandleFunc("POST /vote", s.handleCastVote)
	mux.HandleFunc("POST /mine", s.handleMine)
	mux.HandleFunc("GET /results", s.handleGetResults)
	mux.HandleFunc("GET /results/summary", s.handleGetResultsSummary)
	mux.HandleFunc("GET /voters", s.handleGetVoters)
	mux.HandleFunc("GET /validate", s.handleValidateBlockchain)
	mux.HandleFunc("GET /verify", s.handleVerifyVoteCount)
	mux.HandleFunc("GET /status", s.handleGetStatus)
	mux.HandleFunc("POST /session/end", s.handleEndSession)
	mux.Handle("GET /metrics", metricsHandler)

	var rootHandler http.Handler = mux
	if len(opts.CORSAllowedOrigins) > 0 {
		corsMiddleware := cors.New(cors.Options{
			AllowedOrigins: opts.CORSAllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost},
			AllowedHeaders: []string{"Content-Type"},
		})
		rootHandler = corsMiddleware.Handler(mux)
	}
	s.handler = rootHandler

	return s
}

func (s *Server) Handler() http.Handler {
	return s.handler
}

// ListenAndServe blocks until the server fails or Shutdown is called, in
// which case it returns nil.
func (s *Server) ListenAndServe(addr string) error {
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.log.WithField("addr", addr).Info("starting voting API")
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

func (s *Server) handleGetChain(w http.ResponseWriter, r *http.Request) {
	chain := s.votingService.Chain()
	writeJSON(w, http.StatusOK, ChainResponse{Chain: chain, Length: len(chain)})
}

func (s *Server) handleRegisterVoter(w http.ResponseWriter, r *http.Request) {
	var req RegisterVoterRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	fp, err := s.votingService.RegisterVoter(req.VoterID, req.AdminKey)
	switch {
	case err == nil:
		writeJSON(w, http.StatusCreated, RegisterVoterResponse{
			Message:     "Voter registered",
			Fingerprint: hexutil.Encode(fp[:]),
		})
	case errors.Is(err, registry.ErrInvalidAdminKey):
		writeError(w, http.StatusUnauthorized, "Unauthorized")
	case errors.Is(err, registry.ErrAlreadyRegistered):
		writeError(w, http.StatusBadRequest, "Voter already registered")
	case errors.Is(err, anonymizer.ErrEmptyIdentity):
		writeError(w, http.StatusBadRequest, "Missing voter_id")
	default:
		s.log.WithError(err).Error("registering voter")
		writeError(w, http.StatusInternalServerError, "Registration failed")
	}
}

func (s *Server) handleGetRegistered(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]int{"count": s.votingService.RegisteredCount()})
}

func (s *Server) handleHasVoted(w http.ResponseWriter, r *http.Request) {
	raw, err := hexutil.Decode(r.URL.Query().Get("fingerprint"))
	if err != nil || len(raw) != common.HashLength {
		writeError(w, http.StatusBadRequest, "fingerprint must be a 32 byte 0x-prefixed hex string")
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{
		"voted": s.votingService.HasVoted(common.BytesToHash(raw)),
	})
}

func (s *Server) handleCastVote(w http.ResponseWriter, r *http.Request) {
	var req CastVoteRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	var res *service.ProcessingResult
	select {
	case res = <-s.queue.QueueVote(req.VoterID, req.Candidate):
	case <-r.Context().Done():
		writeError(w, http.StatusServiceUnavailable, "Request cancelled")
		return
	}

	if res.Success {
		writeJSON(w, http.StatusCreated, CastVoteResponse{
			Message:   "Vote submitted",
			RequestID: res.RequestID.String(),
		})
		return
	}

	status, msg := voteErrorStatus(res.Err)
	if status == http.StatusInternalServerError {
		s.log.WithError(res.Err).WithField("request", res.RequestID).Error("casting vote")
	}
	writeError(w, status, msg)
}

func voteErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, service.ErrNotRegistered):
		return http.StatusBadRequest, "Voter not registered"
	case errors.Is(err, ledger.ErrDuplicateVote):
		return http.StatusBadRequest, "Voter has already voted"
	case errors.Is(err, models.ErrInvalidVote), errors.Is(err, anonymizer.ErrEmptyIdentity):
		return http.StatusBadRequest, "Missing voter_id or candidate"
	case errors.Is(err, service.ErrVotingClosed):
		return http.StatusForbidden, "Voting session has ended"
	case errors.Is(err, ledger.ErrPendingPoolFull),
		errors.Is(err, service.ErrQueueFull),
		errors.Is(err, service.ErrQueueStopped):
		return http.StatusServiceUnavailable, "Vote could not be queued"
	default:
		return http.StatusInternalServerError, "Vote failed"
	}
}

func (s *Server) handleMine(w http.ResponseWriter, r *http.Request) {
	block, err := s.votingService.MinePending(r.Context())
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, block)
	case errors.Is(err, ledger.ErrEmptyPendingPool):
		writeError(w, http.StatusConflict, "No pending votes to mine")
	default:
		s.log.WithError(err).Error("mining block")
		writeError(w, http.StatusInternalServerError, "Mining failed")
	}
}

// handleGetResults serves the bare candidate to count mapping.
func (s *Server) handleGetResults(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.votingService.Results().Results)
}

func (s *Server) handleGetResultsSummary(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.votingService.Results())
}

func (s *Server) handleGetVoters(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.votingService.Voters())
}

func (s *Server) handleValidateBlockchain(w http.ResponseWriter, r *http.Request) {
	valid, err := s.votingService.Validate()
	resp := ValidateResponse{Valid: valid}
	if err != nil {
		resp.Error = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleVerifyVoteCount(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.votingService.VerifyVoteCount())
}

func (s *Server) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.votingService.Status())
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	var req EndSessionRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := s.votingService.Authorize(req.AdminKey); err != nil {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	if err := s.votingService.EndVotingSession(r.Context()); err != nil {
		s.log.WithError(err).Error("ending voting session")
		writeError(w, http.StatusInternalServerError, "Failed to mine pending votes")
		return
	}
	writeJSON(w, http.StatusOK, s.votingService.Status())
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.WithError(err).Warn("writing response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Message: msg})
}
