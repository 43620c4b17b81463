package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voting-ledger/anonymizer"
	"voting-ledger/blockchain/ledger"
	"voting-ledger/logging"
	"voting-ledger/models"
	"voting-ledger/registry"
	"voting-ledger/service"
)

const (
	testAdminKey   = "admin123"
	testDifficulty = 4
)

type testEnv struct {
	vs     *service.VotingService
	queue  *service.QueueProcessor
	server *Server
}

func newTestEnv(t *testing.T, batchSize int) *testEnv {
	t.Helper()

	l := ledger.New(testDifficulty, ledger.WithLogger(logging.Discard()))
	reg, err := registry.New(testAdminKey, nil, nil)
	require.NoError(t, err)

	vs := service.NewVotingService(l, reg, service.Options{
		BatchSize:  batchSize,
		Difficulty: testDifficulty,
		Logger:     logging.Discard(),
	})
	qp := service.NewQueueProcessor(vs, 16, 2, nil)
	qp.Start(context.Background())
	t.Cleanup(qp.Stop)

	return &testEnv{
		vs:    vs,
		queue: qp,
		server: NewServer(vs, qp, ServerOptions{
			CORSAllowedOrigins: []string{"*"},
			MetricsHandler:     http.NotFoundHandler(),
		}),
	}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) register(t *testing.T, voter string) {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/register", `{"voter_id":"`+voter+`","admin_key":"`+testAdminKey+`"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

func TestGetChainGenesis(t *testing.T) {
	e := newTestEnv(t, 5)

	rec := e.do(t, http.MethodGet, "/chain", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp ChainResponse
	decode(t, rec, &resp)
	assert.Equal(t, 1, resp.Length)
	require.Len(t, resp.Chain, 1)
	assert.Zero(t, resp.Chain[0].Index)
	assert.True(t, resp.Chain[0].VerifySeal(testDifficulty))
}

func TestRegister(t *testing.T) {
	e := newTestEnv(t, 5)

	rec := e.do(t, http.MethodPost, "/register", `{"voter_id":"alice","admin_key":"wrong"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = e.do(t, http.MethodPost, "/register", `{"voter_id":"alice","admin_key":"admin123"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var resp RegisterVoterResponse
	decode(t, rec, &resp)
	fp, err := anonymizer.Fingerprint("alice")
	require.NoError(t, err)
	assert.Equal(t, fp.Hex(), resp.Fingerprint)

	rec = e.do(t, http.MethodPost, "/register", `{"voter_id":"alice","admin_key":"admin123"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, http.MethodPost, "/register", `{"voter_id":"","admin_key":"admin123"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, http.MethodPost, "/register", `{"voter_id":"","admin_key":"wrong"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, http.MethodPost, "/register", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, http.MethodGet, "/registered", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var count map[string]int
	decode(t, rec, &count)
	assert.Equal(t, 1, count["count"])
}

func TestVoteAndResults(t *testing.T) {
	e := newTestEnv(t, 2)
	for _, v := range []string{"alice", "bob", "carol"} {
		e.register(t, v)
	}

	rec := e.do(t, http.MethodPost, "/vote", `{"voter_id":"alice","candidate":"A"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var voteResp CastVoteResponse
	decode(t, rec, &voteResp)
	_, err := uuid.Parse(voteResp.RequestID)
	assert.NoError(t, err)

	rec = e.do(t, http.MethodPost, "/vote", `{"voter_id":"bob","candidate":"B"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = e.do(t, http.MethodPost, "/vote", `{"voter_id":"carol","candidate":"A"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = e.do(t, http.MethodGet, "/results/summary", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var results service.VotingResults
	decode(t, rec, &results)
	assert.Equal(t, 2, results.TotalVotes)
	assert.Equal(t, 1, results.PendingVotes)
	assert.Equal(t, 3, results.RegisteredVoters)

	rec = e.do(t, http.MethodPost, "/mine", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var block models.Block
	decode(t, rec, &block)
	assert.Equal(t, uint64(2), block.Index)
	assert.Len(t, block.Transactions, 1)

	rec = e.do(t, http.MethodGet, "/results", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var tally map[string]int
	decode(t, rec, &tally)
	assert.Equal(t, map[string]int{"A": 2, "B": 1}, tally)

	rec = e.do(t, http.MethodGet, "/validate", "")
	var valid ValidateResponse
	decode(t, rec, &valid)
	assert.True(t, valid.Valid)
	assert.Empty(t, valid.Error)

	rec = e.do(t, http.MethodGet, "/verify", "")
	var verification service.VoteVerification
	decode(t, rec, &verification)
	assert.True(t, verification.IsValid)
	assert.Equal(t, 3, verification.CountedVotes)
}

func TestVoteErrors(t *testing.T) {
	e := newTestEnv(t, 10)
	e.register(t, "alice")

	rec := e.do(t, http.MethodPost, "/vote", `{"voter_id":"mallory","candidate":"A"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var msg errorResponse
	decode(t, rec, &msg)
	assert.Equal(t, "Voter not registered", msg.Message)

	rec = e.do(t, http.MethodPost, "/vote", `{"voter_id":"alice","candidate":""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, http.MethodPost, "/vote", `{"voter_id":"alice","candidate":"A"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = e.do(t, http.MethodPost, "/vote", `{"voter_id":"alice","candidate":"B"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	decode(t, rec, &msg)
	assert.Equal(t, "Voter has already voted", msg.Message)
}

func TestHasVoted(t *testing.T) {
	e := newTestEnv(t, 10)
	e.register(t, "alice")
	fp, err := anonymizer.Fingerprint("alice")
	require.NoError(t, err)

	var voted map[string]bool
	rec := e.do(t, http.MethodGet, "/voted?fingerprint="+fp.Hex(), "")
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &voted)
	assert.False(t, voted["voted"])

	require.Equal(t, http.StatusCreated, e.do(t, http.MethodPost, "/vote", `{"voter_id":"alice","candidate":"A"}`).Code)

	rec = e.do(t, http.MethodGet, "/voted?fingerprint="+fp.Hex(), "")
	decode(t, rec, &voted)
	assert.True(t, voted["voted"])

	rec = e.do(t, http.MethodGet, "/voted?fingerprint=0x1234", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMineEmpty(t *testing.T) {
	e := newTestEnv(t, 5)

	rec := e.do(t, http.MethodPost, "/mine", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

type fullQueue struct{}

func (fullQueue) QueueVote(string, string) <-chan *service.ProcessingResult {
	ch := make(chan *service.ProcessingResult, 1)
	ch <- &service.ProcessingResult{
		RequestID:    uuid.New(),
		Err:          service.ErrQueueFull,
		ErrorMessage: service.ErrQueueFull.Error(),
	}
	close(ch)
	return ch
}

func TestVoteQueueFull(t *testing.T) {
	e := newTestEnv(t, 5)
	s := NewServer(e.vs, fullQueue{}, ServerOptions{MetricsHandler: http.NotFoundHandler()})

	req := httptest.NewRequest(http.MethodPost, "/vote", strings.NewReader(`{"voter_id":"alice","candidate":"A"}`))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMethodNotAllowed(t *testing.T) {
	e := newTestEnv(t, 5)

	rec := e.do(t, http.MethodGet, "/mine", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	e := newTestEnv(t, 5)

	req := httptest.NewRequest(http.MethodOptions, "/vote", nil)
	req.Header.Set("Origin", "https://vote.example.org")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)

	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestEndSession(t *testing.T) {
	e := newTestEnv(t, 10)
	e.register(t, "alice")
	e.register(t, "bob")
	require.Equal(t, http.StatusCreated, e.do(t, http.MethodPost, "/vote", `{"voter_id":"alice","candidate":"A"}`).Code)

	rec := e.do(t, http.MethodPost, "/session/end", `{"admin_key":"wrong"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = e.do(t, http.MethodPost, "/session/end", `{"admin_key":"admin123"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var st service.Status
	decode(t, rec, &st)
	assert.False(t, st.VotingActive)
	assert.Equal(t, 2, st.ChainLength)
	assert.Zero(t, st.PendingVotes)
	assert.Equal(t, 1, st.SealedVotes)

	rec = e.do(t, http.MethodPost, "/vote", `{"voter_id":"bob","candidate":"A"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestStatus(t *testing.T) {
	e := newTestEnv(t, 10)

	rec := e.do(t, http.MethodGet, "/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var st service.Status
	decode(t, rec, &st)
	assert.True(t, st.VotingActive)
	assert.Nil(t, st.EndsAt)
	assert.False(t, st.StartedAt.IsZero())
	assert.Equal(t, 1, st.ChainLength)
	assert.Equal(t, uint8(testDifficulty), st.Difficulty)
	assert.Equal(t, e.vs.Chain()[0].Hash, st.TipHash)
}

func TestResultsIsBareTally(t *testing.T) {
	e := newTestEnv(t, 1)

	rec := e.do(t, http.MethodGet, "/results", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{}`, rec.Body.String())

	e.register(t, "alice")
	require.Equal(t, http.StatusCreated, e.do(t, http.MethodPost, "/vote", `{"voter_id":"alice","candidate":"A"}`).Code)

	rec = e.do(t, http.MethodGet, "/results", "")
	assert.JSONEq(t, `{"A":1}`, rec.Body.String())
}

func TestGetVoters(t *testing.T) {
	e := newTestEnv(t, 10)
	e.register(t, "alice")
	e.register(t, "bob")
	require.Equal(t, http.StatusCreated, e.do(t, http.MethodPost, "/vote", `{"voter_id":"bob","candidate":"A"}`).Code)

	rec := e.do(t, http.MethodGet, "/voters", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var voters []service.VoterStatus
	decode(t, rec, &voters)
	require.Len(t, voters, 2)

	voted := map[string]bool{}
	for _, v := range voters {
		voted[v.Fingerprint.Hex()] = v.HasVoted
		assert.False(t, v.RegisteredAt.IsZero())
	}
	alice, err := anonymizer.Fingerprint("alice")
	require.NoError(t, err)
	bob, err := anonymizer.Fingerprint("bob")
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{alice.Hex(): false, bob.Hex(): true}, voted)
}
