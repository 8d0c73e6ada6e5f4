package rpc

import (
	"bytes"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"dposledger/config"
	"dposledger/core"
	"dposledger/core/events"
	"dposledger/core/handlers"
	"dposledger/core/state"
	"dposledger/core/types"
	"dposledger/crypto"
	"dposledger/mempool"
	"dposledger/storage"
)

type serverFixture struct {
	t       *testing.T
	handler http.Handler
	chain   *core.Blockchain
	alice   *crypto.PrivateKey
	bob     *crypto.PrivateKey
}

func newServerFixture(t *testing.T, limits config.RPC) *serverFixture {
	t.Helper()
	db := storage.NewMemDB()
	verifier := crypto.NewVerifier(crypto.DevnetPrefix)
	milestones, err := config.NewMilestones(config.Milestone{Height: 1, BlockMaxTransactions: 10})
	require.NoError(t, err)
	recorder := events.NewRecorder(0)
	registry := handlers.NewDefaultRegistry(handlers.Deps{Verifier: verifier, Milestones: milestones, Emitter: recorder})
	wallets := state.NewWalletManager(db, verifier)
	chain, err := core.NewBlockchain(db)
	require.NoError(t, err)

	alice, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	bob, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	require.NoError(t, wallets.Seed([]*types.Wallet{{
		Address: alice.PubKey().Address(crypto.DevnetPrefix).String(),
		Balance: big.NewInt(1_000),
	}}))

	processor, err := core.NewBlockProcessor(core.ProcessorConfig{
		Registry:   registry,
		Wallets:    wallets,
		Chain:      chain,
		Verifier:   verifier,
		Milestones: milestones,
	})
	require.NoError(t, err)
	guard, err := mempool.NewGuard(mempool.GuardConfig{
		Pool:       mempool.NewPool(config.Mempool{}),
		Wallets:    wallets,
		Registry:   registry,
		Verifier:   verifier,
		Milestones: milestones,
		Chain:      chain,
	})
	require.NoError(t, err)
	processor.Subscribe(guard)

	srv := NewServer(Config{
		Wallets:   wallets,
		Guard:     guard,
		Processor: processor,
		Chain:     chain,
		Events:    recorder,
		Limits:    limits,
	})
	return &serverFixture{t: t, handler: srv.Handler(), chain: chain, alice: alice, bob: bob}
}

func (f *serverFixture) do(method, path string, body any) *httptest.ResponseRecorder {
	f.t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(f.t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.RemoteAddr = "192.0.2.10:5555"
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func (f *serverFixture) transfer(amount, fee int64, timestamp uint64) *types.Transaction {
	f.t.Helper()
	tx := &types.Transaction{
		Type:            types.TxTypeTransfer,
		Timestamp:       timestamp,
		SenderPublicKey: f.alice.PubKey().Compressed(),
		RecipientID:     f.bob.PubKey().Address(crypto.DevnetPrefix).String(),
		Amount:          big.NewInt(amount),
		Fee:             big.NewInt(fee),
	}
	require.NoError(f.t, tx.Sign(f.alice.PrivateKey))
	return tx
}

func TestHealthAndRequestID(t *testing.T) {
	f := newServerFixture(t, config.RPC{})
	rec := f.do(http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, rec.Header().Get(requestIDHeader))
}

func TestSubmitApplyAndRevert(t *testing.T) {
	f := newServerFixture(t, config.RPC{})
	tx := f.transfer(100, 10, 1)

	rec := f.do(http.MethodPost, "/v1/transactions", submitRequest{Transactions: []*types.Transaction{tx}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var submitted struct {
		Data mempool.Result `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &submitted))
	require.Len(t, submitted.Data.Accept, 1)

	rec = f.do(http.MethodGet, "/v1/transactions/pending", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var pending struct {
		Transactions []*types.Transaction `json:"transactions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pending))
	require.Len(t, pending.Transactions, 1)

	block := types.NewBlock(&types.BlockHeader{Height: 1}, pending.Transactions)
	rec = f.do(http.MethodPost, "/v1/blocks", block)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(http.MethodGet, "/v1/wallets/"+f.bob.PubKey().Address(crypto.DevnetPrefix).String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var wallet walletResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &wallet))
	require.Equal(t, "100", wallet.Balance)

	rec = f.do(http.MethodGet, "/v1/events", nil)
	require.Contains(t, rec.Body.String(), events.TypeTransfer)

	rec = f.do(http.MethodGet, "/v1/transactions/pending", nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pending))
	require.Empty(t, pending.Transactions)

	rec = f.do(http.MethodGet, "/v1/blocks/1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(http.MethodDelete, "/v1/blocks/tip", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, uint64(0), f.chain.Height())

	rec = f.do(http.MethodDelete, "/v1/blocks/tip", nil)
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(http.MethodGet, "/v1/blocks/1", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRejectedBlockReportsKind(t *testing.T) {
	f := newServerFixture(t, config.RPC{})
	block := types.NewBlock(&types.BlockHeader{Height: 1}, []*types.Transaction{f.transfer(5_000, 10, 1)})
	rec := f.do(http.MethodPost, "/v1/blocks", block)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, handlers.Kind(handlers.ErrInsufficientBalance), body.Error.Code)

	rec = f.do(http.MethodPost, "/v1/blocks", types.NewBlock(&types.BlockHeader{Height: 3}, nil))
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "not_next_block", body.Error.Code)
}

func TestSubmitRejectsMalformedBodies(t *testing.T) {
	f := newServerFixture(t, config.RPC{MaxBodyBytes: 64})

	rec := f.do(http.MethodPost, "/v1/transactions", map[string]any{"unknown": true})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodPost, "/v1/transactions", submitRequest{Transactions: []*types.Transaction{f.transfer(1, 1, 1)}})
	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/v1/transactions", strings.NewReader(`{"transactions":[]}`))
	out := httptest.NewRecorder()
	f.handler.ServeHTTP(out, req)
	require.Equal(t, http.StatusBadRequest, out.Code)
}

func TestSubmitIsRateLimited(t *testing.T) {
	f := newServerFixture(t, config.RPC{SubmissionsPerMinute: 1, SubmissionBurst: 1})
	body := submitRequest{Transactions: []*types.Transaction{f.transfer(1, 1, 1)}}

	require.Equal(t, http.StatusOK, f.do(http.MethodPost, "/v1/transactions", body).Code)
	rec := f.do(http.MethodPost, "/v1/transactions", body)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)

	// Reads are not throttled.
	require.Equal(t, http.StatusOK, f.do(http.MethodGet, "/v1/state/digest", nil).Code)
}

func TestClientIDPrefersProxyHeaders(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	require.Equal(t, "10.0.0.1", clientID(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	require.Equal(t, "203.0.113.7", clientID(req))

	req.Header.Set("X-Real-IP", "198.51.100.2")
	require.Equal(t, "198.51.100.2", clientID(req))
}
