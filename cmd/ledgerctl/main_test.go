package main

import (
	"bytes"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"dposledger/cmd/internal/passphrase"
	"dposledger/core/types"
	"dposledger/crypto"
)

func TestParseAmount(t *testing.T) {
	cases := map[string]int64{
		"1":          100_000_000,
		"0.1":        10_000_000,
		"12.3456789": 1_234_567_890,
		"0":          0,
	}
	for input, want := range cases {
		got, err := parseAmount(input)
		require.NoError(t, err, input)
		require.Zero(t, big.NewInt(want).Cmp(got), input)
	}
	for _, bad := range []string{"", "-1", "abc", "0.000000001"} {
		_, err := parseAmount(bad)
		require.Error(t, err, bad)
	}
	require.Equal(t, "1.5", formatAmount(big.NewInt(150_000_000)))
}

func setPassphrases(t *testing.T) {
	t.Helper()
	t.Setenv(keyPassEnv, "sender-pass")
	t.Setenv(secondKeyPassEnv, "second-pass")
	keyPassphrase = passphrase.NewSource(keyPassEnv, "key")
	secondKeyPassphrase = passphrase.NewSource(secondKeyPassEnv, "second key")
}

func keygen(t *testing.T, path string) string {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run([]string{"keygen", "--out", path, "--light"}, &stdout, &stderr)
	require.Equal(t, 0, code, stderr.String())
	line := strings.SplitN(stdout.String(), "\n", 2)[0]
	return strings.TrimSpace(strings.TrimPrefix(line, "Address:"))
}

func TestKeygenAndAddress(t *testing.T) {
	setPassphrases(t)
	path := filepath.Join(t.TempDir(), "sender.json")
	address := keygen(t, path)

	var stdout, stderr bytes.Buffer
	require.Equal(t, 0, run([]string{"address", "--key", path}, &stdout, &stderr), stderr.String())
	require.Equal(t, address, strings.TrimSpace(stdout.String()))

	stderr.Reset()
	require.Equal(t, 1, run([]string{"keygen", "--out", path, "--light"}, &stdout, &stderr))
	require.Contains(t, stderr.String(), "already exists")
}

func TestTransferPrintsSignedTransaction(t *testing.T) {
	setPassphrases(t)
	dir := t.TempDir()
	senderPath := filepath.Join(dir, "sender.json")
	secondPath := filepath.Join(dir, "second.json")
	keygen(t, senderPath)
	t.Setenv(keyPassEnv, "second-pass")
	keyPassphrase = passphrase.NewSource(keyPassEnv, "key")
	keygen(t, secondPath)
	setPassphrases(t)

	recipient, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	to := recipient.PubKey().Address(crypto.DevnetPrefix).String()

	var stdout, stderr bytes.Buffer
	code := run([]string{"transfer", "--key", senderPath, "--second-key", secondPath, "--to", to, "--amount", "2.5", "--fee", "0.1"}, &stdout, &stderr)
	require.Equal(t, 0, code, stderr.String())

	var tx types.Transaction
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &tx))
	require.Equal(t, types.TxTypeTransfer, tx.Type)
	require.Zero(t, big.NewInt(250_000_000).Cmp(tx.Amount))
	require.Zero(t, big.NewInt(10_000_000).Cmp(tx.Fee))
	require.True(t, crypto.NewVerifier(crypto.DevnetPrefix).VerifySignature(&tx))
	require.True(t, tx.HasSecondSignature())

	stderr.Reset()
	require.Equal(t, 1, run([]string{"transfer", "--key", senderPath, "--to", "nope", "--amount", "1"}, &stdout, &stderr))
}

func TestSecondSignatureSubmits(t *testing.T) {
	setPassphrases(t)
	dir := t.TempDir()
	senderPath := filepath.Join(dir, "sender.json")
	keygen(t, senderPath)
	t.Setenv(keyPassEnv, "second-pass")
	keyPassphrase = passphrase.NewSource(keyPassEnv, "key")
	secondPath := filepath.Join(dir, "second.json")
	keygen(t, secondPath)
	setPassphrases(t)

	var received []*types.Transaction
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/transactions", r.URL.Path)
		var body struct {
			Transactions []*types.Transaction `json:"transactions"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		received = body.Transactions
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{"accept":["abc123"],"invalid":[],"excess":[]}}`))
	}))
	defer srv.Close()

	var stdout, stderr bytes.Buffer
	code := run([]string{"second-signature", "--key", senderPath, "--second-key", secondPath, "--submit", "--rpc", srv.URL}, &stdout, &stderr)
	require.Equal(t, 0, code, stderr.String())
	require.Contains(t, stdout.String(), "abc123")
	require.Len(t, received, 1)
	require.Equal(t, types.TxTypeSecondSignature, received[0].Type)
	require.NotEmpty(t, received[0].SecondPublicKeyAsset())
}

func TestSubmitReportsRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"data":{"accept":[],"invalid":["x"],"excess":[],"errors":{"x":[{"txId":"x","type":"ERR_APPLY","message":"insufficient balance"}]}}}`))
	}))
	defer srv.Close()

	_, err := submit(srv.URL, &types.Transaction{Amount: big.NewInt(1), Fee: big.NewInt(1)})
	require.ErrorContains(t, err, "ERR_APPLY")
}
