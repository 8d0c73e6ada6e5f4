package main

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"os"
	"strings"
	"time"

	"dposledger/cmd/internal/passphrase"
	"dposledger/core/types"
	"dposledger/crypto"
)

const (
	keyPassEnv       = "LEDGER_KEY_PASS"
	secondKeyPassEnv = "LEDGER_SECOND_KEY_PASS"
	rpcURLEnv        = "LEDGER_RPC_URL"
	defaultRPCURL    = "http://127.0.0.1:4003"
)

var (
	keyPassphrase       = passphrase.NewSource(keyPassEnv, "key")
	secondKeyPassphrase = passphrase.NewSource(secondKeyPassEnv, "second key")
	now                 = time.Now
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		printUsage(stderr)
		return 1
	}
	switch args[0] {
	case "keygen":
		return runKeygen(args[1:], stdout, stderr)
	case "address":
		return runAddress(args[1:], stdout, stderr)
	case "transfer":
		return runTransfer(args[1:], stdout, stderr)
	case "second-signature":
		return runSecondSignature(args[1:], stdout, stderr)
	case "help", "-h", "--help":
		printUsage(stdout)
		return 0
	default:
		fmt.Fprintf(stderr, "Error: unknown command %q\n", args[0])
		printUsage(stderr)
		return 1
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage: ledgerctl <command> [flags]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  keygen            --out <file> [--prefix dtst] [--light]")
	fmt.Fprintln(w, "  address           (--key <file> | --pubkey <hex>) [--prefix dtst]")
	fmt.Fprintln(w, "  transfer          --key <file> --to <address> --amount <coins> --fee <coins> [--second-key <file>] [--vendor <text>] [--submit] [--rpc <url>]")
	fmt.Fprintln(w, "  second-signature  --key <file> --second-key <file> --fee <coins> [--submit] [--rpc <url>]")
	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "Key passphrases are read from %s and %s or prompted for.\n", keyPassEnv, secondKeyPassEnv)
}

func newFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}

func runKeygen(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("keygen", stderr)
	out := fs.String("out", "", "Path of the encrypted key file to create")
	prefix := fs.String("prefix", string(crypto.DevnetPrefix), "Address prefix")
	light := fs.Bool("light", false, "Use light scrypt parameters (testing only)")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if strings.TrimSpace(*out) == "" {
		fmt.Fprintln(stderr, "Error: --out is required")
		return 1
	}
	if _, err := os.Stat(*out); err == nil {
		fmt.Fprintf(stderr, "Error: %s already exists\n", *out)
		return 1
	}

	pass, err := keyPassphrase.Get()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		fmt.Fprintf(stderr, "Error: generating key: %v\n", err)
		return 1
	}
	params := crypto.StandardScrypt
	if *light {
		params = crypto.LightScrypt
	}
	if err := crypto.SaveKey(*out, key, pass, params); err != nil {
		fmt.Fprintf(stderr, "Error: writing key file: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "Address:    %s\n", key.PubKey().Address(crypto.AddressPrefix(*prefix)).String())
	fmt.Fprintf(stdout, "Public key: %s\n", hex.EncodeToString(key.PubKey().Compressed()))
	return 0
}

func runAddress(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("address", stderr)
	keyFile := fs.String("key", "", "Encrypted key file")
	pubKey := fs.String("pubkey", "", "Hex encoded public key")
	prefix := fs.String("prefix", string(crypto.DevnetPrefix), "Address prefix")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	var raw []byte
	switch {
	case strings.TrimSpace(*pubKey) != "":
		decoded, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(*pubKey), "0x"))
		if err != nil {
			fmt.Fprintf(stderr, "Error: invalid public key: %v\n", err)
			return 1
		}
		raw = decoded
	case strings.TrimSpace(*keyFile) != "":
		key, err := loadKey(*keyFile, keyPassphrase)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		raw = key.PubKey().Compressed()
	default:
		fmt.Fprintln(stderr, "Error: --key or --pubkey is required")
		return 1
	}

	address, err := crypto.AddressFromPublicKey(crypto.AddressPrefix(*prefix), raw)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdout, address.String())
	return 0
}

type submitFlags struct {
	submit bool
	rpcURL string
}

func (s *submitFlags) register(fs *flag.FlagSet) {
	fs.BoolVar(&s.submit, "submit", false, "Send the transaction to the node instead of printing it")
	fs.StringVar(&s.rpcURL, "rpc", "", "Node RPC URL (overrides "+rpcURLEnv+")")
}

func (s *submitFlags) endpoint() string {
	if url := strings.TrimSpace(s.rpcURL); url != "" {
		return strings.TrimRight(url, "/")
	}
	if url := strings.TrimSpace(os.Getenv(rpcURLEnv)); url != "" {
		return strings.TrimRight(url, "/")
	}
	return defaultRPCURL
}

func runTransfer(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("transfer", stderr)
	keyFile := fs.String("key", "", "Sender key file")
	secondKeyFile := fs.String("second-key", "", "Second signature key file")
	to := fs.String("to", "", "Recipient address")
	amount := fs.String("amount", "", "Amount in coins")
	fee := fs.String("fee", "0.1", "Fee in coins")
	vendor := fs.String("vendor", "", "Vendor field")
	var sub submitFlags
	sub.register(fs)
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if strings.TrimSpace(*keyFile) == "" || strings.TrimSpace(*to) == "" {
		fmt.Fprintln(stderr, "Error: --key and --to are required")
		return 1
	}
	if _, err := crypto.DecodeAddress(strings.TrimSpace(*to)); err != nil {
		fmt.Fprintf(stderr, "Error: invalid recipient: %v\n", err)
		return 1
	}
	amountUnits, err := parseAmount(*amount)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	feeUnits, err := parseAmount(*fee)
	if err != nil {
		fmt.Fprintf(stderr, "Error: fee: %v\n", err)
		return 1
	}

	tx := &types.Transaction{
		Type:        types.TxTypeTransfer,
		Timestamp:   uint64(now().Unix()),
		RecipientID: strings.TrimSpace(*to),
		Amount:      amountUnits,
		Fee:         feeUnits,
		VendorField: *vendor,
	}
	if err := signTransaction(tx, *keyFile, *secondKeyFile); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return emit(tx, sub, stdout, stderr)
}

func runSecondSignature(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("second-signature", stderr)
	keyFile := fs.String("key", "", "Sender key file")
	secondKeyFile := fs.String("second-key", "", "Key file holding the second key to register")
	fee := fs.String("fee", "5", "Fee in coins")
	var sub submitFlags
	sub.register(fs)
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if strings.TrimSpace(*keyFile) == "" || strings.TrimSpace(*secondKeyFile) == "" {
		fmt.Fprintln(stderr, "Error: --key and --second-key are required")
		return 1
	}
	feeUnits, err := parseAmount(*fee)
	if err != nil {
		fmt.Fprintf(stderr, "Error: fee: %v\n", err)
		return 1
	}
	second, err := loadKey(*secondKeyFile, secondKeyPassphrase)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	tx := &types.Transaction{
		Type:      types.TxTypeSecondSignature,
		Timestamp: uint64(now().Unix()),
		Amount:    big.NewInt(0),
		Fee:       feeUnits,
		Asset: &types.Asset{Signature: &types.SecondSignatureAsset{
			PublicKey: second.PubKey().Compressed(),
		}},
	}
	if err := signTransaction(tx, *keyFile, ""); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return emit(tx, sub, stdout, stderr)
}

func loadKey(path string, source *passphrase.Source) (*crypto.PrivateKey, error) {
	pass, err := source.Get()
	if err != nil {
		return nil, err
	}
	key, err := crypto.LoadKey(path, pass)
	if err != nil {
		return nil, fmt.Errorf("unable to decrypt key file %s: %w", path, err)
	}
	return key, nil
}

func signTransaction(tx *types.Transaction, keyFile, secondKeyFile string) error {
	key, err := loadKey(keyFile, keyPassphrase)
	if err != nil {
		return err
	}
	tx.SenderPublicKey = key.PubKey().Compressed()
	if err := tx.Sign(key.PrivateKey); err != nil {
		return fmt.Errorf("signing transaction: %w", err)
	}
	if strings.TrimSpace(secondKeyFile) == "" {
		return nil
	}
	second, err := loadKey(secondKeyFile, secondKeyPassphrase)
	if err != nil {
		return err
	}
	if err := tx.SecondSign(second.PrivateKey); err != nil {
		return fmt.Errorf("second signing transaction: %w", err)
	}
	return nil
}

func emit(tx *types.Transaction, sub submitFlags, stdout, stderr io.Writer) int {
	if !sub.submit {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(tx); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		return 0
	}
	id, err := submit(sub.endpoint(), tx)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "Accepted transaction %s (amount %s, fee %s)\n", id, formatAmount(tx.Amount), formatAmount(tx.Fee))
	return 0
}

type submitResponse struct {
	Data struct {
		Accept []string `json:"accept"`
		Errors map[string][]struct {
			Code    string `json:"type"`
			Message string `json:"message"`
		} `json:"errors"`
	} `json:"data"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

var httpClient = &http.Client{Timeout: 15 * time.Second}

func submit(endpoint string, tx *types.Transaction) (string, error) {
	body, err := json.Marshal(map[string]any{"transactions": []*types.Transaction{tx}})
	if err != nil {
		return "", err
	}
	resp, err := httpClient.Post(endpoint+"/v1/transactions", "application/json", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("submitting transaction: %w", err)
	}
	defer resp.Body.Close()

	var decoded submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("decoding response (status %d): %w", resp.StatusCode, err)
	}
	if decoded.Error != nil {
		return "", fmt.Errorf("%s: %s", decoded.Error.Code, decoded.Error.Message)
	}
	if len(decoded.Data.Accept) == 1 {
		return decoded.Data.Accept[0], nil
	}
	for _, rejections := range decoded.Data.Errors {
		for _, r := range rejections {
			return "", fmt.Errorf("rejected with %s: %s", r.Code, r.Message)
		}
	}
	return "", errors.New("transaction was not accepted")
}
