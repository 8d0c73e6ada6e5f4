package config

import "fmt"

var (
	MaxBodyBytesCeiling = int64(16 << 20)
)

func ValidateConfig(g Global) error {
	if g.Mempool.MaxTransactions <= 0 {
		return fmt.Errorf("mempool: max_transactions <= 0")
	}
	if g.Mempool.MaxTransactionsPerSender <= 0 {
		return fmt.Errorf("mempool: max_transactions_per_sender <= 0")
	}
	if g.Mempool.MaxTransactionsPerSender > g.Mempool.MaxTransactions {
		return fmt.Errorf("mempool: max_transactions_per_sender > max_transactions")
	}
	if g.RPC.SubmissionsPerMinute < 0 {
		return fmt.Errorf("rpc: submissions_per_minute < 0")
	}
	if g.RPC.SubmissionsPerMinute > 0 && g.RPC.SubmissionBurst <= 0 {
		return fmt.Errorf("rpc: submission_burst <= 0 with rate limiting enabled")
	}
	if g.RPC.MaxBodyBytes <= 0 || g.RPC.MaxBodyBytes > MaxBodyBytesCeiling {
		return fmt.Errorf("rpc: max_body_bytes out of range")
	}
	return nil
}
