package config

// Mempool controls transaction pool admission limits.
type Mempool struct {
	MaxTransactions          int `toml:"MaxTransactions"`
	MaxTransactionsPerSender int `toml:"MaxTransactionsPerSender"`
}

// RPC captures limits applied by the HTTP API.
type RPC struct {
	SubmissionsPerMinute float64 `toml:"SubmissionsPerMinute"`
	SubmissionBurst      int     `toml:"SubmissionBurst"`
	MaxBodyBytes         int64   `toml:"MaxBodyBytes"`
}

// Telemetry configures the OTLP exporters.
type Telemetry struct {
	Endpoint string `toml:"Endpoint"`
	Insecure bool   `toml:"Insecure"`
	Headers  string `toml:"Headers"`
	Traces   bool   `toml:"Traces"`
	Metrics  bool   `toml:"Metrics"`
}

// Global bundles the runtime configuration values enforced by ValidateConfig.
type Global struct {
	Mempool Mempool `toml:"mempool"`
	RPC     RPC     `toml:"rpc"`
}

// DefaultGlobal returns the limits used when a config omits them.
func DefaultGlobal() Global {
	return Global{
		Mempool: Mempool{
			MaxTransactions:          100000,
			MaxTransactionsPerSender: 300,
		},
		RPC: RPC{
			SubmissionsPerMinute: 600,
			SubmissionBurst:      60,
			MaxBodyBytes:         1 << 20,
		},
	}
}
