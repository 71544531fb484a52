package vm

// Params are the consensus limits every node enforces identically.
type Params struct {
	// MinFee is the smallest fee accepted for a top-level transaction and
	// the fee charged to an application account for each inner transaction.
	MinFee uint64 `toml:"min_fee"`
	// MaxAppArgs bounds the number of application-call arguments.
	MaxAppArgs int `toml:"max_app_args"`
	// MaxArgSize bounds each application-call argument in bytes.
	MaxArgSize int `toml:"max_arg_size"`
	// MaxTotalArgBytes bounds the summed argument bytes of one call.
	MaxTotalArgBytes int `toml:"max_total_arg_bytes"`
	// MaxGlobalSchema bounds each kind of global slot an application may declare.
	MaxGlobalSchema uint64 `toml:"max_global_schema"`
	// MaxLocalSchema bounds each kind of local slot an application may declare.
	MaxLocalSchema uint64 `toml:"max_local_schema"`
	// MaxForeignAssets bounds the referenced-asset list of one call.
	MaxForeignAssets int `toml:"max_foreign_assets"`
	// MaxInnerTxns bounds the inner transactions one call may issue.
	MaxInnerTxns int `toml:"max_inner_txns"`
}

// DefaultParams returns the limits used by a development network.
func DefaultParams() Params {
	return Params{
		MinFee:           1000,
		MaxAppArgs:       16,
		MaxArgSize:       128,
		MaxTotalArgBytes: 2048,
		MaxGlobalSchema:  64,
		MaxLocalSchema:   16,
		MaxForeignAssets: 8,
		MaxInnerTxns:     16,
	}
}
