package vm

// ContractResult is the outcome of one ExecuteContract call, returned
// to the caller (block finalization, per spec.md §4.7) regardless of
// whether the contract call itself succeeded.
type ContractResult struct {
	Success    bool
	ReturnData []byte
	GasUsed    uint64
	Error      string
	Logs       []string
}

// CallContext carries the deterministic execution inputs a block
// finalizer supplies: everything a contract can observe about its
// invocation must come from here, never from wall-clock time or other
// ambient host state, or different validators would diverge.
type CallContext struct {
	ContractAddress string
	CallerAddress   string
	FunctionName    string
	GasLimit        uint64
	Value           uint64
	BlockHeight     uint64
	BlockTimestamp  int64
}
