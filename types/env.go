package types

// QueryRequest is an environment query issued by a contract.
// Exactly one field is set.
type QueryRequest struct {
	// BlockInfo asks about the current block.
	BlockInfo *struct{} `cbor:"block_info,omitempty"`
	// Accounts is an accounts API query.
	Accounts *AccountsQuery `cbor:"accounts,omitempty"`
}

// AccountsQuery is an accounts API query.
// Exactly one field is set.
type AccountsQuery struct {
	Balance *BalanceQuery `cbor:"balance,omitempty"`
}

// BalanceQuery asks for an account's balance of one denomination.
type BalanceQuery struct {
	Address      Address `cbor:"address"`
	Denomination string  `cbor:"denomination"`
}

// QueryResponse is the host's answer to an environment query.
// Exactly one field is set.
type QueryResponse struct {
	Error     *QueryError       `cbor:"error,omitempty"`
	BlockInfo *BlockInfo        `cbor:"block_info,omitempty"`
	Accounts  *AccountsResponse `cbor:"accounts,omitempty"`
}

// QueryError indicates a failed query.
type QueryError struct {
	Module  string `cbor:"module,omitempty"`
	Code    uint32 `cbor:"code"`
	Message string `cbor:"message,omitempty"`
}

// BlockInfo describes the current block.
type BlockInfo struct {
	Round     uint64 `cbor:"round"`
	Epoch     uint64 `cbor:"epoch"`
	Timestamp uint64 `cbor:"timestamp"`
}

// AccountsResponse is an accounts API response.
// Exactly one field is set.
type AccountsResponse struct {
	Balance *BalanceResponse `cbor:"balance,omitempty"`
}

// BalanceResponse carries the queried balance.
type BalanceResponse struct {
	Balance uint64 `cbor:"balance"`
}

// Querier answers environment queries on behalf of the embedding runtime.
type Querier interface {
	// Balance returns the balance of the given account.
	Balance(addr Address, denomination string) (uint64, error)
}
