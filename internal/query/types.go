package query

// SnapshotResponse mirrors one row of audit.account_snapshots. Amounts
// are raw native-decimal integers; token keys are the hex position keys.
type SnapshotResponse struct {
	AccountPath     string `json:"account_path"`
	CollateralAmt   int64  `json:"collateral_amount"`
	CollateralAsset int16  `json:"collateral_asset"`
	ShortCallKey    string `json:"short_call_key,omitempty"`
	ShortCallAmt    int64  `json:"short_call_amount,omitempty"`
	ShortPutKey     string `json:"short_put_key,omitempty"`
	ShortPutAmt     int64  `json:"short_put_amount,omitempty"`
	AsOfSequence    int64  `json:"as_of_sequence"`
}

// JournalResponse is one audit journal entry.
type JournalResponse struct {
	JournalID   string `json:"journal_id"`
	BatchID     string `json:"batch_id"`
	Sequence    int64  `json:"sequence"`
	AccountPath string `json:"account_path"`
	TokenKey    string `json:"token_key,omitempty"`
	AssetID     int16  `json:"asset_id"`
	Amount      int64  `json:"amount"`
	JournalType string `json:"journal_type"`
	TimestampUs int64  `json:"timestamp_us"`
}

// IntegrityReport summarizes a hash-chain verification pass over the
// audit trail.
type IntegrityReport struct {
	Checked         int64   `json:"checked"`
	HashChainBreaks []int64 `json:"hash_chain_breaks,omitempty"`
	Passed          bool    `json:"passed"`
}
