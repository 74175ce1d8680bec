package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// JournalType tags the audit record written for each committed mutation.
type JournalType int32

const (
	JournalTypeDeposit JournalType = iota
	JournalTypeWithdrawal
	JournalTypeMint
	JournalTypeBurn
	JournalTypeMerge
	JournalTypeSplit
	JournalTypeTransfer
	JournalTypeSettleReserve
	JournalTypeLiquidationPayout
	JournalTypeCashPayout
)

func (jt JournalType) String() string {
	switch jt {
	case JournalTypeDeposit:
		return "Deposit"
	case JournalTypeWithdrawal:
		return "Withdrawal"
	case JournalTypeMint:
		return "Mint"
	case JournalTypeBurn:
		return "Burn"
	case JournalTypeMerge:
		return "Merge"
	case JournalTypeSplit:
		return "Split"
	case JournalTypeTransfer:
		return "Transfer"
	case JournalTypeSettleReserve:
		return "SettleReserve"
	case JournalTypeLiquidationPayout:
		return "LiquidationPayout"
	case JournalTypeCashPayout:
		return "CashPayout"
	default:
		return "Unknown"
	}
}

// Journal is one audit entry: a single action applied to one account in
// a committed batch.
type Journal struct {
	JournalID   uuid.UUID
	BatchID     uuid.UUID // groups the entries of one committed batch
	Sequence    int64     // global commit sequence
	AccountPath string    // AccountKey.AccountPath()
	TokenKey    string    // hex-encoded position key, "" for collateral ops
	AssetID     uint16    // collateral asset, 0 for pure position ops
	Amount      uint64    // fixed point; always positive
	JournalType JournalType
	Timestamp   int64 // epoch microseconds
}

// Batch groups the journal entries of one committed action batch.
type Batch struct {
	BatchID   uuid.UUID
	Sequence  int64
	Timestamp int64
	Journals  []Journal
}

// Validate checks the batch is well formed before it is applied to the
// audit trail.
func (b *Batch) Validate() error {
	for _, j := range b.Journals {
		if j.Amount == 0 {
			return fmt.Errorf("journal %s has zero amount", j.JournalID)
		}
		if j.BatchID != b.BatchID {
			return fmt.Errorf("journal %s has mismatched batch_id", j.JournalID)
		}
		if j.AccountPath == "" {
			return fmt.Errorf("journal %s has empty account path", j.JournalID)
		}
	}
	return nil
}
