package ledger

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// SubAccountCount is how many sub-accounts each owner controls.
const SubAccountCount = 256

// AccountKey addresses one margin account: an owner identity plus a
// sub-account index. Authorization is granted per owner and covers all
// 256 sub-accounts.
type AccountKey struct {
	Owner    uuid.UUID
	SubIndex uint8
}

// NewAccountKey builds the key for one of an owner's sub-accounts.
func NewAccountKey(owner uuid.UUID, subIndex uint8) AccountKey {
	return AccountKey{Owner: owner, SubIndex: subIndex}
}

// AccountPath returns the string form used for storage and logging.
func (k AccountKey) AccountPath() string {
	return fmt.Sprintf("acct:%s:%d", k.Owner.String(), k.SubIndex)
}

// ParseAccountPath parses the string form back into a key. Inverse of
// AccountPath for well-formed inputs.
func ParseAccountPath(path string) (AccountKey, error) {
	parts := strings.Split(path, ":")
	if len(parts) != 3 || parts[0] != "acct" {
		return AccountKey{}, fmt.Errorf("malformed account path %q", path)
	}

	owner, err := uuid.Parse(parts[1])
	if err != nil {
		return AccountKey{}, fmt.Errorf("malformed account path %q: %w", path, err)
	}

	sub, err := strconv.ParseUint(parts[2], 10, 8)
	if err != nil {
		return AccountKey{}, fmt.Errorf("malformed account path %q: %w", path, err)
	}

	return AccountKey{Owner: owner, SubIndex: uint8(sub)}, nil
}
