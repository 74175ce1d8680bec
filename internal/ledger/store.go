package ledger

// AccountStore is the keyed store for committed account records. All
// access goes through explicit Get/Put/Delete; the engine serializes
// writers, so the store itself carries no locking.
type AccountStore struct {
	accounts map[AccountKey]Account
}

func NewAccountStore() *AccountStore {
	return &AccountStore{
		accounts: make(map[AccountKey]Account),
	}
}

// Get returns the stored account for a key. Accounts are created
// implicitly: a key never written reads as the zero-valued record.
func (s *AccountStore) Get(key AccountKey) Account {
	return s.accounts[key]
}

// Put commits an account record. Storing a fully unwound account
// releases the slot instead of keeping a zero record around.
func (s *AccountStore) Put(key AccountKey, acct Account) {
	if acct.IsEmpty() {
		delete(s.accounts, key)
		return
	}
	s.accounts[key] = acct
}

// Delete clears a slot (used by account transfer).
func (s *AccountStore) Delete(key AccountKey) {
	delete(s.accounts, key)
}

// Len returns the number of non-empty accounts.
func (s *AccountStore) Len() int {
	return len(s.accounts)
}

// Snapshot returns a copy of all non-empty accounts, for state hashing
// and persistence.
func (s *AccountStore) Snapshot() map[AccountKey]Account {
	out := make(map[AccountKey]Account, len(s.accounts))
	for k, v := range s.accounts {
		out[k] = v
	}
	return out
}
