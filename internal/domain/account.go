package domain

import (
	"fmt"
	"strings"
)

// Namespace is a logical sub-ledger. Balances in different namespaces never
// mix even when the owner id is the same.
type Namespace string

const (
	NamespaceUser   Namespace = "user"
	NamespacePool   Namespace = "pool"
	NamespaceFees   Namespace = "fees"
	NamespaceCasino Namespace = "casino"
	NamespaceSystem Namespace = "system"
)

var knownNamespaces = map[Namespace]bool{
	NamespaceUser:   true,
	NamespacePool:   true,
	NamespaceFees:   true,
	NamespaceCasino: true,
	NamespaceSystem: true,
}

// Account identifies a balance owner. The zero Account is the mint/burn side
// of a transfer.
type Account struct {
	Namespace Namespace
	ID        string
}

func UserAccount(id string) Account       { return Account{Namespace: NamespaceUser, ID: id} }
func PoolAccount(marketID string) Account { return Account{Namespace: NamespacePool, ID: marketID} }
func FeeAccount(marketID string) Account  { return Account{Namespace: NamespaceFees, ID: marketID} }
func CasinoAccount(name string) Account   { return Account{Namespace: NamespaceCasino, ID: name} }
func SystemAccount(name string) Account   { return Account{Namespace: NamespaceSystem, ID: name} }

// IsZero reports whether a is the empty account.
func (a Account) IsZero() bool {
	return a.Namespace == "" && a.ID == ""
}

// Key is the storage form "<namespace>:<id>". The zero account has key "".
func (a Account) Key() string {
	if a.IsZero() {
		return ""
	}
	return string(a.Namespace) + ":" + a.ID
}

func (a Account) String() string {
	if a.IsZero() {
		return "<none>"
	}
	return a.Key()
}

// Validate checks that a non-zero account has a known namespace and an id.
// Ids may not contain the key separator, so every key names one account.
func (a Account) Validate() error {
	if a.IsZero() {
		return nil
	}
	if !knownNamespaces[a.Namespace] {
		return fmt.Errorf("%w: unknown namespace %q", ErrInvalidAccount, a.Namespace)
	}
	if strings.TrimSpace(a.ID) == "" {
		return fmt.Errorf("%w: empty id in namespace %q", ErrInvalidAccount, a.Namespace)
	}
	if strings.Contains(a.ID, ":") {
		return fmt.Errorf("%w: id %q contains ':'", ErrInvalidAccount, a.ID)
	}
	return nil
}

// ParseAccount is the inverse of Account.Key.
func ParseAccount(key string) (Account, error) {
	if key == "" {
		return Account{}, nil
	}
	ns, id, ok := strings.Cut(key, ":")
	if !ok {
		return Account{}, fmt.Errorf("%w: malformed key %q", ErrInvalidAccount, key)
	}
	a := Account{Namespace: Namespace(ns), ID: id}
	if err := a.Validate(); err != nil {
		return Account{}, err
	}
	return a, nil
}

// MarshalText encodes the account as its key so JSON archives stay flat.
func (a Account) MarshalText() ([]byte, error) {
	return []byte(a.Key()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Account) UnmarshalText(text []byte) error {
	parsed, err := ParseAccount(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
