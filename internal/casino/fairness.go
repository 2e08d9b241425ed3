package casino

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/betledger/internal/domain"
)

const (
	// houseEdgeModulus makes one round in 33 crash instantly at 1.00.
	houseEdgeModulus = 33
	// crashBits is how many leading bits of the round hash feed the factor.
	crashBits = 52
)

var instantCrash = decimal.NewFromInt(1)

// ParseGameHash decodes a 32-byte round hash given as hex with or without a
// 0x prefix.
func ParseGameHash(s string) (common.Hash, error) {
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		s = "0x" + s
	}
	b, err := hexutil.Decode(s)
	if err != nil || len(b) != common.HashLength {
		return common.Hash{}, fmt.Errorf("%w: %q", domain.ErrInvalidGameHash, s)
	}
	return common.BytesToHash(b), nil
}

// NextHash is the hash of the round played just before h.
func NextHash(h common.Hash) common.Hash {
	return crypto.Keccak256Hash(h.Bytes())
}

// GenerateChain derives n round hashes from seed, returned in play order.
// Each hash is the Keccak-256 of the one played after it, so publishing a
// round's hash proves every earlier round was fixed in advance.
func GenerateChain(seed []byte, n int) []common.Hash {
	if n <= 0 {
		return nil
	}
	chain := make([]common.Hash, n)
	h := crypto.Keccak256Hash(seed)
	for i := n - 1; i >= 0; i-- {
		chain[i] = h
		h = NextHash(h)
	}
	return chain
}

// VerifyLink reports whether played is the hash of its successor.
func VerifyLink(played, successor common.Hash) bool {
	return NextHash(successor) == played
}

// VerifyChain checks every consecutive pair of hashes given in play order.
// It returns the index of the first round that does not link to the next, or
// -1 when the whole chain verifies.
func VerifyChain(hashes []common.Hash) int {
	for i := 0; i+1 < len(hashes); i++ {
		if !VerifyLink(hashes[i], hashes[i+1]) {
			return i
		}
	}
	return -1
}

// CrashFactor derives the round's crash point from its hash. Rounds whose
// hash is divisible by 33 crash at 1.00; otherwise the top 52 bits h give
// floor((100*2^52 - h) / (2^52 - h)) / 100.
func CrashFactor(h common.Hash) decimal.Decimal {
	v := new(big.Int).SetBytes(h.Bytes())
	if new(big.Int).Mod(v, big.NewInt(houseEdgeModulus)).Sign() == 0 {
		return instantCrash
	}

	top := new(big.Int).Rsh(v, common.HashLength*8-crashBits).Uint64()
	const e = uint64(1) << crashBits
	cents := (100*e - top) / (e - top)
	return decimal.New(int64(cents), -2)
}
