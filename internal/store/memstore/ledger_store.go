package memstore

import (
	"context"
	"math/big"
	"sort"

	"github.com/alanyoungcy/betledger/internal/domain"
)

type ledgerStore struct{ t *tx }

func (s ledgerStore) AppendTransfer(_ context.Context, tr domain.Transfer) (int64, error) {
	st := s.t.st
	st.nextTransferID++
	tr.ID = st.nextTransferID
	tr.Amount = new(big.Int).Set(tr.Amount)
	st.transfers = append(st.transfers, tr)
	return tr.ID, nil
}

func (s ledgerStore) ReadBalance(_ context.Context, acct domain.Account, symbol string) (*big.Int, error) {
	if bal, ok := s.t.st.balances[balanceKey{acct.Key(), symbol}]; ok {
		return new(big.Int).Set(bal), nil
	}
	return new(big.Int), nil
}

func (s ledgerStore) WriteBalance(_ context.Context, acct domain.Account, symbol string, amount *big.Int) error {
	s.t.st.balances[balanceKey{acct.Key(), symbol}] = new(big.Int).Set(amount)
	return nil
}

func (s ledgerStore) SumTransfers(_ context.Context, acct domain.Account, symbol string) (*big.Int, error) {
	sum := new(big.Int)
	for _, tr := range s.t.st.transfers {
		if tr.Symbol != symbol {
			continue
		}
		if tr.Receiver == acct {
			sum.Add(sum, tr.Amount)
		}
		if tr.Sender == acct {
			sum.Sub(sum, tr.Amount)
		}
	}
	return sum, nil
}

func (s ledgerStore) ListHolders(_ context.Context, symbol string) ([]domain.Balance, error) {
	var out []domain.Balance
	for k, bal := range s.t.st.balances {
		if k.symbol != symbol || bal.Sign() <= 0 {
			continue
		}
		acct, err := domain.ParseAccount(k.account)
		if err != nil {
			return nil, err
		}
		out = append(out, domain.Balance{Account: acct, Symbol: symbol, Amount: new(big.Int).Set(bal)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Account.Key() < out[j].Account.Key() })
	return out, nil
}

func (s ledgerStore) TotalSupply(_ context.Context, symbol string) (*big.Int, error) {
	total := new(big.Int)
	for k, bal := range s.t.st.balances {
		if k.symbol == symbol {
			total.Add(total, bal)
		}
	}
	return total, nil
}
