// Package token is the value-transfer service the ledger settles against.
// Balances live in pebble; every debit moves funds into a custody account
// and every credit pays out of it, each as one atomic batch.
package token

import (
	"context"
	"math/big"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/pkg/errors"

	"labledger/domain/chain"
	"labledger/domain/ledgererr"
)

const (
	balancePrefix = "bal/"
	genesisKey    = "meta/genesis"
)

type Ledger struct {
	mu      sync.Mutex
	db      *pebble.DB
	custody chain.Address
}

// Open opens the balance store at dir. opts may be nil.
func Open(dir string, opts *pebble.Options, custody chain.Address) (*Ledger, error) {
	if custody.IsZero() {
		return nil, errors.New("custody address is required")
	}
	if opts == nil {
		opts = &pebble.Options{}
	}
	db, err := pebble.Open(dir, opts)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open token store")
	}
	return &Ledger{db: db, custody: custody}, nil
}

func (l *Ledger) Close() error {
	return l.db.Close()
}

func (l *Ledger) Custody() chain.Address {
	return l.custody
}

// Debit moves amount from account into custody. It fails with
// InsufficientFunds and changes nothing if the account is short.
func (l *Ledger) Debit(ctx context.Context, account chain.Address, amount *big.Int) error {
	return l.transfer(ctx, account, l.custody, amount)
}

// Credit pays amount out of custody to account.
func (l *Ledger) Credit(ctx context.Context, account chain.Address, amount *big.Int) error {
	return l.transfer(ctx, l.custody, account, amount)
}

func (l *Ledger) transfer(ctx context.Context, from, to chain.Address, amount *big.Int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !chain.ValidAmount(amount) {
		return ledgererr.InvalidArgument("transfer amount must be an unsigned 256-bit integer")
	}
	if amount.Sign() == 0 || from == to {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	fromBal, err := l.balance(from)
	if err != nil {
		return err
	}
	if fromBal.Cmp(amount) < 0 {
		return ledgererr.InsufficientFunds("account %s holds %s, needs %s", from, fromBal, amount)
	}
	toBal, err := l.balance(to)
	if err != nil {
		return err
	}

	b := l.db.NewBatch()
	defer b.Close()
	if err := b.Set(balanceKey(from), fromBal.Sub(fromBal, amount).Bytes(), nil); err != nil {
		return errors.Wrap(err, "failed to stage debit")
	}
	if err := b.Set(balanceKey(to), toBal.Add(toBal, amount).Bytes(), nil); err != nil {
		return errors.Wrap(err, "failed to stage credit")
	}
	return errors.Wrap(b.Commit(pebble.Sync), "failed to commit transfer")
}

func (l *Ledger) BalanceOf(account chain.Address) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balance(account)
}

func (l *Ledger) balance(account chain.Address) (*big.Int, error) {
	val, closer, err := l.db.Get(balanceKey(account))
	if errors.Is(err, pebble.ErrNotFound) {
		return new(big.Int), nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read balance of %s", account)
	}
	defer closer.Close()
	return new(big.Int).SetBytes(val), nil
}

// Seed credits the genesis balances once per store. It reports whether
// the balances were applied on this call.
func (l *Ledger) Seed(balances map[chain.Address]*big.Int) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	_, closer, err := l.db.Get([]byte(genesisKey))
	if err == nil {
		closer.Close()
		return false, nil
	}
	if !errors.Is(err, pebble.ErrNotFound) {
		return false, errors.Wrap(err, "failed to read genesis marker")
	}

	b := l.db.NewBatch()
	defer b.Close()
	for account, amount := range balances {
		if !chain.ValidAmount(amount) {
			return false, ledgererr.InvalidArgument("genesis balance for %s is out of range", account)
		}
		cur, err := l.balance(account)
		if err != nil {
			return false, err
		}
		if err := b.Set(balanceKey(account), cur.Add(cur, amount).Bytes(), nil); err != nil {
			return false, errors.Wrap(err, "failed to stage genesis balance")
		}
	}
	if err := b.Set([]byte(genesisKey), []byte{1}, nil); err != nil {
		return false, errors.Wrap(err, "failed to stage genesis marker")
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return false, errors.Wrap(err, "failed to commit genesis")
	}
	return true, nil
}

func balanceKey(account chain.Address) []byte {
	return []byte(balancePrefix + account.String())
}
