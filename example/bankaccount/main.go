// Command bankaccount is an end-to-end walkthrough of the engine: it opens
// a bank account aggregate, deposits and withdraws against it, replays it
// from the in-memory event store, and drives a balance projection over the
// same stream.
package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/go-eventry/eventry/aggregate"
	"github.com/go-eventry/eventry/event"
	"github.com/go-eventry/eventry/eventstore"
	"github.com/go-eventry/eventry/eventstore/memory"
	"github.com/go-eventry/eventry/metadata"
	"github.com/go-eventry/eventry/projection"
)

// ErrInsufficientFunds occurs when a withdrawal would take a BankAccount negative.
var ErrInsufficientFunds = errors.New("bankaccount: insufficient funds")

const aggregateType = "BankAccount"

type (
	// BankAccount is an aggregate.Root tracking a running decimal.Decimal balance.
	BankAccount struct {
		aggregate.BaseRoot

		id      aggregate.ID
		balance decimal.Decimal
	}

	// AccountOpened is recorded once, when a BankAccount is first opened.
	AccountOpened struct {
		AccountID aggregate.ID `json:"account_id"`
	}

	// AccountCredited is recorded on every deposit.
	AccountCredited struct {
		Amount decimal.Decimal `json:"amount"`
	}

	// AccountDebited is recorded on every withdrawal.
	AccountDebited struct {
		Amount decimal.Decimal `json:"amount"`
	}
)

var _ aggregate.Root = (*BankAccount)(nil)

// NewBankAccount returns an empty aggregate for replay. It is the factory
// passed to aggregate.NewRepository.
func NewBankAccount() aggregate.Root {
	return &BankAccount{}
}

// OpenBankAccount records AccountOpened against a freshly generated id.
func OpenBankAccount() *BankAccount {
	account := &BankAccount{id: aggregate.GenerateID()}
	aggregate.Record(account, "AccountOpened", AccountOpened{AccountID: account.id})
	return account
}

// AggregateID satisfies aggregate.Root.
func (b *BankAccount) AggregateID() aggregate.ID { return b.id }

// AggregateType satisfies aggregate.Root.
func (b *BankAccount) AggregateType() string { return aggregateType }

// EventHandlers satisfies aggregate.Root: a pure state transition per event name.
func (b *BankAccount) EventHandlers() map[string]aggregate.Handler {
	return map[string]aggregate.Handler{
		"AccountOpened": func(payload interface{}) {
			b.id = payload.(AccountOpened).AccountID
		},
		"AccountCredited": func(payload interface{}) {
			b.balance = b.balance.Add(payload.(AccountCredited).Amount)
		},
		"AccountDebited": func(payload interface{}) {
			b.balance = b.balance.Sub(payload.(AccountDebited).Amount)
		},
	}
}

// Deposit records an AccountCredited event, applying it immediately.
func (b *BankAccount) Deposit(amount decimal.Decimal) error {
	if amount.Sign() <= 0 {
		return nil
	}
	aggregate.Record(b, "AccountCredited", AccountCredited{Amount: amount})
	return nil
}

// Withdraw records an AccountDebited event, refusing to overdraw.
func (b *BankAccount) Withdraw(amount decimal.Decimal) error {
	if amount.GreaterThan(b.balance) {
		return ErrInsufficientFunds
	}
	aggregate.Record(b, "AccountDebited", AccountDebited{Amount: amount})
	return nil
}

// Balance returns the current balance.
func (b *BankAccount) Balance() decimal.Decimal { return b.balance }

func main() {
	ctx := context.Background()

	strategy := memory.New()
	store, err := eventstore.New(strategy, nil)
	if err != nil {
		panic(err)
	}
	if err := store.Install(ctx); err != nil {
		panic(err)
	}

	const streamName = "bank_accounts"
	if err := store.CreateStream(ctx, streamName); err != nil {
		panic(err)
	}

	repo := aggregate.NewRepository(store, streamName, NewBankAccount)

	account := OpenBankAccount()
	if err := account.Deposit(decimal.NewFromInt(100)); err != nil {
		panic(err)
	}
	if err := account.Withdraw(decimal.NewFromInt(10)); err != nil {
		panic(err)
	}
	if err := account.Withdraw(decimal.NewFromInt(20)); err != nil {
		panic(err)
	}
	if err := repo.Save(ctx, account); err != nil {
		panic(err)
	}

	replayed, err := repo.Get(ctx, account.AggregateID())
	if err != nil {
		panic(err)
	}
	fmt.Printf("BankAccount %s has a balance of %s\n", account.AggregateID(), replayed.(*BankAccount).Balance())

	manager := projection.NewManager(store, strategy, nil)
	balances := manager.CreateProjector("account-balances")
	mustInit(balances.Init(func() interface{} { return map[string]string{} }))
	mustInit(balances.FromStream(streamName, metadata.Matcher{}))
	mustInit(balances.When(map[string]projection.EventHandler{
		"AccountOpened": func(state interface{}, e event.Event) interface{} {
			id, _ := event.AggregateID(e)
			balances := state.(map[string]string)
			balances[id] = "0"
			return balances
		},
		"AccountCredited": func(state interface{}, e event.Event) interface{} {
			return adjustBalance(state, e, e.Payload().(AccountCredited).Amount)
		},
		"AccountDebited": func(state interface{}, e event.Event) interface{} {
			return adjustBalance(state, e, e.Payload().(AccountDebited).Amount.Neg())
		},
	}))

	if err := balances.Run(ctx, false); err != nil {
		panic(err)
	}
	fmt.Printf("projected balances: %v\n", balances.State())
}

func adjustBalance(state interface{}, e event.Event, delta decimal.Decimal) interface{} {
	id, _ := event.AggregateID(e)
	balances := state.(map[string]string)
	current, _ := decimal.NewFromString(balances[id])
	balances[id] = current.Add(delta).String()
	return balances
}

func mustInit(err error) {
	if err != nil {
		panic(err)
	}
}
