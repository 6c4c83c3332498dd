package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap/zaptest"
)

// fakeLedger keeps balances in memory and records every broadcast transaction.
// Broadcasts do not move balances; tests set the state they need.
type fakeLedger struct {
	mu sync.Mutex

	balances      map[solana.PublicKey]uint64
	tokenBalances map[solana.PublicKey]uint64 // by owner
	accounts      map[solana.PublicKey]bool
	fee           uint64
	rent          uint64
	height        uint64
	lastValid     uint64

	status   SignatureState
	statuses map[solana.Signature]SignatureState
	sendErr  error
	sent     []*solana.Transaction
	hashes   int
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		balances:      map[solana.PublicKey]uint64{},
		tokenBalances: map[solana.PublicKey]uint64{},
		accounts:      map[solana.PublicKey]bool{},
		statuses:      map[solana.Signature]SignatureState{},
		fee:           5000,
		rent:          890_880,
		height:        100,
		lastValid:     250,
		status:        SignatureConfirmed,
	}
}

func (f *fakeLedger) Balance(_ context.Context, owner solana.PublicKey) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balances[owner], nil
}

func (f *fakeLedger) TokenBalance(_ context.Context, owner, _ solana.PublicKey) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tokenBalances[owner], nil
}

func (f *fakeLedger) AccountExists(_ context.Context, account solana.PublicKey) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.accounts[account], nil
}

func (f *fakeLedger) RentExemptMinimum(context.Context, uint64) (uint64, error) {
	return f.rent, nil
}

func (f *fakeLedger) LatestBlockhash(context.Context) (Blockhash, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hashes++
	return Blockhash{Hash: solana.Hash{byte(f.hashes), byte(f.hashes >> 8), 7}, LastValidBlockHeight: f.lastValid}, nil
}

func (f *fakeLedger) BlockHeight(context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.height, nil
}

func (f *fakeLedger) EstimateFee(context.Context, *solana.Transaction) (uint64, error) {
	return f.fee, nil
}

func (f *fakeLedger) Send(_ context.Context, tx *solana.Transaction) (solana.Signature, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return solana.Signature{}, f.sendErr
	}
	f.sent = append(f.sent, tx)
	return tx.Signatures[0], nil
}

func (f *fakeLedger) SignatureStatus(_ context.Context, sig solana.Signature) (SignatureState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.statuses[sig]; ok {
		return s, nil
	}
	return f.status, nil
}

func (f *fakeLedger) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

// feePayer is the first account key of a broadcast transaction.
func (f *fakeLedger) feePayer(i int) solana.PublicKey {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sent[i].Message.AccountKeys[0]
}

var errRPCDown = errors.New("rpc unavailable")

func testPipeline(t *testing.T, ledger Ledger) *TransferPipeline {
	return NewTransferPipeline(ledger, 0, 0, zaptest.NewLogger(t), nil)
}

func mustKey(t *testing.T) solana.PrivateKey {
	t.Helper()
	key, err := solana.NewRandomPrivateKey()
	if err != nil {
		t.Fatal(err)
	}
	return key
}
