// services/ledger.go
package services

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/mr-tron/base58"
)

// Blockhash is a recent blockhash and the last block height at which a
// transaction referencing it can still land.
type Blockhash struct {
	Hash                 solana.Hash
	LastValidBlockHeight uint64
}

type SignatureState int

const (
	SignatureUnknown SignatureState = iota // not seen, or only processed
	SignatureConfirmed
	SignatureFailed
)

// Ledger is the slice of the Solana RPC surface the engines use.
type Ledger interface {
	Balance(ctx context.Context, owner solana.PublicKey) (uint64, error)
	// TokenBalance returns the owner's associated token account balance, 0 if the account does not exist.
	TokenBalance(ctx context.Context, owner, mint solana.PublicKey) (uint64, error)
	AccountExists(ctx context.Context, account solana.PublicKey) (bool, error)
	RentExemptMinimum(ctx context.Context, dataSize uint64) (uint64, error)
	LatestBlockhash(ctx context.Context) (Blockhash, error)
	BlockHeight(ctx context.Context) (uint64, error)
	EstimateFee(ctx context.Context, tx *solana.Transaction) (uint64, error)
	Send(ctx context.Context, tx *solana.Transaction) (solana.Signature, error)
	SignatureStatus(ctx context.Context, sig solana.Signature) (SignatureState, error)
}

// AssociatedTokenAddress derives the owner's token account for mint.
func AssociatedTokenAddress(owner, mint solana.PublicKey) (solana.PublicKey, error) {
	ata, _, err := solana.FindAssociatedTokenAddress(owner, mint)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("derive associated token address: %w", err)
	}
	return ata, nil
}

// ParseTreasuryKey decodes the base58 treasury secret key.
func ParseTreasuryKey(encoded string) (solana.PrivateKey, error) {
	raw, err := base58.Decode(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode treasury key: %w", err)
	}
	if len(raw) != 64 {
		return nil, fmt.Errorf("decode treasury key: expected 64 bytes, got %d", len(raw))
	}
	return solana.PrivateKey(raw), nil
}

// SolanaLedger talks to a Solana JSON-RPC node.
type SolanaLedger struct {
	client     *rpc.Client
	commitment rpc.CommitmentType
}

func NewSolanaLedger(endpoint string) *SolanaLedger {
	return &SolanaLedger{
		client:     rpc.New(endpoint),
		commitment: rpc.CommitmentConfirmed,
	}
}

func (l *SolanaLedger) Balance(ctx context.Context, owner solana.PublicKey) (uint64, error) {
	res, err := l.client.GetBalance(ctx, owner, l.commitment)
	if err != nil {
		return 0, fmt.Errorf("get balance %s: %w", owner, err)
	}
	return res.Value, nil
}

func (l *SolanaLedger) TokenBalance(ctx context.Context, owner, mint solana.PublicKey) (uint64, error) {
	ata, err := AssociatedTokenAddress(owner, mint)
	if err != nil {
		return 0, err
	}
	exists, err := l.AccountExists(ctx, ata)
	if err != nil {
		return 0, err
	}
	if !exists {
		return 0, nil
	}
	res, err := l.client.GetTokenAccountBalance(ctx, ata, l.commitment)
	if err != nil {
		return 0, fmt.Errorf("get token balance %s: %w", ata, err)
	}
	if res.Value == nil {
		return 0, nil
	}
	amount, err := strconv.ParseUint(res.Value.Amount, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse token balance %q: %w", res.Value.Amount, err)
	}
	return amount, nil
}

func (l *SolanaLedger) AccountExists(ctx context.Context, account solana.PublicKey) (bool, error) {
	res, err := l.client.GetAccountInfo(ctx, account)
	if err != nil {
		if errors.Is(err, rpc.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("get account info %s: %w", account, err)
	}
	return res != nil && res.Value != nil, nil
}

func (l *SolanaLedger) RentExemptMinimum(ctx context.Context, dataSize uint64) (uint64, error) {
	lamports, err := l.client.GetMinimumBalanceForRentExemption(ctx, dataSize, l.commitment)
	if err != nil {
		return 0, fmt.Errorf("get rent exemption: %w", err)
	}
	return lamports, nil
}

func (l *SolanaLedger) LatestBlockhash(ctx context.Context) (Blockhash, error) {
	res, err := l.client.GetLatestBlockhash(ctx, l.commitment)
	if err != nil {
		return Blockhash{}, fmt.Errorf("get latest blockhash: %w", err)
	}
	if res.Value == nil {
		return Blockhash{}, errors.New("get latest blockhash: empty response")
	}
	return Blockhash{
		Hash:                 res.Value.Blockhash,
		LastValidBlockHeight: res.Value.LastValidBlockHeight,
	}, nil
}

func (l *SolanaLedger) BlockHeight(ctx context.Context) (uint64, error) {
	height, err := l.client.GetBlockHeight(ctx, l.commitment)
	if err != nil {
		return 0, fmt.Errorf("get block height: %w", err)
	}
	return height, nil
}

func (l *SolanaLedger) EstimateFee(ctx context.Context, tx *solana.Transaction) (uint64, error) {
	msg, err := tx.Message.MarshalBinary()
	if err != nil {
		return 0, fmt.Errorf("compile message: %w", err)
	}
	res, err := l.client.GetFeeForMessage(ctx, base64.StdEncoding.EncodeToString(msg), l.commitment)
	if err != nil {
		return 0, fmt.Errorf("get fee for message: %w", err)
	}
	if res.Value == nil {
		return 0, ErrFeeUnavailable
	}
	return *res.Value, nil
}

func (l *SolanaLedger) Send(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	sig, err := l.client.SendTransaction(ctx, tx)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("send transaction: %w", err)
	}
	return sig, nil
}

func (l *SolanaLedger) SignatureStatus(ctx context.Context, sig solana.Signature) (SignatureState, error) {
	res, err := l.client.GetSignatureStatuses(ctx, true, sig)
	if err != nil {
		return SignatureUnknown, fmt.Errorf("get signature status %s: %w", sig, err)
	}
	if res == nil || len(res.Value) == 0 || res.Value[0] == nil {
		return SignatureUnknown, nil
	}
	status := res.Value[0]
	if status.Err != nil {
		return SignatureFailed, nil
	}
	switch status.ConfirmationStatus {
	case rpc.ConfirmationStatusConfirmed, rpc.ConfirmationStatusFinalized:
		return SignatureConfirmed, nil
	default:
		return SignatureUnknown, nil
	}
}
