// services/transfer.go
package services

import (
	"context"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"go.uber.org/zap"
)

// maxStatusErrors bounds how long confirmation keeps polling a node that only returns errors.
const maxStatusErrors = 10

// TransferRequest describes one on-chain fund movement.
type TransferRequest struct {
	Label        string // log context
	Payer        solana.PrivateKey
	Instructions []solana.Instruction
	// NativeSpend is the lamports the instructions move out of the payer, excluding the fee.
	NativeSpend uint64
	// Sponsor tops up the payer with exactly the fee when the payer cannot cover it. Nil disables sponsorship.
	Sponsor solana.PrivateKey
	// CreatePayerAccount lets the sponsor create the payer's system account at the rent-exempt minimum.
	CreatePayerAccount bool
	// OnSigned runs after the final transaction is signed and before it is broadcast.
	OnSigned func(sig solana.Signature, lastValidBlockHeight uint64) error
}

// TransferPipeline runs estimate fee, sponsor, finality wait, send and confirm in order.
// Any failed step aborts the transfer and later steps never run.
type TransferPipeline struct {
	ledger  Ledger
	delay   time.Duration
	poll    time.Duration
	logger  *zap.Logger
	metrics *Metrics
}

func NewTransferPipeline(ledger Ledger, delay, poll time.Duration, logger *zap.Logger, metrics *Metrics) *TransferPipeline {
	return &TransferPipeline{
		ledger:  ledger,
		delay:   delay,
		poll:    poll,
		logger:  logger,
		metrics: metrics,
	}
}

func (p *TransferPipeline) Execute(ctx context.Context, req TransferRequest) (solana.Signature, error) {
	payer := req.Payer.PublicKey()

	draft, _, err := p.build(ctx, req.Instructions, payer, req.Payer)
	if err != nil {
		return solana.Signature{}, err
	}
	fee, err := p.ledger.EstimateFee(ctx, draft)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("%s: estimate fee: %w", req.Label, err)
	}

	balance, err := p.ledger.Balance(ctx, payer)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("%s: %w", req.Label, err)
	}
	if balance < req.NativeSpend {
		return solana.Signature{}, fmt.Errorf("%s: %w: holds %d, moves %d", req.Label, ErrInsufficientPayerFunds, balance, req.NativeSpend)
	}

	if balance < req.NativeSpend+fee {
		if req.Sponsor == nil {
			return solana.Signature{}, fmt.Errorf("%s: %w: holds %d, needs %d", req.Label, ErrInsufficientFeeFunds, balance, req.NativeSpend+fee)
		}
		if err := p.sponsor(ctx, req, fee); err != nil {
			return solana.Signature{}, fmt.Errorf("%s: %w", req.Label, err)
		}
		if err := sleepContext(ctx, p.delay); err != nil {
			return solana.Signature{}, fmt.Errorf("%s: finality wait: %w", req.Label, err)
		}
	}

	// Rebuild so the broadcast carries a blockhash fetched after any sponsorship wait.
	tx, bh, err := p.build(ctx, req.Instructions, payer, req.Payer)
	if err != nil {
		return solana.Signature{}, err
	}
	sig := tx.Signatures[0]

	if req.OnSigned != nil {
		if err := req.OnSigned(sig, bh.LastValidBlockHeight); err != nil {
			return sig, fmt.Errorf("%s: record signed transfer: %w", req.Label, err)
		}
	}

	if _, err := p.ledger.Send(ctx, tx); err != nil {
		return sig, fmt.Errorf("%s: %w", req.Label, err)
	}
	if err := p.confirm(ctx, sig, bh.LastValidBlockHeight); err != nil {
		return sig, fmt.Errorf("%s: %w", req.Label, err)
	}

	p.logger.Info("[TRANSFER] confirmed",
		zap.String("label", req.Label),
		zap.String("signature", sig.String()),
		zap.Uint64("fee", fee),
	)
	return sig, nil
}

func (p *TransferPipeline) sponsor(ctx context.Context, req TransferRequest, fee uint64) error {
	sponsor := req.Sponsor.PublicKey()
	payer := req.Payer.PublicKey()

	need := fee
	signers := []solana.PrivateKey{req.Sponsor}
	var instrs []solana.Instruction

	if req.CreatePayerAccount {
		exists, err := p.ledger.AccountExists(ctx, payer)
		if err != nil {
			return err
		}
		if !exists {
			rent, err := p.ledger.RentExemptMinimum(ctx, 0)
			if err != nil {
				return err
			}
			instrs = append(instrs, system.NewCreateAccountInstruction(rent, 0, solana.SystemProgramID, sponsor, payer).Build())
			signers = append(signers, req.Payer)
			need += rent
		}
	}
	instrs = append(instrs, system.NewTransferInstruction(fee, sponsor, payer).Build())

	available, err := p.ledger.Balance(ctx, sponsor)
	if err != nil {
		return err
	}
	if available < need {
		return fmt.Errorf("%w: sponsor holds %d, needs %d", ErrInsufficientFeeFunds, available, need)
	}

	tx, bh, err := p.build(ctx, instrs, sponsor, signers...)
	if err != nil {
		return err
	}
	sig, err := p.ledger.Send(ctx, tx)
	if err != nil {
		return fmt.Errorf("sponsor fee: %w", err)
	}
	if err := p.confirm(ctx, sig, bh.LastValidBlockHeight); err != nil {
		return fmt.Errorf("sponsor fee: %w", err)
	}

	p.metrics.FeeSponsored(fee)
	p.logger.Info("[TRANSFER] fee sponsored",
		zap.String("label", req.Label),
		zap.String("payer", payer.String()),
		zap.Uint64("fee", fee),
		zap.Bool("account_created", len(signers) > 1),
	)
	return nil
}

func (p *TransferPipeline) build(ctx context.Context, instrs []solana.Instruction, feePayer solana.PublicKey, signers ...solana.PrivateKey) (*solana.Transaction, Blockhash, error) {
	bh, err := p.ledger.LatestBlockhash(ctx)
	if err != nil {
		return nil, Blockhash{}, err
	}
	tx, err := solana.NewTransaction(instrs, bh.Hash, solana.TransactionPayer(feePayer))
	if err != nil {
		return nil, Blockhash{}, fmt.Errorf("build transaction: %w", err)
	}
	_, err = tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		for i := range signers {
			if signers[i].PublicKey().Equals(key) {
				return &signers[i]
			}
		}
		return nil
	})
	if err != nil {
		return nil, Blockhash{}, fmt.Errorf("sign transaction: %w", err)
	}
	return tx, bh, nil
}

// confirm polls until the signature is confirmed, fails on chain, or its blockhash expires.
func (p *TransferPipeline) confirm(ctx context.Context, sig solana.Signature, lastValid uint64) error {
	failures := 0
	for {
		state, err := p.ledger.SignatureStatus(ctx, sig)
		switch {
		case err != nil:
			failures++
			p.logger.Warn("[TRANSFER] status check failed", zap.String("signature", sig.String()), zap.Error(err))
		case state == SignatureConfirmed:
			return nil
		case state == SignatureFailed:
			return fmt.Errorf("%w: %s failed on chain", ErrTransferNotConfirmed, sig)
		}

		height, err := p.ledger.BlockHeight(ctx)
		if err != nil {
			failures++
		} else if height > lastValid {
			return fmt.Errorf("%w: %s expired at height %d", ErrTransferNotConfirmed, sig, height)
		}
		if failures >= maxStatusErrors {
			return fmt.Errorf("%w: %s status unavailable", ErrTransferNotConfirmed, sig)
		}

		if err := sleepContext(ctx, p.poll); err != nil {
			return fmt.Errorf("%w: %v", ErrTransferNotConfirmed, err)
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
