// services/token_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	associatedtokenaccount "github.com/gagliardetto/solana-go/programs/associated-token-account"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"quest-vault-service/models"
	"quest-vault-service/utils"
)

const (
	withdrawLockTTL  = 5 * time.Minute
	tokenAccountSize = 165
)

// TokenService pays claimed balances out of the treasury to user wallets.
type TokenService struct {
	DB       *gorm.DB
	Ledger   Ledger
	Pipeline *TransferPipeline
	Treasury solana.PrivateKey
	Locker   utils.Locker
	Logger   *zap.Logger
	Metrics  *Metrics
}

type WithdrawResult struct {
	Signature string          `json:"signature"`
	Amount    int64           `json:"amount"`
	UIAmount  decimal.Decimal `json:"ui_amount"`
	Remaining int64           `json:"remaining"`
}

// Withdraw sends amount base units to the user's wallet and debits the tracked balance
// only after the transfer is confirmed.
func (s *TokenService) Withdraw(ctx context.Context, userID, tokenID string, amount int64) (*WithdrawResult, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	release, ok, err := s.Locker.TryLock(ctx, "withdraw:"+userID, withdrawLockTTL)
	if err != nil {
		return nil, fmt.Errorf("lock user: %w", err)
	}
	if !ok {
		return nil, ErrWithdrawalInFlight
	}
	defer release()

	var user models.User
	if err := s.DB.WithContext(ctx).First(&user, "id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	if user.WalletAddress == nil || *user.WalletAddress == "" {
		return nil, ErrWalletMissing
	}
	wallet, err := solana.PublicKeyFromBase58(*user.WalletAddress)
	if err != nil {
		return nil, fmt.Errorf("%w: %s is not a valid address", ErrWalletMissing, *user.WalletAddress)
	}

	var tok models.Token
	if err := s.DB.WithContext(ctx).First(&tok, "id = ?", tokenID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTokenNotFound
		}
		return nil, err
	}
	if amount < tok.WithdrawThreshold {
		return nil, fmt.Errorf("%w: minimum is %s %s", ErrBelowWithdrawThreshold, ToUIAmount(tok.WithdrawThreshold, tok.Decimals), tok.Symbol)
	}

	var balance models.UserTokenBalance
	if err := s.DB.WithContext(ctx).Where("user_id = ? AND token_id = ?", userID, tokenID).Take(&balance).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrBalanceNotFound
		}
		return nil, err
	}
	if balance.Balance < amount {
		return nil, ErrInsufficientBalance
	}

	req, err := s.payoutTransfer(ctx, &tok, wallet, uint64(amount))
	if err != nil {
		s.Metrics.Withdrawal("rejected")
		return nil, err
	}
	req.Label = fmt.Sprintf("withdraw %s %s to %s", ToUIAmount(amount, tok.Decimals), tok.Symbol, wallet)

	sig, err := s.Pipeline.Execute(ctx, req)
	if err != nil {
		s.Metrics.Withdrawal("failed")
		s.Logger.Error("[WITHDRAW] transfer failed", zap.String("user_id", userID), zap.Error(err))
		return nil, err
	}

	hash := sig.String()
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.UserTokenBalance{}).
			Where("user_id = ? AND token_id = ? AND balance >= ?", userID, tokenID, amount).
			Update("balance", gorm.Expr("balance - ?", amount))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrInsufficientBalance
		}
		return tx.Create(&models.Transaction{
			Hash:     &hash,
			UserID:   userID,
			TokenID:  tokenID,
			Category: models.TransactionCategoryWithdraw,
			Amount:   ToUIAmount(amount, tok.Decimals),
		}).Error
	})
	if err != nil {
		s.Metrics.Withdrawal("unrecorded")
		s.Logger.Error("[WITHDRAW] transfer confirmed but not recorded",
			zap.String("user_id", userID),
			zap.String("signature", hash),
			zap.Int64("amount", amount),
			zap.Error(err),
		)
		return nil, err
	}

	s.Metrics.Withdrawal("confirmed")
	s.Logger.Info("[WITHDRAW] confirmed",
		zap.String("user_id", userID),
		zap.String("token", tok.Symbol),
		zap.Int64("amount", amount),
		zap.String("signature", hash),
	)
	return &WithdrawResult{
		Signature: hash,
		Amount:    amount,
		UIAmount:  ToUIAmount(amount, tok.Decimals),
		Remaining: balance.Balance - amount,
	}, nil
}

func (s *TokenService) payoutTransfer(ctx context.Context, tok *models.Token, wallet solana.PublicKey, amount uint64) (TransferRequest, error) {
	treasury := s.Treasury.PublicKey()

	if tok.IsNative() {
		available, err := s.Ledger.Balance(ctx, treasury)
		if err != nil {
			return TransferRequest{}, err
		}
		if available < amount {
			return TransferRequest{}, fmt.Errorf("%w: treasury holds %d, payout is %d", ErrInsufficientTreasuryFunds, available, amount)
		}
		return TransferRequest{
			Payer:        s.Treasury,
			Instructions: []solana.Instruction{system.NewTransferInstruction(amount, treasury, wallet).Build()},
			NativeSpend:  amount,
		}, nil
	}

	mint, err := solana.PublicKeyFromBase58(*tok.Address)
	if err != nil {
		return TransferRequest{}, fmt.Errorf("parse mint %s: %w", *tok.Address, err)
	}
	treasuryATA, err := AssociatedTokenAddress(treasury, mint)
	if err != nil {
		return TransferRequest{}, err
	}
	recipientATA, err := AssociatedTokenAddress(wallet, mint)
	if err != nil {
		return TransferRequest{}, err
	}

	available, err := s.Ledger.TokenBalance(ctx, treasury, mint)
	if err != nil {
		return TransferRequest{}, err
	}
	if available < amount {
		return TransferRequest{}, fmt.Errorf("%w: treasury holds %d tokens, payout is %d", ErrInsufficientTreasuryFunds, available, amount)
	}

	var instrs []solana.Instruction
	var rent uint64
	exists, err := s.Ledger.AccountExists(ctx, recipientATA)
	if err != nil {
		return TransferRequest{}, err
	}
	if !exists {
		rent, err = s.Ledger.RentExemptMinimum(ctx, tokenAccountSize)
		if err != nil {
			return TransferRequest{}, err
		}
		instrs = append(instrs, createATAIdempotent(treasury, wallet, mint))
	}
	instrs = append(instrs, token.NewTransferInstruction(amount, treasuryATA, recipientATA, treasury, nil).Build())

	return TransferRequest{
		Payer:        s.Treasury,
		Instructions: instrs,
		NativeSpend:  rent,
	}, nil
}

type TokenBalanceView struct {
	TokenID           string          `json:"token_id"`
	Symbol            string          `json:"symbol"`
	Name              string          `json:"name"`
	Address           *string         `json:"address"`
	Decimals          int             `json:"decimals"`
	Balance           int64           `json:"balance"`
	UIBalance         decimal.Decimal `json:"ui_balance" gorm:"-"`
	WithdrawThreshold int64           `json:"withdraw_threshold"`
}

// TokenBalances returns every token with the user's claimed balance, zero when none.
func (s *TokenService) TokenBalances(ctx context.Context, userID string) ([]TokenBalanceView, error) {
	var out []TokenBalanceView
	err := s.DB.WithContext(ctx).
		Table("tokens AS t").
		Select(`t.id AS token_id, t.symbol, t.name, t.address, t.decimals, t.withdraw_threshold,
			COALESCE(b.balance, 0) AS balance`).
		Joins("LEFT JOIN user_token_balances b ON b.token_id = t.id AND b.user_id = ?", userID).
		Order("t.symbol ASC").
		Scan(&out).Error
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].UIBalance = ToUIAmount(out[i].Balance, out[i].Decimals)
	}
	return out, nil
}

// createATAIdempotent builds the associated token program's CreateIdempotent
// instruction (tag 1). It succeeds when the account already exists.
func createATAIdempotent(payer, wallet, mint solana.PublicKey) solana.Instruction {
	create := associatedtokenaccount.NewCreateInstruction(payer, wallet, mint).Build()
	return solana.NewInstruction(create.ProgramID(), create.Accounts(), []byte{1})
}
