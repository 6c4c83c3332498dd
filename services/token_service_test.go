package services

import (
	"context"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"quest-vault-service/models"
	"quest-vault-service/testutil"
)

func (e *env) tokens() *TokenService {
	logger := zaptest.NewLogger(e.t)
	return &TokenService{
		DB:       e.db,
		Ledger:   e.ledger,
		Pipeline: NewTransferPipeline(e.ledger, 0, 0, logger, nil),
		Treasury: e.treasury,
		Locker:   e.locker,
		Logger:   logger,
	}
}

func (e *env) walletUser(balance int64, tok *models.Token) (*models.User, solana.PublicKey) {
	e.t.Helper()
	wallet := mustKey(e.t).PublicKey()
	addr := wallet.String()
	u := &models.User{WalletAddress: &addr}
	require.NoError(e.t, e.db.Create(u).Error)
	if balance >= 0 {
		require.NoError(e.t, e.db.Create(&models.UserTokenBalance{UserID: u.ID, TokenID: tok.ID, Balance: balance}).Error)
	}
	return u, wallet
}

func TestWithdrawNativeDebitsAfterConfirmation(t *testing.T) {
	e := newEnv(t)
	tok := testutil.NativeToken(t, e.db)
	user, _ := e.walletUser(5_000_000, tok)
	e.ledger.balances[e.treasury.PublicKey()] = 1_000_000_000

	res, err := e.tokens().Withdraw(context.Background(), user.ID, tok.ID, 2_000_000)
	require.NoError(t, err)
	assert.Equal(t, int64(3_000_000), res.Remaining)
	assert.Equal(t, "0.002", res.UIAmount.String())
	assert.Equal(t, int64(3_000_000), e.balance(user.ID, tok.ID))
	require.Equal(t, 1, e.ledger.sentCount())
	assert.Equal(t, e.treasury.PublicKey(), e.ledger.feePayer(0))

	var entry models.Transaction
	require.NoError(t, e.db.Where("user_id = ? AND category = ?", user.ID, models.TransactionCategoryWithdraw).Take(&entry).Error)
	assert.Equal(t, res.Signature, *entry.Hash)
}

func TestWithdrawValidation(t *testing.T) {
	e := newEnv(t)
	tok := testutil.NativeToken(t, e.db)
	user, _ := e.walletUser(5_000_000, tok)
	noBalance, _ := e.walletUser(-1, tok)
	noWallet := testutil.User(t, e.db, "p-1")
	svc := e.tokens()
	ctx := context.Background()

	_, err := svc.Withdraw(ctx, user.ID, tok.ID, 0)
	assert.ErrorIs(t, err, ErrInvalidAmount)
	_, err = svc.Withdraw(ctx, user.ID, tok.ID, tok.WithdrawThreshold-1)
	assert.ErrorIs(t, err, ErrBelowWithdrawThreshold)
	_, err = svc.Withdraw(ctx, user.ID, tok.ID, 5_000_001)
	assert.ErrorIs(t, err, ErrInsufficientBalance)
	_, err = svc.Withdraw(ctx, noBalance.ID, tok.ID, 2_000_000)
	assert.ErrorIs(t, err, ErrBalanceNotFound)
	_, err = svc.Withdraw(ctx, noWallet.ID, tok.ID, 2_000_000)
	assert.ErrorIs(t, err, ErrWalletMissing)
	_, err = svc.Withdraw(ctx, user.ID, "missing", 2_000_000)
	assert.ErrorIs(t, err, ErrTokenNotFound)

	assert.Zero(t, e.ledger.sentCount())
	assert.Equal(t, int64(5_000_000), e.balance(user.ID, tok.ID))
}

func TestWithdrawFailedTransferKeepsBalance(t *testing.T) {
	e := newEnv(t)
	tok := testutil.NativeToken(t, e.db)
	user, _ := e.walletUser(5_000_000, tok)
	e.ledger.balances[e.treasury.PublicKey()] = 1_000_000_000
	e.ledger.status = SignatureFailed

	_, err := e.tokens().Withdraw(context.Background(), user.ID, tok.ID, 2_000_000)
	assert.ErrorIs(t, err, ErrTransferNotConfirmed)
	assert.Equal(t, int64(5_000_000), e.balance(user.ID, tok.ID))

	var count int64
	require.NoError(t, e.db.Model(&models.Transaction{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestWithdrawTreasuryShort(t *testing.T) {
	e := newEnv(t)
	tok := testutil.NativeToken(t, e.db)
	user, _ := e.walletUser(5_000_000, tok)
	e.ledger.balances[e.treasury.PublicKey()] = 1_999_999

	_, err := e.tokens().Withdraw(context.Background(), user.ID, tok.ID, 2_000_000)
	assert.ErrorIs(t, err, ErrInsufficientTreasuryFunds)
}

func TestWithdrawTokenCreatesRecipientAccount(t *testing.T) {
	e := newEnv(t)
	mint := mustKey(t).PublicKey()
	tok := testutil.SPLToken(t, e.db, mint.String())
	user, _ := e.walletUser(10_000_000, tok)
	e.ledger.balances[e.treasury.PublicKey()] = 1_000_000_000
	e.ledger.tokenBalances[e.treasury.PublicKey()] = 50_000_000

	_, err := e.tokens().Withdraw(context.Background(), user.ID, tok.ID, 6_000_000)
	require.NoError(t, err)
	require.Equal(t, 1, e.ledger.sentCount())
	msg := e.ledger.sent[0].Message
	require.Len(t, msg.Instructions, 2, "create-ATA precedes the token transfer")
	create := msg.Instructions[0]
	assert.Equal(t, solana.SPLAssociatedTokenAccountProgramID, msg.AccountKeys[create.ProgramIDIndex])
	assert.Equal(t, []byte{1}, []byte(create.Data), "idempotent create")
	assert.Equal(t, int64(4_000_000), e.balance(user.ID, tok.ID))
}

func TestWithdrawTokenToExistingAccount(t *testing.T) {
	e := newEnv(t)
	mint := mustKey(t).PublicKey()
	tok := testutil.SPLToken(t, e.db, mint.String())
	user, wallet := e.walletUser(10_000_000, tok)
	recipientATA, err := AssociatedTokenAddress(wallet, mint)
	require.NoError(t, err)
	e.ledger.accounts[recipientATA] = true
	e.ledger.balances[e.treasury.PublicKey()] = 1_000_000_000
	e.ledger.tokenBalances[e.treasury.PublicKey()] = 50_000_000

	_, err = e.tokens().Withdraw(context.Background(), user.ID, tok.ID, 6_000_000)
	require.NoError(t, err)
	assert.Len(t, e.ledger.sent[0].Message.Instructions, 1)
}

func TestWithdrawInFlight(t *testing.T) {
	e := newEnv(t)
	tok := testutil.NativeToken(t, e.db)
	user, _ := e.walletUser(5_000_000, tok)
	release, ok, err := e.locker.TryLock(context.Background(), "withdraw:"+user.ID, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	defer release()

	_, err = e.tokens().Withdraw(context.Background(), user.ID, tok.ID, 2_000_000)
	assert.ErrorIs(t, err, ErrWithdrawalInFlight)
}

func TestTokenBalances(t *testing.T) {
	e := newEnv(t)
	sol := testutil.NativeToken(t, e.db)
	usdc := testutil.SPLToken(t, e.db, mustKey(t).PublicKey().String())
	user, _ := e.walletUser(2_500_000_000, sol)

	list, err := e.tokens().TokenBalances(context.Background(), user.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	bySymbol := map[string]TokenBalanceView{}
	for _, b := range list {
		bySymbol[b.Symbol] = b
	}
	assert.Equal(t, int64(2_500_000_000), bySymbol["SOL"].Balance)
	assert.Equal(t, "2.5", bySymbol["SOL"].UIBalance.String())
	assert.Zero(t, bySymbol["USDC"].Balance)
	assert.Equal(t, usdc.WithdrawThreshold, bySymbol["USDC"].WithdrawThreshold)
}
