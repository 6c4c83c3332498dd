package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"quest-vault-service/models"
	"quest-vault-service/testutil"
)

func (e *env) rewards() *RewardService {
	svc := NewRewardService(e.db, zaptest.NewLogger(e.t), nil)
	svc.Now = func() time.Time { return testNow }
	return svc
}

func (e *env) reward(userID string, action models.QuestAction, tokenID string, amount int64) *models.Reward {
	e.t.Helper()
	r := &models.Reward{UserID: userID, QuestActionID: action.ID, TokenID: tokenID, Amount: amount}
	require.NoError(e.t, e.db.Create(r).Error)
	return r
}

func (e *env) balance(userID, tokenID string) int64 {
	e.t.Helper()
	var b models.UserTokenBalance
	err := e.db.Where("user_id = ? AND token_id = ?", userID, tokenID).Take(&b).Error
	if err != nil {
		return -1
	}
	return b.Balance
}

func TestClaimTwice(t *testing.T) {
	e := newEnv(t)
	tok := testutil.NativeToken(t, e.db)
	creator, user := testutil.User(t, e.db, ""), testutil.User(t, e.db, "p-1")
	q, _ := e.quest(tok, creator.ID, 1_000, true, testNow, followAction(1_000, 2))
	r := e.reward(user.ID, q.Actions[0], tok.ID, 400)
	svc := e.rewards()

	claimed, err := svc.Claim(context.Background(), user.ID, r.ID)
	require.NoError(t, err)
	assert.True(t, claimed.IsClaimed)
	require.NotNil(t, claimed.DateClaimed)
	assert.True(t, claimed.DateClaimed.Equal(testNow))
	assert.Equal(t, int64(400), e.balance(user.ID, tok.ID))

	_, err = svc.Claim(context.Background(), user.ID, r.ID)
	assert.ErrorIs(t, err, ErrRewardAlreadyClaimed)
	assert.Equal(t, int64(400), e.balance(user.ID, tok.ID), "balance unchanged by the rejected claim")
}

func TestClaimAccumulatesBalance(t *testing.T) {
	e := newEnv(t)
	tok := testutil.NativeToken(t, e.db)
	creator, user := testutil.User(t, e.db, ""), testutil.User(t, e.db, "p-1")
	q, _ := e.quest(tok, creator.ID, 1_000, true, testNow, followAction(600, 2), followAction(400, 2))
	r1 := e.reward(user.ID, q.Actions[0], tok.ID, 300)
	r2 := e.reward(user.ID, q.Actions[1], tok.ID, 200)
	svc := e.rewards()

	_, err := svc.Claim(context.Background(), user.ID, r1.ID)
	require.NoError(t, err)
	_, err = svc.Claim(context.Background(), user.ID, r2.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(500), e.balance(user.ID, tok.ID))

	var count int64
	require.NoError(t, e.db.Model(&models.UserTokenBalance{}).Where("user_id = ?", user.ID).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestClaimForeignOrMissingReward(t *testing.T) {
	e := newEnv(t)
	tok := testutil.NativeToken(t, e.db)
	creator, owner, other := testutil.User(t, e.db, ""), testutil.User(t, e.db, "p-1"), testutil.User(t, e.db, "p-2")
	q, _ := e.quest(tok, creator.ID, 1_000, true, testNow, followAction(1_000, 2))
	r := e.reward(owner.ID, q.Actions[0], tok.ID, 400)
	svc := e.rewards()

	_, err := svc.Claim(context.Background(), other.ID, r.ID)
	assert.ErrorIs(t, err, ErrRewardNotFound)
	_, err = svc.Claim(context.Background(), owner.ID, "missing")
	assert.ErrorIs(t, err, ErrRewardNotFound)

	assert.Equal(t, int64(-1), e.balance(other.ID, tok.ID))
	var stored models.Reward
	require.NoError(t, e.db.First(&stored, "id = ?", r.ID).Error)
	assert.False(t, stored.IsClaimed)
}

func TestClaimableRewards(t *testing.T) {
	e := newEnv(t)
	tok := testutil.NativeToken(t, e.db)
	creator, user := testutil.User(t, e.db, ""), testutil.User(t, e.db, "p-1")
	q, _ := e.quest(tok, creator.ID, 3_000_000_000, true, testNow, followAction(2_000_000_000, 2), followAction(1_000_000_000, 2))
	open := e.reward(user.ID, q.Actions[0], tok.ID, 1_500_000_000)
	done := e.reward(user.ID, q.Actions[1], tok.ID, 500_000_000)
	svc := e.rewards()
	_, err := svc.Claim(context.Background(), user.ID, done.ID)
	require.NoError(t, err)

	list, err := svc.ClaimableRewards(context.Background(), user.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, open.ID, list[0].ID)
	assert.Equal(t, q.ID, list[0].QuestID)
	assert.Equal(t, q.Title, list[0].QuestTitle)
	assert.Equal(t, "SOL", list[0].TokenSymbol)
	assert.Equal(t, "1.5", list[0].UIAmount.String())
}

func TestRewardsSince(t *testing.T) {
	e := newEnv(t)
	tok := testutil.NativeToken(t, e.db)
	creator, user := testutil.User(t, e.db, ""), testutil.User(t, e.db, "p-1")
	q, _ := e.quest(tok, creator.ID, 3_000, true, testNow, followAction(1_000, 3), followAction(1_000, 3), followAction(1_000, 3))

	at := func(r *models.Reward, ts time.Time) {
		require.NoError(t, e.db.Model(r).UpdateColumn("created_at", ts).Error)
	}
	old := e.reward(user.ID, q.Actions[0], tok.ID, 1_000)
	at(old, testNow.Add(-time.Hour))
	second := e.reward(user.ID, q.Actions[2], tok.ID, 1_000)
	at(second, testNow.Add(2*time.Minute))
	first := e.reward(user.ID, q.Actions[1], tok.ID, 1_000)
	at(first, testNow.Add(time.Minute))

	list, err := e.rewards().RewardsSince(context.Background(), user.ID, testNow)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, first.ID, list[0].ID, "oldest first")
	assert.Equal(t, second.ID, list[1].ID)
	assert.True(t, list[1].CreatedAt.After(list[0].CreatedAt))
}
