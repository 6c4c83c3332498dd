package services

import (
	"context"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"quest-vault-service/models"
	"quest-vault-service/testutil"
)

func (e *env) quests(social SocialVerifier) *QuestService {
	return &QuestService{
		DB:             e.db,
		Social:         social,
		Custody:        e.custody,
		Logger:         zaptest.NewLogger(e.t),
		CreationExpiry: 24 * time.Hour,
		Now:            func() time.Time { return testNow },
	}
}

func TestCreateQuest(t *testing.T) {
	e := newEnv(t)
	tok := testutil.SPLToken(t, e.db, mustKey(t).PublicKey().String())
	creator := testutil.User(t, e.db, "creator-1")
	social := NewMockSocial()
	social.SetUsername("launchpad", "4242")

	created, err := e.quests(social).CreateQuest(context.Background(), creator.ID, CreateQuestRequest{
		Title:   "Launch Week",
		TokenID: tok.ID,
		EndDate: testNow.Add(7 * 24 * time.Hour),
		Actions: []CreateActionRequest{
			{Action: models.QuestActionFollow, URL: "https://x.com/launchpad", RewardAmount: decimal.RequireFromString("10"), MaxCount: 100},
			{Action: models.QuestActionRepost, URL: "https://twitter.com/launchpad/status/998877", RewardAmount: decimal.RequireFromString("2.5"), MaxCount: 50},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(12_500_000), created.TotalRewardAmount)
	assert.Equal(t, "12.5", created.UITotal.String())
	assert.True(t, created.ExpiresAt.Equal(testNow.Add(24*time.Hour)))

	var q models.Quest
	require.NoError(t, e.db.Preload("Actions").First(&q, "id = ?", created.QuestID).Error)
	assert.Equal(t, "launch-week", q.Slug)
	assert.False(t, q.IsPaid)
	require.Len(t, q.Actions, 2)
	ids := map[models.QuestActionType]string{}
	for _, a := range q.Actions {
		ids[a.Action] = a.PlatformID
	}
	assert.Equal(t, "4242", ids[models.QuestActionFollow])
	assert.Equal(t, "998877", ids[models.QuestActionRepost])

	vault, err := OpenVaultKey(context.Background(), e.custody, q.VaultKey)
	require.NoError(t, err)
	assert.Equal(t, created.DepositAddress, vault.PublicKey().String())
	_, err = solana.PublicKeyFromBase58(created.DepositAddress)
	assert.NoError(t, err)
}

func TestCreateQuestValidation(t *testing.T) {
	e := newEnv(t)
	tok := testutil.NativeToken(t, e.db)
	creator := testutil.User(t, e.db, "creator-1")
	unlinked := testutil.User(t, e.db, "")
	svc := e.quests(NewMockSocial())
	ctx := context.Background()

	valid := func() CreateQuestRequest {
		return CreateQuestRequest{
			Title:   "Q",
			TokenID: tok.ID,
			EndDate: testNow.Add(time.Hour),
			Actions: []CreateActionRequest{{
				Action:       models.QuestActionRepost,
				URL:          "https://x.com/a/status/1",
				RewardAmount: decimal.RequireFromString("1"),
				MaxCount:     1,
			}},
		}
	}

	req := valid()
	req.Actions = nil
	_, err := svc.CreateQuest(ctx, creator.ID, req)
	assert.ErrorIs(t, err, ErrNoActions)

	req = valid()
	req.EndDate = testNow
	_, err = svc.CreateQuest(ctx, creator.ID, req)
	assert.ErrorIs(t, err, ErrEndDateInPast)

	req = valid()
	req.Actions[0].MaxCount = 0
	_, err = svc.CreateQuest(ctx, creator.ID, req)
	assert.ErrorIs(t, err, ErrInvalidMaxCount)

	req = valid()
	req.TokenID = "missing"
	_, err = svc.CreateQuest(ctx, creator.ID, req)
	assert.ErrorIs(t, err, ErrTokenNotFound)

	_, err = svc.CreateQuest(ctx, unlinked.ID, valid())
	assert.ErrorIs(t, err, ErrSocialAuthMissing)

	req = valid()
	req.Actions[0].URL = "https://x.com/a/likes"
	_, err = svc.CreateQuest(ctx, creator.ID, req)
	assert.ErrorIs(t, err, ErrInvalidActionURL)

	req = valid()
	req.Actions[0] = CreateActionRequest{Action: models.QuestActionFollow, URL: "https://x.com/nobody", RewardAmount: decimal.RequireFromString("1"), MaxCount: 1}
	_, err = svc.CreateQuest(ctx, creator.ID, req)
	assert.ErrorIs(t, err, ErrInvalidActionURL, "unknown username")

	req = valid()
	req.Actions[0].RewardAmount = decimal.RequireFromString("0.0000000001")
	_, err = svc.CreateQuest(ctx, creator.ID, req)
	assert.ErrorIs(t, err, ErrInvalidRewardAmount)

	req = valid()
	req.Actions[0].RewardAmount = decimal.RequireFromString("5000000000")
	req.Actions = append(req.Actions, req.Actions[0])
	_, err = svc.CreateQuest(ctx, creator.ID, req)
	assert.ErrorIs(t, err, ErrInvalidRewardAmount, "summed rewards past int64")

	var count int64
	require.NoError(t, e.db.Model(&models.Quest{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestJoinQuest(t *testing.T) {
	e := newEnv(t)
	tok := testutil.NativeToken(t, e.db)
	creator, user := testutil.User(t, e.db, "c"), testutil.User(t, e.db, "u")
	open, _ := e.quest(tok, creator.ID, 1_000, true, testNow.Add(time.Hour), followAction(1_000, 2))
	unpaid, _ := e.quest(tok, creator.ID, 1_000, false, testNow.Add(time.Hour), followAction(1_000, 2))
	closed, _ := e.quest(tok, creator.ID, 1_000, true, testNow.Add(-time.Hour), followAction(1_000, 2))
	ended, _ := e.quest(tok, creator.ID, 1_000, true, testNow.Add(time.Hour), followAction(1_000, 2))
	require.NoError(t, e.db.Model(ended).Update("is_ended", true).Error)
	svc := e.quests(NewMockSocial())
	ctx := context.Background()

	join, err := svc.JoinQuest(ctx, open.ID, user.ID)
	require.NoError(t, err)
	assert.Equal(t, open.ID, join.QuestID)

	_, err = svc.JoinQuest(ctx, open.ID, user.ID)
	assert.ErrorIs(t, err, ErrAlreadyJoined)
	_, err = svc.JoinQuest(ctx, open.ID, creator.ID)
	assert.ErrorIs(t, err, ErrOwnQuest)
	_, err = svc.JoinQuest(ctx, unpaid.ID, user.ID)
	assert.ErrorIs(t, err, ErrQuestNotPaid)
	_, err = svc.JoinQuest(ctx, closed.ID, user.ID)
	assert.ErrorIs(t, err, ErrQuestClosed)
	_, err = svc.JoinQuest(ctx, ended.ID, user.ID)
	assert.ErrorIs(t, err, ErrQuestEnded)
	_, err = svc.JoinQuest(ctx, "missing", user.ID)
	assert.ErrorIs(t, err, ErrQuestNotFound)
}

func TestDeleteExpiredUnfunded(t *testing.T) {
	e := newEnv(t)
	tok := testutil.NativeToken(t, e.db)
	creator, user := testutil.User(t, e.db, "c"), testutil.User(t, e.db, "u")
	stale, _ := e.quest(tok, creator.ID, 1_000, false, testNow.Add(time.Hour), followAction(1_000, 2))
	funded, _ := e.quest(tok, creator.ID, 1_000, true, testNow.Add(time.Hour), followAction(1_000, 2))
	fresh, _ := e.quest(tok, creator.ID, 1_000, false, testNow.Add(time.Hour), followAction(1_000, 2))
	past := testNow.Add(-time.Minute)
	require.NoError(t, e.db.Model(&models.Quest{}).Where("id IN ?", []string{stale.ID, funded.ID}).Update("expires_at", past).Error)
	e.join(stale.ID, user.ID, past)
	e.complete(stale.Actions[0].ID, user.ID)

	deleted, err := e.quests(NewMockSocial()).DeleteExpiredUnfunded(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	var remaining []string
	require.NoError(t, e.db.Model(&models.Quest{}).Order("id").Pluck("id", &remaining).Error)
	assert.ElementsMatch(t, []string{funded.ID, fresh.ID}, remaining)

	var orphans int64
	require.NoError(t, e.db.Model(&models.QuestAction{}).Where("quest_id = ?", stale.ID).Count(&orphans).Error)
	assert.Zero(t, orphans)
	require.NoError(t, e.db.Model(&models.UserJoinedQuest{}).Where("quest_id = ?", stale.ID).Count(&orphans).Error)
	assert.Zero(t, orphans)
	require.NoError(t, e.db.Model(&models.UserCompletedQuestAction{}).Where("quest_action_id = ?", stale.Actions[0].ID).Count(&orphans).Error)
	assert.Zero(t, orphans)
}
