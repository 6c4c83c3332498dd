package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"

	"quest-vault-service/models"
	"quest-vault-service/testutil"
	"quest-vault-service/utils"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type env struct {
	t        *testing.T
	db       *gorm.DB
	ledger   *fakeLedger
	custody  *testutil.Custody
	treasury solana.PrivateKey
	locker   *utils.MemoryLocker
	reports  *recordingReports
}

func newEnv(t *testing.T) *env {
	return &env{
		t:        t,
		db:       testutil.NewDB(t),
		ledger:   newFakeLedger(),
		custody:  &testutil.Custody{},
		treasury: mustKey(t),
		locker:   utils.NewMemoryLocker(),
		reports:  &recordingReports{objects: map[string][]byte{}},
	}
}

func (e *env) settlement() *SettlementService {
	logger := zaptest.NewLogger(e.t)
	return &SettlementService{
		DB:       e.db,
		Ledger:   e.ledger,
		Pipeline: NewTransferPipeline(e.ledger, 0, 0, logger, nil),
		Custody:  e.custody,
		Treasury: e.treasury,
		Locker:   e.locker,
		Reports:  e.reports,
		Logger:   logger,
		Now:      func() time.Time { return testNow },
	}
}

// quest stores a quest whose vault key is sealed with the test custody.
func (e *env) quest(tok *models.Token, creatorID string, reward int64, paid bool, endDate time.Time, actions ...models.QuestAction) (*models.Quest, solana.PrivateKey) {
	e.t.Helper()
	vault := mustKey(e.t)
	blob, err := e.custody.Encrypt(context.Background(), vault)
	require.NoError(e.t, err)

	q := &models.Quest{
		Title:        "Follow the launch",
		Slug:         "follow-the-launch",
		RewardAmount: reward,
		TokenID:      tok.ID,
		UserID:       creatorID,
		EndDate:      endDate,
		ExpiresAt:    testNow.Add(24 * time.Hour),
		IsPaid:       paid,
		VaultKey:     blob,
		VaultAddress: vault.PublicKey().String(),
		Actions:      actions,
	}
	require.NoError(e.t, e.db.Create(q).Error)
	return q, vault
}

func (e *env) join(questID, userID string, at time.Time) {
	e.t.Helper()
	j := &models.UserJoinedQuest{QuestID: questID, UserID: userID}
	j.CreatedAt = at
	require.NoError(e.t, e.db.Create(j).Error)
}

func (e *env) complete(actionID string, userIDs ...string) {
	e.t.Helper()
	for _, u := range userIDs {
		require.NoError(e.t, e.db.Create(&models.UserCompletedQuestAction{UserID: u, QuestActionID: actionID}).Error)
	}
}

func (e *env) reload(q *models.Quest) *models.Quest {
	e.t.Helper()
	var out models.Quest
	require.NoError(e.t, e.db.First(&out, "id = ?", q.ID).Error)
	return &out
}

func (e *env) rewardsOf(actionID string) []models.Reward {
	e.t.Helper()
	var out []models.Reward
	require.NoError(e.t, e.db.Where("quest_action_id = ?", actionID).Order("amount DESC, user_id").Find(&out).Error)
	return out
}

func followAction(reward int64, maxCount int) models.QuestAction {
	return models.QuestAction{
		Action:       models.QuestActionFollow,
		URL:          "https://x.com/launchpad",
		PlatformID:   "target-1",
		RewardAmount: reward,
		MaxCount:     maxCount,
	}
}

type recordingReports struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (r *recordingReports) PutObject(_ context.Context, key string, body []byte, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.objects[key] = body
	return nil
}
