package handlers

import (
	"bufio"
	"context"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quest-vault-service/models"
	"quest-vault-service/testutil"
)

func TestRewardStreamEmitsNewRewards(t *testing.T) {
	prev := rewardStreamInterval
	rewardStreamInterval = 20 * time.Millisecond
	t.Cleanup(func() { rewardStreamInterval = prev })

	app, db := newTestApp(t)
	user := testutil.User(t, db, "player")
	seeded := seedReward(t, db, user.ID)
	require.NoError(t, db.Model(seeded).UpdateColumn("created_at", time.Now().UTC().Add(-time.Hour)).Error)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = app.Listener(ln) }()
	t.Cleanup(func() { _ = app.ShutdownWithTimeout(time.Second) })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+ln.Addr().String()+"/s/rewards/stream", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+gatewayToken)
	req.Header.Set("X-User-ID", user.ID)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	lines := bufio.NewScanner(resp.Body)
	require.True(t, lines.Scan(), "initial keepalive")
	assert.Equal(t, ":", lines.Text())

	// the reward seeded before the stream opened is not replayed;
	// (user, action) is unique, so the new rewards need their own action
	var seededAction models.QuestAction
	require.NoError(t, db.First(&seededAction, "id = ?", seeded.QuestActionID).Error)
	action := models.QuestAction{
		QuestID:      seededAction.QuestID,
		Action:       models.QuestActionRepost,
		URL:          "https://x.com/launch/status/9",
		PlatformID:   "9",
		RewardAmount: 250,
		MaxCount:     2,
	}
	require.NoError(t, db.Create(&action).Error)

	newReward := func(userID string) *models.Reward {
		r := &models.Reward{
			Base:          models.Base{CreatedAt: time.Now().UTC().Add(time.Minute)},
			UserID:        userID,
			QuestActionID: action.ID,
			TokenID:       seeded.TokenID,
			Amount:        250,
		}
		require.NoError(t, db.Create(r).Error)
		return r
	}
	foreign := newReward(testutil.User(t, db, "other").ID)
	mine := newReward(user.ID)

	var event, data string
	for lines.Scan() {
		line := lines.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		}
		if data != "" {
			break
		}
	}
	require.NoError(t, lines.Err())
	assert.Equal(t, "reward", event)
	assert.Contains(t, data, mine.ID)
	assert.NotContains(t, data, seeded.ID)
	assert.NotContains(t, data, foreign.ID, "other users' rewards stay private")
}
