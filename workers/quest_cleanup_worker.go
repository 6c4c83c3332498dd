// workers/quest_cleanup_worker.go
package workers

import (
	"context"

	"go.uber.org/zap"

	"quest-vault-service/services"
)

// QuestCleanupWorker deletes quests nobody funded before their creation expiry.
type QuestCleanupWorker struct {
	quests *services.QuestService
	logger *zap.Logger
}

func NewQuestCleanupWorker(quests *services.QuestService, logger *zap.Logger) *QuestCleanupWorker {
	return &QuestCleanupWorker{quests: quests, logger: logger}
}

func (w *QuestCleanupWorker) Name() string { return "quest-cleanup" }

func (w *QuestCleanupWorker) Run(ctx context.Context) error {
	deleted, err := w.quests.DeleteExpiredUnfunded(ctx)
	if err != nil {
		return err
	}
	w.logger.Info("[CLEANUP] run finished", zap.Int("deleted", deleted))
	return nil
}
