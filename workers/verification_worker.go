// workers/verification_worker.go
package workers

import (
	"context"

	"quest-vault-service/services"
)

// VerificationWorker runs one verification pass per tick. Due quests are settled inside the pass.
type VerificationWorker struct {
	verifier *services.VerificationService
}

func NewVerificationWorker(verifier *services.VerificationService) *VerificationWorker {
	return &VerificationWorker{verifier: verifier}
}

func (w *VerificationWorker) Name() string { return "verification" }

func (w *VerificationWorker) Run(ctx context.Context) error {
	return w.verifier.RunPass(ctx)
}
