package maintenance

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"nottu-serverless/internal/httpjson"
	"nottu-serverless/internal/observability"
)

type ChallengeCleaner interface {
	DeleteExpiredChallenges(ctx context.Context, now time.Time, batchSize int) (int64, error)
}

type CleanupResult struct {
	DeletedChallenges int64 `json:"deleted_challenges"`
}

// CleanupHandler purges expired passkey challenges. It is meant to be hit by
// a scheduler holding CRON_SECRET.
type CleanupHandler struct {
	cleaner    ChallengeCleaner
	logger     *observability.Logger
	cronSecret string
	batchSize  int
	now        func() time.Time
}

func NewCleanupHandler(cleaner ChallengeCleaner, logger *observability.Logger, cronSecret string, batchSize int) *CleanupHandler {
	return &CleanupHandler{
		cleaner:    cleaner,
		logger:     logger,
		cronSecret: strings.TrimSpace(cronSecret),
		batchSize:  batchSize,
		now:        time.Now,
	}
}

func (h *CleanupHandler) Handle(w http.ResponseWriter, r *http.Request) {
	if h.cronSecret == "" {
		httpjson.WriteError(w, http.StatusNotFound, "Route not found")
		return
	}

	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") ||
		subtle.ConstantTimeCompare([]byte(strings.TrimSpace(parts[1])), []byte(h.cronSecret)) != 1 {
		httpjson.WriteError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	deleted, err := h.cleaner.DeleteExpiredChallenges(r.Context(), h.now().UTC(), h.batchSize)
	if err != nil {
		observability.CaptureError(h.logger, "challenge_cleanup_failed", err, nil)
		httpjson.WriteError(w, http.StatusInternalServerError, "Cleanup failed")
		return
	}

	h.logger.Info("challenge_cleanup_completed", map[string]any{"deleted_challenges": deleted})

	httpjson.WriteData(w, http.StatusOK, CleanupResult{DeletedChallenges: deleted})
}
