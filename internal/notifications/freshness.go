package notifications

import (
	"fmt"
	"time"

	apperrors "iap-reconciler/internal/common/errors"
)

// maxClockSkew tolerates modest clock drift between the platform's signing
// host and ours before a future-dated notification is treated as replayed.
const maxClockSkew = 60 * time.Second

// checkFreshness rejects notifications whose signed timestamp falls outside
// the platform's recency window.
func checkFreshness(signedAt, now time.Time, maxAge time.Duration) error {
	if signedAt.After(now.Add(maxClockSkew)) {
		return apperrors.StaleError(fmt.Sprintf("signed %s in the future", signedAt.Sub(now)))
	}
	if age := now.Sub(signedAt); age > maxAge {
		return apperrors.StaleError(fmt.Sprintf("signed %s ago, window is %s", age, maxAge))
	}
	return nil
}
