package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"chirp/cmd/internal/securitylog"
)

// checkLoginUserThrottle applies progressive lockout from the user's recent
// failed logins.
func (h *Handler) checkLoginUserThrottle(ctx context.Context, userID string, now time.Time) (bool, time.Duration, error) {
	if strings.TrimSpace(userID) == "" || h.cfg.LoginUserWindow <= 0 {
		return false, 0, nil
	}
	count, err := h.audit.CountSince(ctx, userID, securitylog.ActionLoginFailed, now.Add(-h.cfg.LoginUserWindow))
	if err != nil {
		return false, 0, err
	}

	switch {
	case h.cfg.LockoutSevereThreshold > 0 && count >= h.cfg.LockoutSevereThreshold:
		return true, h.cfg.LockoutSevereDuration, nil
	case h.cfg.LockoutLongThreshold > 0 && count >= h.cfg.LockoutLongThreshold:
		return true, h.cfg.LockoutLongDuration, nil
	case h.cfg.LockoutShortThreshold > 0 && count >= h.cfg.LockoutShortThreshold:
		return true, h.cfg.LockoutShortDuration, nil
	default:
		return false, 0, nil
	}
}

func writeRateLimited(w http.ResponseWriter, retryAfter time.Duration) {
	if retryAfter > 0 {
		w.Header().Set("Retry-After", strconv.FormatInt(int64(retryAfter.Seconds()), 10))
	}
	writeError(w, http.StatusTooManyRequests, "rate_limited", "too many attempts")
}
