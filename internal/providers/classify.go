package providers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"retouch/internal/domain"
)

// Classify maps a pipeline failure to the stable category stored on the
// edit. Raw messages stay on the job for operators.
func Classify(err error) domain.ErrorCode {
	if err == nil {
		return domain.ErrorCodeNone
	}
	if domain.IsValidation(err) {
		return domain.ErrorCodeValidation
	}
	if errors.Is(err, domain.ErrCancelled) || errors.Is(err, context.Canceled) {
		return domain.ErrorCodeCancelled
	}
	var pe *domain.ProviderError
	if errors.As(err, &pe) {
		switch pe.StatusCode {
		case http.StatusTooManyRequests:
			return domain.ErrorCodeRateLimited
		case http.StatusUnauthorized, http.StatusForbidden:
			return domain.ErrorCodeUnauthorized
		}
	}
	if errors.Is(err, domain.ErrNoResult) {
		return domain.ErrorCodeNoResult
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "429") || strings.Contains(msg, "rate limit"):
		return domain.ErrorCodeRateLimited
	case strings.Contains(msg, "401") || strings.Contains(msg, "unauthorized"):
		return domain.ErrorCodeUnauthorized
	case strings.Contains(msg, "no result") || strings.Contains(msg, "unexpected output"):
		return domain.ErrorCodeNoResult
	default:
		return domain.ErrorCodeTransientUnavailable
	}
}
