package httpapi

import (
	"errors"
	"net/http"

	"ai_gateway/internal/abuse"
	"ai_gateway/internal/providers"
	"ai_gateway/internal/storage"
	"ai_gateway/internal/utils"
)

// statusFor maps gateway errors onto HTTP status codes. The mapping is the
// single place transport semantics touch the error taxonomy.
func statusFor(err error) int {
	switch {
	case errors.Is(err, abuse.ErrMetricQuotaExceeded):
		return http.StatusTooManyRequests
	case errors.Is(err, storage.ErrDemoSessionExists):
		return http.StatusConflict
	}

	var taxErr *providers.Error
	if !errors.As(err, &taxErr) {
		return http.StatusInternalServerError
	}

	switch taxErr.Kind {
	case providers.KindInvalidRequest, providers.KindConfiguration:
		return http.StatusBadRequest
	case providers.KindAuthentication:
		return http.StatusUnauthorized
	case providers.KindLocked:
		return http.StatusForbidden
	case providers.KindNotFound:
		return http.StatusNotFound
	case providers.KindRateLimit:
		return http.StatusTooManyRequests
	case providers.KindProviderUnavailable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeError sends a JSON error response whose status follows statusFor.
// Error text is forwarded verbatim: taxonomy messages never carry
// credentials. Every error on this API surface goes out in the same
// flat envelope that utils.RespondWithError produces.
func writeError(w http.ResponseWriter, err error) {
	utils.RespondWithError(w, statusFor(err), err.Error())
}
