package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/ronitlabs/talktime/internal/admin"
	authdomain "github.com/ronitlabs/talktime/internal/auth/domain"
	careplandomain "github.com/ronitlabs/talktime/internal/careplan/domain"
	ledgerdomain "github.com/ronitlabs/talktime/internal/ledger/domain"
	paymentsdomain "github.com/ronitlabs/talktime/internal/payments/domain"
	sessiondomain "github.com/ronitlabs/talktime/internal/session/domain"
	"github.com/ronitlabs/talktime/internal/voicetoken"
)

type errorPayload struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized   = errors.New("unauthorized")
	ErrInvalidRequest = errors.New("invalid_request")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}
		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func mapError(err error) (int, errorPayload) {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, ledgerdomain.ErrInvalidEmail),
		errors.Is(err, authdomain.ErrWeakPassword),
		errors.Is(err, paymentsdomain.ErrMissingDetails),
		errors.Is(err, paymentsdomain.ErrInvalidSignature),
		errors.Is(err, careplandomain.ErrMissingTranscript),
		errors.Is(err, careplandomain.ErrTranscriptTooShort),
		errors.Is(err, admin.ErrInvalidAction):
		return http.StatusBadRequest, errorPayload{
			Type:    "invalid_request",
			Message: err.Error(),
		}

	case errors.Is(err, sessiondomain.ErrNoActiveSession):
		// The client recovers by starting a fresh session, not retrying.
		return http.StatusBadRequest, errorPayload{
			Type:    "no_active_session",
			Message: "no active session",
			Action:  "restart",
		}

	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, authdomain.ErrInvalidToken),
		errors.Is(err, authdomain.ErrInvalidCredentials),
		errors.Is(err, authdomain.ErrGoogleRejected):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}

	case errors.Is(err, sessiondomain.ErrInsufficientFunds):
		return http.StatusPaymentRequired, errorPayload{
			Type:    "insufficient_funds",
			Message: "no talk time remaining",
		}

	case errors.Is(err, sessiondomain.ErrNotCommunityMember),
		errors.Is(err, voicetoken.ErrAccessRestricted):
		return http.StatusForbidden, errorPayload{
			Type:    "not_community_member",
			Message: "access restricted to community members",
		}

	case errors.Is(err, ledgerdomain.ErrNotFound),
		errors.Is(err, careplandomain.ErrBlueprintNotFound),
		errors.Is(err, careplandomain.ErrInvalidBlueprintID):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}

	case errors.Is(err, ledgerdomain.ErrUserExists),
		errors.Is(err, paymentsdomain.ErrAlreadyProcessed):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: err.Error(),
		}

	case errors.Is(err, paymentsdomain.ErrGatewayFailure),
		errors.Is(err, voicetoken.ErrUpstream):
		return http.StatusBadGateway, errorPayload{
			Type:    "upstream_failure",
			Message: "upstream provider failure",
		}

	case errors.Is(err, paymentsdomain.ErrNotConfigured),
		errors.Is(err, voicetoken.ErrNotConfigured):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "not_configured",
			Message: "feature not configured",
		}

	case errors.Is(err, sessiondomain.ErrStoreUnavailable):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Message: "temporarily unavailable, retry shortly",
		}

	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}
