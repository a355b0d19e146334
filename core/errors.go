package core

import (
	"errors"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	BrokerErrorBadInput             = "BROKER_BAD_INPUT"
	BrokerErrorNotFound             = "BROKER_NOT_FOUND"
	BrokerErrorUnauthorized         = "BROKER_UNAUTHORIZED"
	BrokerErrorForbidden            = "BROKER_FORBIDDEN"
	BrokerErrorStoreConflict        = "BROKER_STORE_CONFLICT"
	BrokerErrorUpstreamTransient    = "BROKER_UPSTREAM_TRANSIENT"
	BrokerErrorUpstreamFailed       = "BROKER_UPSTREAM_FAILED"
	BrokerErrorChannelNotAccessible = "BROKER_CHANNEL_NOT_ACCESSIBLE"
	BrokerErrorInternal             = "BROKER_INTERNAL_ERROR"
)

var (
	ErrDocumentNotFound     = errors.New("core: document not found")
	ErrStoreConflict        = errors.New("core: concurrent document update conflict")
	ErrInstanceNotFound     = errors.New("core: service instance not found")
	ErrChannelNotFound      = errors.New("core: channel not found")
	ErrChannelNameTaken     = errors.New("core: channel name already taken")
	ErrChannelNotAccessible = errors.New("core: channel exists but is not accessible")
	ErrOperationInProgress  = errors.New("core: channel operation in progress")
	ErrUnauthorized         = errors.New("core: authorization rejected")
)

func isDocumentNotFound(err error) bool {
	return errors.Is(err, ErrDocumentNotFound)
}

func brokerErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensureBrokerErrorEnvelope(richErr)
	}

	switch {
	case errors.Is(err, ErrDocumentNotFound), errors.Is(err, ErrInstanceNotFound):
		return newBrokerError(err.Error(), goerrors.CategoryNotFound, BrokerErrorNotFound)
	case errors.Is(err, ErrStoreConflict):
		return newBrokerError(err.Error(), goerrors.CategoryConflict, BrokerErrorStoreConflict)
	case errors.Is(err, ErrChannelNotAccessible):
		return newBrokerError(err.Error(), goerrors.CategoryBadInput, BrokerErrorChannelNotAccessible)
	case errors.Is(err, ErrOperationInProgress):
		return newBrokerError(err.Error(), goerrors.CategoryExternal, BrokerErrorUpstreamTransient)
	case errors.Is(err, ErrUnauthorized):
		return newBrokerError(err.Error(), goerrors.CategoryAuth, BrokerErrorUnauthorized)
	case errors.Is(err, ErrChannelNotFound), errors.Is(err, ErrChannelNameTaken):
		return newBrokerError(err.Error(), goerrors.CategoryBadInput, BrokerErrorBadInput)
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case strings.Contains(msg, "not found"):
		return newBrokerError(err.Error(), goerrors.CategoryNotFound, BrokerErrorNotFound)
	case strings.Contains(msg, "conflict"):
		return newBrokerError(err.Error(), goerrors.CategoryConflict, BrokerErrorStoreConflict)
	case strings.Contains(msg, "required"), strings.Contains(msg, "invalid"), strings.Contains(msg, "mismatch"):
		return newBrokerError(err.Error(), goerrors.CategoryBadInput, BrokerErrorBadInput)
	}

	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	return ensureBrokerErrorEnvelope(mapped)
}

func newBrokerError(message string, category goerrors.Category, textCode string) *goerrors.Error {
	return ensureBrokerErrorEnvelope(
		goerrors.New(message, category).
			WithTextCode(textCode),
	)
}

func ensureBrokerErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = brokerHTTPStatus(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultBrokerTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func defaultBrokerTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return BrokerErrorBadInput
	case goerrors.CategoryNotFound:
		return BrokerErrorNotFound
	case goerrors.CategoryAuth:
		return BrokerErrorUnauthorized
	case goerrors.CategoryAuthz:
		return BrokerErrorForbidden
	case goerrors.CategoryConflict:
		return BrokerErrorStoreConflict
	case goerrors.CategoryExternal:
		return BrokerErrorUpstreamFailed
	default:
		return BrokerErrorInternal
	}
}

// brokerHTTPStatus maps categories onto the API status contract. Conflict is
// an optimistic-concurrency loss and surfaces as 500 to the immediate caller;
// upstream channel-provider rejections carry their detail but read as 400.
func brokerHTTPStatus(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryConflict:
		return http.StatusInternalServerError
	case goerrors.CategoryExternal:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
