package internal

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

type ErrorType string

const (
	ErrorTypeValidation   ErrorType = "VALIDATION_ERROR"
	ErrorTypeNotFound     ErrorType = "NOT_FOUND"
	ErrorTypeUnauthorized ErrorType = "UNAUTHORIZED"
	ErrorTypeForbidden    ErrorType = "FORBIDDEN"
	ErrorTypeConflict     ErrorType = "CONFLICT"
	ErrorTypeInternal     ErrorType = "INTERNAL_ERROR"
	ErrorTypeExternal     ErrorType = "EXTERNAL_ERROR"
	ErrorTypeUnavailable  ErrorType = "SERVICE_UNAVAILABLE"
)

type ErrorCode string

const (
	ErrCodeValidationFailed ErrorCode = "VALIDATION_FAILED"
	ErrCodeInvalidAmount    ErrorCode = "INVALID_AMOUNT"
	ErrCodeAmountTooHigh    ErrorCode = "AMOUNT_TOO_HIGH"
	ErrCodeInvalidCustomer  ErrorCode = "INVALID_CUSTOMER"
	ErrCodeInvalidPayload   ErrorCode = "INVALID_PAYLOAD"

	ErrCodeLandNotFound        ErrorCode = "LAND_NOT_FOUND"
	ErrCodeLandUnavailable     ErrorCode = "LAND_UNAVAILABLE"
	ErrCodePlanNotFound        ErrorCode = "PLAN_NOT_FOUND"
	ErrCodePurchaseNotFound    ErrorCode = "PURCHASE_NOT_FOUND"
	ErrCodePaymentNotFound     ErrorCode = "PAYMENT_NOT_FOUND"
	ErrCodeAttemptNotFound     ErrorCode = "ATTEMPT_NOT_FOUND"
	ErrCodeScheduleNotFound    ErrorCode = "SCHEDULE_NOT_FOUND"
	ErrCodeDownPaymentRequired ErrorCode = "DOWN_PAYMENT_REQUIRED"
	ErrCodeInstallmentPaid     ErrorCode = "INSTALLMENT_ALREADY_PAID"
	ErrCodeInstallmentBusy     ErrorCode = "INSTALLMENT_IN_PROGRESS"
	ErrCodeInvalidStatus       ErrorCode = "INVALID_PAYMENT_STATUS"
	ErrCodeAttemptInFlight     ErrorCode = "ATTEMPT_IN_FLIGHT"
	ErrCodeStaleStatus         ErrorCode = "STALE_STATUS"
	ErrCodeUnauthorizedAccess  ErrorCode = "UNAUTHORIZED_ACCESS"

	ErrCodeGatewayUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
	ErrCodeGatewayRejected    ErrorCode = "GATEWAY_REJECTED"
	ErrCodeGatewayInsecure    ErrorCode = "GATEWAY_INSECURE"
	ErrCodeGatewayMalformed   ErrorCode = "GATEWAY_MALFORMED_RESPONSE"
	ErrCodeSignatureInvalid   ErrorCode = "SIGNATURE_INVALID"

	ErrCodeUserNotFound       ErrorCode = "USER_NOT_FOUND"
	ErrCodeInvalidCredentials ErrorCode = "INVALID_CREDENTIALS"
	ErrCodeUserInactive       ErrorCode = "USER_INACTIVE"
	ErrCodeInvalidToken       ErrorCode = "INVALID_TOKEN"
	ErrCodeTokenExpired       ErrorCode = "TOKEN_EXPIRED"

	ErrCodeOTPNotFound         ErrorCode = "OTP_NOT_FOUND"
	ErrCodeOTPExpired          ErrorCode = "OTP_EXPIRED"
	ErrCodeOTPAlreadyUsed      ErrorCode = "OTP_ALREADY_USED"
	ErrCodeOTPAttemptsExceeded ErrorCode = "OTP_ATTEMPTS_EXCEEDED"
	ErrCodeOTPMismatch         ErrorCode = "OTP_MISMATCH"
	ErrCodeTwoFactorDisabled   ErrorCode = "TWO_FACTOR_DISABLED"
	ErrCodeOTPMethod           ErrorCode = "OTP_METHOD_UNSUPPORTED"
	ErrCodeOTPNotEnrolled      ErrorCode = "OTP_APP_NOT_ENROLLED"
	ErrCodeOTPNoDestination    ErrorCode = "OTP_NO_DESTINATION"
)

type AppError struct {
	Type       ErrorType   `json:"type"`
	Code       ErrorCode   `json:"code"`
	Message    string      `json:"message"`
	Details    interface{} `json:"details,omitempty"`
	StatusCode int         `json:"-"`
	Cause      error       `json:"-"`
}

func (e *AppError) Error() string {
	if e.Details != nil {
		if validationErrors, ok := e.Details.(ValidationErrors); ok && len(validationErrors.Errors) > 0 {

			return validationErrors.Errors[0].Message
		}
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) GetDetailedMessage() string {
	if e.Details != nil {
		if validationErrors, ok := e.Details.(ValidationErrors); ok {
			if len(validationErrors.Errors) == 1 {
				return validationErrors.Errors[0].Message
			} else if len(validationErrors.Errors) > 1 {
				messages := make([]string, len(validationErrors.Errors))
				for i, err := range validationErrors.Errors {
					messages[i] = err.Message
				}
				return strings.Join(messages, "; ")
			}
		}
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is matches on type and code so sentinel errors work with errors.Is.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Type == t.Type && e.Code == t.Code
}

func (e *AppError) WithCause(cause error) *AppError {
	cp := *e
	cp.Cause = cause
	return &cp
}

func (e *AppError) WithDetails(details interface{}) *AppError {
	cp := *e
	cp.Details = details
	return &cp
}

type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func NewValidationError(message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeValidation,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusBadRequest,
	}
}

func NewValidationFieldError(field, message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeValidation,
		Code:       ErrCodeValidationFailed,
		Message:    "Validation failed",
		StatusCode: http.StatusBadRequest,
		Details: ValidationErrors{
			Errors: []ValidationError{
				{Field: field, Message: message, Code: string(code)},
			},
		},
	}
}

func NewNotFoundError(message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeNotFound,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusNotFound,
	}
}

func NewUnauthorizedError(message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeUnauthorized,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusUnauthorized,
	}
}

func NewForbiddenError(message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeForbidden,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusForbidden,
	}
}

func NewInternalError(message string, cause error) *AppError {
	return &AppError{
		Type:       ErrorTypeInternal,
		Code:       "INTERNAL_ERROR",
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Cause:      cause,
	}
}

func NewConflictError(message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeConflict,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusConflict,
	}
}

func NewExternalError(message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeExternal,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusBadGateway,
	}
}

func NewServiceUnavailableError(message string, cause error) *AppError {
	return &AppError{
		Type:       ErrorTypeUnavailable,
		Code:       ErrCodeGatewayUnavailable,
		Message:    message,
		StatusCode: http.StatusServiceUnavailable,
		Cause:      cause,
	}
}

var (
	ErrLandNotFound        = NewNotFoundError("Land not found", ErrCodeLandNotFound)
	ErrLandUnavailable     = NewValidationError("Land is not available for purchase", ErrCodeLandUnavailable)
	ErrPlanNotFound        = NewNotFoundError("Installment plan not found", ErrCodePlanNotFound)
	ErrPurchaseNotFound    = NewNotFoundError("Purchase not found", ErrCodePurchaseNotFound)
	ErrPaymentNotFound     = NewNotFoundError("Payment not found", ErrCodePaymentNotFound)
	ErrAttemptNotFound     = NewNotFoundError("Payment attempt not found", ErrCodeAttemptNotFound)
	ErrScheduleNotFound    = NewNotFoundError("Installment schedule not found", ErrCodeScheduleNotFound)
	ErrDownPaymentRequired = NewValidationError("Down payment must be completed first", ErrCodeDownPaymentRequired)
	ErrInstallmentPaid     = NewValidationError("Installment already paid", ErrCodeInstallmentPaid)
	ErrInstallmentBusy     = NewConflictError("Another payment for this installment is in progress", ErrCodeInstallmentBusy)
	ErrInvalidStatus       = NewValidationError("Payment status does not allow this operation", ErrCodeInvalidStatus)
	ErrAttemptInFlight     = NewConflictError("A gateway attempt is already in flight for this payment", ErrCodeAttemptInFlight)
	ErrStaleStatus         = NewConflictError("Payment status changed concurrently", ErrCodeStaleStatus)
	ErrUnauthorizedAccess  = NewForbiddenError("Unauthorized access to resource", ErrCodeUnauthorizedAccess)

	ErrSignatureInvalid = NewUnauthorizedError("Webhook signature is invalid", ErrCodeSignatureInvalid)

	ErrUserNotFound       = NewNotFoundError("User not found", ErrCodeUserNotFound)
	ErrInvalidCredentials = NewUnauthorizedError("Invalid email or password", ErrCodeInvalidCredentials)
	ErrUserInactive       = NewForbiddenError("User account is inactive", ErrCodeUserInactive)
	ErrInvalidToken       = NewUnauthorizedError("Invalid token", ErrCodeInvalidToken)
	ErrTokenExpired       = NewUnauthorizedError("Token has expired", ErrCodeTokenExpired)

	ErrOTPNotFound         = NewUnauthorizedError("No verification code issued", ErrCodeOTPNotFound)
	ErrOTPExpired          = NewUnauthorizedError("Verification code has expired", ErrCodeOTPExpired)
	ErrOTPAlreadyUsed      = NewUnauthorizedError("Verification code already used", ErrCodeOTPAlreadyUsed)
	ErrOTPAttemptsExceeded = NewUnauthorizedError("Too many failed verification attempts", ErrCodeOTPAttemptsExceeded)
	ErrOTPMismatch         = NewUnauthorizedError("Verification code does not match", ErrCodeOTPMismatch)
	ErrTwoFactorDisabled   = NewValidationError("Two-factor authentication is not enabled", ErrCodeTwoFactorDisabled)
	ErrOTPMethod           = NewValidationError("Unsupported verification method", ErrCodeOTPMethod)
	ErrOTPNotEnrolled      = NewValidationError("Authenticator app is not enrolled", ErrCodeOTPNotEnrolled)
	ErrOTPNoDestination    = NewValidationError("No destination on file for this verification method", ErrCodeOTPNoDestination)
)

func IsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

type Response struct {
	Error *AppError `json:"error"`
}

func (e *AppError) ToHTTPResponse() (int, interface{}) {
	return e.StatusCode, Response{Error: e}
}

func (e *AppError) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type    ErrorType   `json:"type"`
		Code    ErrorCode   `json:"code"`
		Message string      `json:"message"`
		Details interface{} `json:"details,omitempty"`
	}{
		Type:    e.Type,
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
	})
}
