package x402

import (
	"errors"
	"fmt"
)

// Error kinds. Every PaymentError carries exactly one of these as its Kind,
// so callers classify failures with errors.Is.
var (
	// ErrResolution indicates the payTo address could not be resolved.
	ErrResolution = errors.New("x402: payTo resolution failed")

	// ErrDecode indicates the payment header could not be decoded.
	ErrDecode = errors.New("x402: malformed payment header")

	// ErrVerification indicates the proof does not satisfy any requirement.
	ErrVerification = errors.New("x402: payment verification failed")

	// ErrFacilitatorUnavailable indicates the facilitator could not be reached in time.
	ErrFacilitatorUnavailable = errors.New("x402: facilitator service unavailable")

	// ErrSettlementFailed indicates the facilitator did not settle a verified payment.
	ErrSettlementFailed = errors.New("x402: payment settlement failed")
)

// Configuration errors.
var (
	// ErrInvalidAmount indicates an invalid price or amount string.
	ErrInvalidAmount = errors.New("x402: invalid amount")

	// ErrInvalidNetwork indicates an unsupported network.
	ErrInvalidNetwork = errors.New("x402: invalid or unsupported network")

	// ErrInvalidRequirements indicates a route was configured with invalid requirements.
	ErrInvalidRequirements = errors.New("x402: invalid payment requirements")
)

// ErrorCode is the machine-readable reason attached to a denial.
type ErrorCode string

const (
	// ErrCodeMalformedProof means a retry proof did not carry a usable payTo address.
	ErrCodeMalformedProof ErrorCode = "malformed_proof"

	// ErrCodeProcessorResponseInvalid means the payment processor did not return deposit details.
	ErrCodeProcessorResponseInvalid ErrorCode = "processor_response_invalid"

	// ErrCodeMalformedHeader means the header is not base64-encoded JSON.
	ErrCodeMalformedHeader ErrorCode = "malformed_header"

	// ErrCodeSchemaMismatch means required proof fields are missing or of the wrong type.
	ErrCodeSchemaMismatch ErrorCode = "schema_mismatch"

	// ErrCodeUnsupportedScheme means no requirement or verifier exists for the proof's scheme.
	ErrCodeUnsupportedScheme ErrorCode = "unsupported_scheme"

	ErrCodeSchemeMismatch       ErrorCode = "scheme_mismatch"
	ErrCodeNetworkMismatch      ErrorCode = "network_mismatch"
	ErrCodeAmountMismatch       ErrorCode = "amount_mismatch"
	ErrCodeAssetMismatch        ErrorCode = "asset_mismatch"
	ErrCodeRecipientMismatch    ErrorCode = "recipient_mismatch"
	ErrCodeExpired              ErrorCode = "expired"
	ErrCodeNotYetValid          ErrorCode = "not_yet_valid"
	ErrCodeInvalidAuthorization ErrorCode = "invalid_authorization"

	// ErrCodeFacilitatorRejected means the facilitator judged the proof invalid.
	ErrCodeFacilitatorRejected ErrorCode = "facilitator_rejected"

	// ErrCodeFacilitatorUnavailable means the facilitator timed out or could not be reached.
	ErrCodeFacilitatorUnavailable ErrorCode = "facilitator_unavailable"

	// ErrCodeSettlementFailed means settlement of a verified payment failed.
	ErrCodeSettlementFailed ErrorCode = "settlement_failed"
)

// PaymentError provides structured error information for gating decisions.
type PaymentError struct {
	// Kind is the error class (ErrResolution, ErrDecode, ...).
	Kind error

	// Code is the reason code for programmatic handling.
	Code ErrorCode

	// Message is the human-readable error message.
	Message string

	// Details contains additional error context.
	Details map[string]interface{}

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *PaymentError) Error() string {
	msg := fmt.Sprintf("%s (%s)", e.Message, e.Code)
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the kind and the underlying cause to errors.Is and errors.As.
func (e *PaymentError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// NewPaymentError creates a new PaymentError.
func NewPaymentError(kind error, code ErrorCode, message string, err error) *PaymentError {
	return &PaymentError{
		Kind:    kind,
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// WithDetails adds additional context to the error.
// Lazily initializes the Details map if nil.
func (e *PaymentError) WithDetails(key string, value interface{}) *PaymentError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// ResolutionError builds an ErrResolution PaymentError.
func ResolutionError(code ErrorCode, message string, err error) *PaymentError {
	return NewPaymentError(ErrResolution, code, message, err)
}

// DecodeError builds an ErrDecode PaymentError.
func DecodeError(code ErrorCode, message string, err error) *PaymentError {
	return NewPaymentError(ErrDecode, code, message, err)
}

// VerificationFailure builds an ErrVerification PaymentError.
func VerificationFailure(code ErrorCode, message string) *PaymentError {
	return NewPaymentError(ErrVerification, code, message, nil)
}

// CodeOf returns the reason code carried by err, or "" if err is not a PaymentError.
func CodeOf(err error) ErrorCode {
	var pe *PaymentError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ""
}
