package gerror

import "errors"

const (
	ErrCodeInternal             Code = "Internal"
	ErrCodeValidationFailed     Code = "ValidationFailed"
	ErrCodeNotFound             Code = "NotFound"
	ErrCodeAlreadyExists        Code = "AlreadyExists"
	ErrCodeOptimisticLockFailed Code = "OptimisticLockFailed"
	ErrCodeTransient            Code = "Transient"
	ErrCodeTimeout              Code = "Timeout"
)

// ToError locates an Error in err's chain that matches the given code, or returns nil.
func ToError(err error, code Code) *Error {
	if err == nil {
		return nil
	}
	var gErr Error
	if errors.As(err, &gErr) && gErr.Code() == code {
		return &gErr
	}
	return nil
}

func NewErrInternal(inner error) Error {
	return NewError("an internal error occurred", AudienceExternal, ErrCodeInternal, inner)
}

func IsInternal(err error) bool { return ToError(err, ErrCodeInternal) != nil }

func NewErrValidationFailed(message string) Error {
	return NewError(message, AudienceExternal, ErrCodeValidationFailed, nil)
}

func IsValidationFailed(err error) bool { return ToError(err, ErrCodeValidationFailed) != nil }

func NewErrNotFound(message string) Error {
	return NewError(message, AudienceExternal, ErrCodeNotFound, nil)
}

func IsNotFound(err error) bool { return ToError(err, ErrCodeNotFound) != nil }

func NewErrAlreadyExists(message string) Error {
	return NewError(message, AudienceExternal, ErrCodeAlreadyExists, nil)
}

func IsAlreadyExists(err error) bool { return ToError(err, ErrCodeAlreadyExists) != nil }

func NewErrOptimisticLockFailed(message string) Error {
	return NewError(message, AudienceExternal, ErrCodeOptimisticLockFailed, nil)
}

func IsOptimisticLockFailed(err error) bool {
	return ToError(err, ErrCodeOptimisticLockFailed) != nil
}

func NewErrTransient(message string, inner error) Error {
	return NewError(message, AudienceInternal, ErrCodeTransient, inner)
}

func IsTransient(err error) bool { return ToError(err, ErrCodeTransient) != nil }

func NewErrTimeout(message string) Error {
	return NewError(message, AudienceExternal, ErrCodeTimeout, nil)
}

func IsTimeout(err error) bool { return ToError(err, ErrCodeTimeout) != nil }
