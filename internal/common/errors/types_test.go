package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name     string
		appError *AppError
		want     string
	}{
		{
			name: "basic error",
			appError: &AppError{
				Type:    ErrTypeConfig,
				Message: "configuration is invalid",
			},
			want: "config: configuration is invalid",
		},
		{
			name: "error with code",
			appError: &AppError{
				Type:    ErrTypeValidation,
				Message: "keyword is required",
				Code:    "TRG001",
			},
			want: "validation: keyword is required: code=TRG001",
		},
		{
			name: "error with cause",
			appError: &AppError{
				Type:    ErrTypeConnection,
				Message: "database connection failed",
				Cause:   errors.New("network timeout"),
			},
			want: "connection: database connection failed: cause=network timeout",
		},
		{
			name: "context keys are sorted",
			appError: &AppError{
				Type:    ErrTypeNotFound,
				Message: "flow not found",
				Context: map[string]interface{}{
					"flow_id": 7,
					"entry":   2,
				},
			},
			want: "not_found: flow not found: context={entry=2, flow_id=7}",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.appError.Error(); got != tt.want {
				t.Errorf("AppError.Error() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAppError_Unwrap(t *testing.T) {
	cause := errors.New("underlying error")
	appError := InternalError("wrapper error", cause)

	if appError.Unwrap() != cause {
		t.Errorf("AppError.Unwrap() = %v, want %v", appError.Unwrap(), cause)
	}

	if ConfigError("no cause").Unwrap() != nil {
		t.Error("AppError.Unwrap() without cause should be nil")
	}
}

func TestAppError_WithContext(t *testing.T) {
	appError := ValidationError("validation failed")

	result := appError.WithContext("entry", 3)
	if result != appError {
		t.Error("WithContext should return the same instance")
	}

	if appError.Context["entry"] != 3 {
		t.Errorf("Context[entry] = %v, want 3", appError.Context["entry"])
	}
}

func TestUnsupportedVersionError(t *testing.T) {
	err := UnsupportedVersionError(2, 3)

	if err.Type != ErrTypeUnsupportedVersion {
		t.Errorf("Type = %v, want %v", err.Type, ErrTypeUnsupportedVersion)
	}

	if err.Message != "unknown version (2)" {
		t.Errorf("Message = %v, want 'unknown version (2)'", err.Message)
	}

	if err.Context["minimum_version"] != 3 {
		t.Errorf("Context[minimum_version] = %v, want 3", err.Context["minimum_version"])
	}
}

func TestInvalidEntityError(t *testing.T) {
	err := InvalidEntityError(42)

	if err.Type != ErrTypeInvalidEntity {
		t.Errorf("Type = %v, want %v", err.Type, ErrTypeInvalidEntity)
	}

	if err.Message != "entity must be a message, call or contact, got int" {
		t.Errorf("Message = %v", err.Message)
	}
}

func TestIsType(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		errType ErrorType
		want    bool
	}{
		{"matching type", ConfigError("test"), ErrTypeConfig, true},
		{"non-matching type", ConfigError("test"), ErrTypeNotFound, false},
		{"wrapped app error", fmt.Errorf("import: %w", NotFoundError("flow")), ErrTypeNotFound, true},
		{"non-app error", errors.New("regular error"), ErrTypeConfig, false},
		{"nil error", nil, ErrTypeConfig, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsType(tt.err, tt.errType); got != tt.want {
				t.Errorf("IsType() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPredicates(t *testing.T) {
	if !IsNotFound(NotFoundError("flow")) {
		t.Error("IsNotFound should match NotFoundError")
	}
	if !IsUnsupportedVersion(fmt.Errorf("wrap: %w", UnsupportedVersionError(1, 3))) {
		t.Error("IsUnsupportedVersion should see through wrapping")
	}
	if !IsInvalidEntity(InvalidEntityError(nil)) {
		t.Error("IsInvalidEntity should match InvalidEntityError")
	}
	if IsNotFound(errors.New("plain")) {
		t.Error("IsNotFound should not match plain errors")
	}
}

func TestGetType(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorType
	}{
		{"app error", ConfigError("test"), ErrTypeConfig},
		{"regular error", errors.New("regular error"), ErrTypeInternal},
		{"nil error", nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GetType(tt.err); got != tt.want {
				t.Errorf("GetType() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestErrorChaining(t *testing.T) {
	originalErr := errors.New("original error")
	wrappedErr := InternalError("wrapped error", originalErr)

	if !errors.Is(wrappedErr, originalErr) {
		t.Error("errors.Is should work with wrapped AppError")
	}

	var appErr *AppError
	if !errors.As(wrappedErr, &appErr) {
		t.Error("errors.As should work with AppError")
	}
}
