package llm

import (
	"errors"
	"fmt"
	"testing"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name          string
		err           error
		wantType      ErrorType
		wantRetryable bool
	}{
		{
			name:          "unauthorized",
			err:           errors.New("error, status code: 401, message: invalid api key"),
			wantType:      ErrorTypeAuth,
			wantRetryable: false,
		},
		{
			name:          "model not found",
			err:           errors.New("the model 'gpt-99' does not exist"),
			wantType:      ErrorTypeModel,
			wantRetryable: false,
		},
		{
			name:          "endpoint 404",
			err:           errors.New("status code: 404"),
			wantType:      ErrorTypeEndpoint,
			wantRetryable: false,
		},
		{
			name:          "connection refused",
			err:           errors.New("dial tcp: connection refused"),
			wantType:      ErrorTypeEndpoint,
			wantRetryable: true,
		},
		{
			name:          "timeout",
			err:           errors.New("context deadline exceeded"),
			wantType:      ErrorTypeEndpoint,
			wantRetryable: true,
		},
		{
			name:          "rate limited",
			err:           errors.New("status code: 429, rate limit exceeded"),
			wantType:      ErrorTypeUnknown,
			wantRetryable: true,
		},
		{
			name:          "server error",
			err:           errors.New("status code: 503, service unavailable"),
			wantType:      ErrorTypeEndpoint,
			wantRetryable: true,
		},
		{
			name:          "unknown",
			err:           errors.New("something odd happened"),
			wantType:      ErrorTypeUnknown,
			wantRetryable: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			classified := ClassifyError(tt.err)
			if classified.Type != tt.wantType {
				t.Errorf("Type = %s, want %s", classified.Type, tt.wantType)
			}
			if classified.Retryable != tt.wantRetryable {
				t.Errorf("Retryable = %v, want %v", classified.Retryable, tt.wantRetryable)
			}
			if !errors.Is(classified, tt.err) {
				t.Error("classified error should wrap the original")
			}
		})
	}
}

func TestClassifyErrorPassthrough(t *testing.T) {
	original := NewError(ErrorTypeAuth, "bad key", false, nil)
	wrapped := fmt.Errorf("request failed: %w", original)

	classified := ClassifyError(wrapped)
	if classified != original {
		t.Error("already-classified errors should pass through unchanged")
	}
}

func TestIsRetryable(t *testing.T) {
	if !IsRetryable(NewError(ErrorTypeEndpoint, "down", true, nil)) {
		t.Error("expected retryable")
	}
	if IsRetryable(errors.New("plain error")) {
		t.Error("plain errors are not retryable")
	}
}

func TestGetErrorType(t *testing.T) {
	if got := GetErrorType(NewError(ErrorTypeModel, "missing", false, nil)); got != ErrorTypeModel {
		t.Errorf("GetErrorType = %s, want %s", got, ErrorTypeModel)
	}
	if got := GetErrorType(errors.New("plain")); got != ErrorTypeUnknown {
		t.Errorf("GetErrorType = %s, want %s", got, ErrorTypeUnknown)
	}
}
