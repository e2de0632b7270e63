package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apierrors "sessiongate/internal/errors"
	"sessiongate/internal/license"
	"sessiongate/internal/shared/testutil"
)

type sessionLookup struct {
	LicenseKey string `json:"licenseKey" validate:"required,licensekey"`
	Handle     string `json:"connectionHandle" validate:"required,uuid4"`
}

func TestValidator_DecodeJSON(t *testing.T) {
	v := NewValidator()

	tests := []struct {
		name       string
		body       string
		noBody     bool
		wantStatus int
		wantCode   string
	}{
		{
			name:       "valid",
			body:       `{"licenseKey":"abc","connectionHandle":"0b4c9a77-5a8e-4d5e-9d3a-1f7c2b1f8a10"}`,
			wantStatus: 0,
		},
		{
			name:       "no body",
			noBody:     true,
			wantStatus: http.StatusBadRequest,
			wantCode:   "INVALID_REQUEST",
		},
		{
			name:       "empty body",
			body:       "",
			wantStatus: http.StatusBadRequest,
			wantCode:   "INVALID_REQUEST",
		},
		{
			name:       "malformed json",
			body:       `{"licenseKey":`,
			wantStatus: http.StatusBadRequest,
			wantCode:   "INVALID_REQUEST",
		},
		{
			name:       "too large",
			body:       `{"licenseKey":"` + strings.Repeat("a", DefaultMaxBodySize) + `"}`,
			wantStatus: http.StatusRequestEntityTooLarge,
			wantCode:   "PAYLOAD_TOO_LARGE",
		},
		{
			name:       "missing fields",
			body:       `{}`,
			wantStatus: http.StatusBadRequest,
			wantCode:   "VALIDATION_FAILED",
		},
		{
			name:       "malformed key",
			body:       `{"licenseKey":"-bad","connectionHandle":"0b4c9a77-5a8e-4d5e-9d3a-1f7c2b1f8a10"}`,
			wantStatus: http.StatusBadRequest,
			wantCode:   "VALIDATION_FAILED",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			if tt.noBody {
				r.Body = http.NoBody
			}
			w := httptest.NewRecorder()

			var dst sessionLookup
			err := v.DecodeJSON(w, r, &dst)
			if tt.wantStatus == 0 {
				require.NoError(t, err)
				assert.Equal(t, "abc", dst.LicenseKey)
				return
			}

			var apiErr *apierrors.APIError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, tt.wantStatus, apiErr.StatusCode)
			assert.Equal(t, tt.wantCode, apiErr.ErrorCode)
		})
	}
}

func TestValidator_StructFieldNames(t *testing.T) {
	err := NewValidator().Struct(&sessionLookup{LicenseKey: "abc", Handle: "not-a-uuid"})

	var apiErr *apierrors.APIError
	require.ErrorAs(t, err, &apiErr)
	details, ok := apiErr.Details.(apierrors.ValidationErrors)
	require.True(t, ok)
	require.Len(t, details.Errors, 1)
	assert.Equal(t, "connectionHandle", details.Errors[0].Field)
	assert.Equal(t, "connectionHandle must be a valid UUID", details.Errors[0].Message)
}

func TestValidator_Var(t *testing.T) {
	v := NewValidator()

	assert.NoError(t, v.Var("licenseKey", "abc", "required,"+license.KeyTag))

	err := v.Var("licenseKey", "-bad", "required,"+license.KeyTag)
	var apiErr *apierrors.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "VALIDATION_FAILED", apiErr.ErrorCode)
	detail, ok := apiErr.Details.(apierrors.ValidationError)
	require.True(t, ok)
	assert.Equal(t, "licenseKey", detail.Field)
	assert.Equal(t, "licenseKey must be a well-formed license key", detail.Message)

	err = v.Var("licenseKey", "", "required,"+license.KeyTag)
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "licenseKey is required", apiErr.Details.(apierrors.ValidationError).Message)
}

func TestContentTypeValidator(t *testing.T) {
	logger, _ := testutil.NewTestLogger(t)
	handler := ContentTypeValidator(apierrors.NewErrorHandler(logger, false), "application/json")(okHandler)

	tests := []struct {
		name        string
		method      string
		contentType string
		wantStatus  int
	}{
		{"get passes", http.MethodGet, "", http.StatusOK},
		{"json", http.MethodPost, "application/json; charset=utf-8", http.StatusOK},
		{"missing", http.MethodPost, "", http.StatusUnsupportedMediaType},
		{"form", http.MethodPost, "application/x-www-form-urlencoded", http.StatusUnsupportedMediaType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(tt.method, "/api/sessions/validate", strings.NewReader("{}"))
			if tt.contentType != "" {
				r.Header.Set("Content-Type", tt.contentType)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, r)
			assert.Equal(t, tt.wantStatus, w.Code)
		})
	}
}
