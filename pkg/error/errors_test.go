package error

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/compliai/auditplanner/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name           string
		err            error
		expectedStatus int
		expectedCode   string
	}{
		{"not found", domain.ErrProjectNotFound, http.StatusNotFound, "NOT_FOUND"},
		{"framework not found", fmt.Errorf("%w: COBIT", domain.ErrFrameworkNotFound), http.StatusNotFound, "NOT_FOUND"},
		{"wrapped validation", fmt.Errorf("%w: title is required", domain.ErrInvalidProject), http.StatusBadRequest, "BAD_REQUEST"},
		{"unsupported format", domain.ErrUnsupportedExportFormat, http.StatusBadRequest, "BAD_REQUEST"},
		{"policy missing", domain.ErrPolicyNotGenerated, http.StatusConflict, "CONFLICT"},
		{"policy not editable", domain.ErrPolicyNotEditable, http.StatusConflict, "CONFLICT"},
		{"app error passthrough", NewUnauthorized("missing user"), http.StatusUnauthorized, "UNAUTHORIZED"},
		{"unknown", errors.New("connection reset"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			appErr := MapError(tt.err)
			assert.Equal(t, tt.expectedStatus, appErr.Status)
			assert.Equal(t, tt.expectedCode, appErr.Code)
		})
	}
}

func TestMapError_HidesInternalDetails(t *testing.T) {
	appErr := MapError(errors.New("pq: password authentication failed"))
	assert.NotContains(t, appErr.Message, "password")
}
