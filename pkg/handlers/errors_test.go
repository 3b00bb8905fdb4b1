package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kaboom-collab-backend/pkg/admission"
	"kaboom-collab-backend/pkg/database"
	"kaboom-collab-backend/pkg/payments"
	"kaboom-collab-backend/pkg/utils"
)

func TestWriteServiceError(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{fmt.Errorf("failed to load room r: %w", database.ErrNotFound), http.StatusNotFound, "NOT_FOUND"},
		{admission.ErrCapacityExceeded, http.StatusConflict, "CAPACITY_EXCEEDED"},
		{admission.ErrAgreementRequired, http.StatusBadRequest, "AGREEMENT_REQUIRED"},
		{admission.ErrForbidden, http.StatusForbidden, "FORBIDDEN"},
		{admission.ErrInvitationClosed, http.StatusConflict, "INVITATION_CLOSED"},
		{payments.ErrInvalidAmount, http.StatusBadRequest, "INVALID_AMOUNT"},
		{payments.ErrSubscriptionExists, http.StatusConflict, "SUBSCRIPTION_EXISTS"},
		{fmt.Errorf("%w: card declined", payments.ErrPaymentSetup), http.StatusBadGateway, "PAYMENT_SETUP_FAILED"},
		{payments.ErrNotConfigured, http.StatusServiceUnavailable, "PAYMENTS_NOT_CONFIGURED"},
		{payments.ErrHostNotOnboarded, http.StatusUnprocessableEntity, "HOST_NOT_ONBOARDED"},
		{errors.New("connection reset"), http.StatusInternalServerError, "INTERNAL_SERVER_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			rec := httptest.NewRecorder()
			writeServiceError(rec, httptest.NewRequest(http.MethodGet, "/", nil), tt.err)
			assert.Equal(t, tt.status, rec.Code)

			var resp utils.APIResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.code, resp.Error.Code)
		})
	}
}

func TestInternalErrorsAreNotLeaked(t *testing.T) {
	rec := httptest.NewRecorder()
	writeServiceError(rec, httptest.NewRequest(http.MethodGet, "/", nil), errors.New("pq: password authentication failed"))
	assert.NotContains(t, rec.Body.String(), "password")
}
