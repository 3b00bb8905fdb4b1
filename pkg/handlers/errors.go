package handlers

import (
	"errors"
	"net/http"

	"kaboom-collab-backend/pkg/admission"
	"kaboom-collab-backend/pkg/database"
	"kaboom-collab-backend/pkg/logging"
	"kaboom-collab-backend/pkg/payments"
	"kaboom-collab-backend/pkg/utils"
)

type errorMapping struct {
	target error
	status int
	code   string
}

// errorMappings is checked in order with errors.Is.
var errorMappings = []errorMapping{
	{database.ErrNotFound, http.StatusNotFound, "NOT_FOUND"},
	{admission.ErrCapacityExceeded, http.StatusConflict, "CAPACITY_EXCEEDED"},
	{admission.ErrAgreementRequired, http.StatusBadRequest, "AGREEMENT_REQUIRED"},
	{admission.ErrForbidden, http.StatusForbidden, "FORBIDDEN"},
	{admission.ErrInvitationClosed, http.StatusConflict, "INVITATION_CLOSED"},
	{admission.ErrInvalidAmount, http.StatusBadRequest, "INVALID_AMOUNT"},
	{database.ErrAlreadyExists, http.StatusConflict, "ALREADY_EXISTS"},
	{payments.ErrSubscriptionExists, http.StatusConflict, "SUBSCRIPTION_EXISTS"},
	{payments.ErrNoPrice, http.StatusUnprocessableEntity, "NO_PRICE"},
	{payments.ErrHostNotOnboarded, http.StatusUnprocessableEntity, "HOST_NOT_ONBOARDED"},
	{payments.ErrPaymentSetup, http.StatusBadGateway, "PAYMENT_SETUP_FAILED"},
	{payments.ErrNotConfigured, http.StatusServiceUnavailable, "PAYMENTS_NOT_CONFIGURED"},
}

// writeServiceError maps an admission, payment or store error onto the response envelope.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			utils.WriteErrorResponseWithCode(w, m.status, m.code, err.Error(), "")
			return
		}
	}
	logging.Named("http").Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	utils.WriteInternalServerErrorResponse(w, "Internal server error occurred")
}
