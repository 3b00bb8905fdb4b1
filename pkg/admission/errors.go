package admission

import (
	"errors"

	"kaboom-collab-backend/pkg/database"
	"kaboom-collab-backend/pkg/payments"
)

var (
	ErrAgreementRequired = errors.New("the room agreement must be accepted first")
	ErrForbidden         = errors.New("only the room host can do this")
	ErrInvitationClosed  = database.ErrInvitationClosed
	ErrCapacityExceeded  = database.ErrCapacityExceeded
	ErrInvalidAmount     = payments.ErrInvalidAmount
)
