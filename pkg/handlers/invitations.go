package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"kaboom-collab-backend/pkg/admission"
	"kaboom-collab-backend/pkg/config"
	"kaboom-collab-backend/pkg/middleware"
	"kaboom-collab-backend/pkg/utils"
)

type InvitationsHandler struct {
	config    *config.Config
	admission *admission.Service
	events    EventSink
}

func NewInvitationsHandler(cfg *config.Config, svc *admission.Service, events EventSink) *InvitationsHandler {
	return &InvitationsHandler{config: cfg, admission: svc, events: events}
}

type respondRequest struct {
	Action string `json:"action" validate:"required,oneof=accept decline"`
}

// GET /api/invitations
func (h *InvitationsHandler) ListInvitations(w http.ResponseWriter, r *http.Request) {
	user, err := middleware.RequireUser(r.Context())
	if err != nil {
		utils.WriteUnauthorizedResponse(w, "Authentication required")
		return
	}
	invs, err := h.admission.ListInvitations(r.Context(), user)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	utils.WriteSuccessResponse(w, map[string]interface{}{"invitations": invs, "total": len(invs)})
}

// POST /api/invitations/{id}/respond
func (h *InvitationsHandler) Respond(w http.ResponseWriter, r *http.Request) {
	user, err := middleware.RequireUser(r.Context())
	if err != nil {
		utils.WriteUnauthorizedResponse(w, "Authentication required")
		return
	}
	var req respondRequest
	if err := utils.ParseAndValidate(r, &req); err != nil {
		utils.WriteRequestError(w, err)
		return
	}
	res, err := h.admission.RespondToInvitation(r.Context(), user, chi.URLParam(r, "id"), req.Action == "accept")
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	h.events.Enqueue(res.Events...)
	utils.WriteSuccessResponse(w, res)
}
