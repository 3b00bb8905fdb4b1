package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"kaboom-collab-backend/pkg/admission"
	"kaboom-collab-backend/pkg/catalog"
	"kaboom-collab-backend/pkg/config"
	"kaboom-collab-backend/pkg/middleware"
	"kaboom-collab-backend/pkg/models"
	"kaboom-collab-backend/pkg/utils"
)

// EventSink takes domain events for asynchronous delivery.
type EventSink interface {
	Enqueue(events ...models.DomainEvent)
}

// RoomsHandler serves the room catalog and the admission wizard.
type RoomsHandler struct {
	config    *config.Config
	catalog   *catalog.Loader
	admission *admission.Service
	events    EventSink
}

func NewRoomsHandler(cfg *config.Config, loader *catalog.Loader, svc *admission.Service, events EventSink) *RoomsHandler {
	return &RoomsHandler{config: cfg, catalog: loader, admission: svc, events: events}
}

type donationRequest struct {
	Amount  *float64 `json:"amount" validate:"required,gte=0"`
	Checked bool     `json:"checked"`
}

type agreementRequest struct {
	Checked bool `json:"checked"`
}

// GET /api/rooms
func (h *RoomsHandler) ListRooms(w http.ResponseWriter, r *http.Request) {
	viewer, _ := middleware.GetUserFromContext(r.Context())
	res, err := h.catalog.Load(r.Context(), viewer)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	utils.WriteSuccessResponse(w, res)
}

// GET /api/rooms/shared/{userID}
func (h *RoomsHandler) SharedRooms(w http.ResponseWriter, r *http.Request) {
	user, err := middleware.RequireUser(r.Context())
	if err != nil {
		utils.WriteUnauthorizedResponse(w, "Authentication required")
		return
	}
	receiverID := chi.URLParam(r, "userID")
	if err := utils.ValidateVar(receiverID, "required,max=64"); err != nil {
		utils.WriteRequestError(w, err)
		return
	}
	res, err := h.catalog.Shared(r.Context(), user.ID, receiverID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	utils.WriteSuccessResponse(w, res)
}

// GET /api/rooms/{roomID}/admission
func (h *RoomsHandler) Evaluate(w http.ResponseWriter, r *http.Request) {
	viewer, _ := middleware.GetUserFromContext(r.Context())
	out, err := h.admission.Evaluate(r.Context(), viewer, chi.URLParam(r, "roomID"))
	h.respond(w, r, out, err)
}

// POST /api/rooms/{roomID}/join
func (h *RoomsHandler) Join(w http.ResponseWriter, r *http.Request) {
	user, err := middleware.RequireUser(r.Context())
	if err != nil {
		utils.WriteUnauthorizedResponse(w, "Authentication required")
		return
	}
	out, err := h.admission.ConfirmFreeJoin(r.Context(), user, chi.URLParam(r, "roomID"))
	h.respond(w, r, out, err)
}

// POST /api/rooms/{roomID}/donation
func (h *RoomsHandler) Donate(w http.ResponseWriter, r *http.Request) {
	user, err := middleware.RequireUser(r.Context())
	if err != nil {
		utils.WriteUnauthorizedResponse(w, "Authentication required")
		return
	}
	var req donationRequest
	if err := utils.ParseAndValidate(r, &req); err != nil {
		utils.WriteRequestError(w, err)
		return
	}
	out, err := h.admission.SubmitDonation(r.Context(), user, chi.URLParam(r, "roomID"), *req.Amount, req.Checked)
	h.respond(w, r, out, err)
}

// POST /api/rooms/{roomID}/payment
func (h *RoomsHandler) Pay(w http.ResponseWriter, r *http.Request) {
	user, err := middleware.RequireUser(r.Context())
	if err != nil {
		utils.WriteUnauthorizedResponse(w, "Authentication required")
		return
	}
	var req agreementRequest
	if err := utils.ParseJSONBody(r, &req); err != nil {
		utils.WriteRequestError(w, err)
		return
	}
	out, err := h.admission.StartPayment(r.Context(), user, chi.URLParam(r, "roomID"), req.Checked)
	h.respond(w, r, out, err)
}

// POST /api/rooms/{roomID}/subscription
func (h *RoomsHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	user, err := middleware.RequireUser(r.Context())
	if err != nil {
		utils.WriteUnauthorizedResponse(w, "Authentication required")
		return
	}
	var req agreementRequest
	if err := utils.ParseJSONBody(r, &req); err != nil {
		utils.WriteRequestError(w, err)
		return
	}
	out, err := h.admission.StartSubscription(r.Context(), user, chi.URLParam(r, "roomID"), req.Checked)
	h.respond(w, r, out, err)
}

// DELETE /api/rooms/{roomID}/participants/me
func (h *RoomsHandler) Leave(w http.ResponseWriter, r *http.Request) {
	user, err := middleware.RequireUser(r.Context())
	if err != nil {
		utils.WriteUnauthorizedResponse(w, "Authentication required")
		return
	}
	roomID := chi.URLParam(r, "roomID")
	if err := h.admission.Leave(r.Context(), user, roomID); err != nil {
		writeServiceError(w, r, err)
		return
	}
	utils.WriteSuccessResponse(w, map[string]interface{}{"room_id": roomID, "left": true})
}

// GET /api/rooms/{roomID}/participants/pending
func (h *RoomsHandler) ListPending(w http.ResponseWriter, r *http.Request) {
	user, err := middleware.RequireUser(r.Context())
	if err != nil {
		utils.WriteUnauthorizedResponse(w, "Authentication required")
		return
	}
	pending, err := h.admission.ListPending(r.Context(), user, chi.URLParam(r, "roomID"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	utils.WriteSuccessResponse(w, map[string]interface{}{"participants": pending, "total": len(pending)})
}

// POST /api/rooms/{roomID}/participants/{userID}/approve
func (h *RoomsHandler) Approve(w http.ResponseWriter, r *http.Request) {
	user, err := middleware.RequireUser(r.Context())
	if err != nil {
		utils.WriteUnauthorizedResponse(w, "Authentication required")
		return
	}
	p, events, err := h.admission.Approve(r.Context(), user, chi.URLParam(r, "roomID"), chi.URLParam(r, "userID"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	h.events.Enqueue(events...)
	utils.WriteSuccessResponse(w, p)
}

// respond enqueues the outcome's events and writes it.
func (h *RoomsHandler) respond(w http.ResponseWriter, r *http.Request, out *admission.Outcome, err error) {
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	h.events.Enqueue(out.Events...)
	utils.WriteSuccessResponse(w, out)
}
