package api

import (
	"context"
	"math"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"tunnel-billing/internal/apperr"
	"tunnel-billing/internal/billing"
	"tunnel-billing/internal/models"
	"tunnel-billing/internal/tunnel"
)

type TunnelService interface {
	Create(ctx context.Context, userID uint, in tunnel.CreateInput) (*tunnel.View, error)
	List(ctx context.Context, userID uint) ([]tunnel.View, error)
	Update(ctx context.Context, userID, id uint, in tunnel.UpdateInput) (*tunnel.View, error)
}

type BillingService interface {
	AssignPlan(ctx context.Context, userID, planID uint) (*models.UserSubscription, error)
	Profile(ctx context.Context, userID uint) (*billing.Profile, error)
}

type Handler struct {
	tunnels TunnelService
	billing BillingService
}

func NewHandler(tunnels TunnelService, billing BillingService) *Handler {
	return &Handler{tunnels: tunnels, billing: billing}
}

type dataResponse struct {
	Data any `json:"data"`
}

type createTunnelRequest struct {
	Domain                   string `json:"domain"`
	AllowMultipleConnections bool   `json:"allowMultipleConnections"`
	IsEnabled                bool   `json:"isEnabled"`
}

type updateTunnelRequest struct {
	IsEnabled                *bool `json:"isEnabled"`
	AllowMultipleConnections *bool `json:"allowMultipleConnections"`
}

type assignPlanRequest struct {
	// PlanID stays raw so a bad value is reported against the field.
	PlanID any `json:"planId"`
}

type assignPlanResponse struct {
	Message          string                   `json:"message"`
	UserSubscription *models.UserSubscription `json:"userSubscription"`
}

type profileResponse struct {
	Message     string                   `json:"message"`
	User        *models.User             `json:"user"`
	CurrentPlan *models.UserSubscription `json:"currentPlan"`
}

func (h *Handler) ListTunnels(w http.ResponseWriter, r *http.Request) {
	views, err := h.tunnels.List(r.Context(), UserIDFromContext(r.Context()))
	if err != nil {
		respondError(w, r, err)
		return
	}
	if views == nil {
		views = []tunnel.View{}
	}
	respondJSON(w, http.StatusOK, dataResponse{Data: views})
}

func (h *Handler) CreateTunnel(w http.ResponseWriter, r *http.Request) {
	var req createTunnelRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, r, err)
		return
	}

	view, err := h.tunnels.Create(r.Context(), UserIDFromContext(r.Context()), tunnel.CreateInput{
		Domain:                   req.Domain,
		IsEnabled:                req.IsEnabled,
		AllowMultipleConnections: req.AllowMultipleConnections,
	})
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, dataResponse{Data: view})
}

func (h *Handler) UpdateTunnel(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id == 0 {
		respondError(w, r, apperr.NotFound("tunnel", "Tunnel not found"))
		return
	}

	var req updateTunnelRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, r, err)
		return
	}

	view, err := h.tunnels.Update(r.Context(), UserIDFromContext(r.Context()), uint(id), tunnel.UpdateInput{
		IsEnabled:                req.IsEnabled,
		AllowMultipleConnections: req.AllowMultipleConnections,
	})
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, dataResponse{Data: view})
}

func (h *Handler) AssignPlan(w http.ResponseWriter, r *http.Request) {
	var req assignPlanRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, r, err)
		return
	}

	planID, err := parsePlanID(req.PlanID)
	if err != nil {
		respondError(w, r, err)
		return
	}

	sub, err := h.billing.AssignPlan(r.Context(), UserIDFromContext(r.Context()), planID)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, assignPlanResponse{
		Message:          "Plan assigned successfully",
		UserSubscription: sub,
	})
}

func (h *Handler) Profile(w http.ResponseWriter, r *http.Request) {
	profile, err := h.billing.Profile(r.Context(), UserIDFromContext(r.Context()))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, profileResponse{
		Message:     "User profile retrieved successfully",
		User:        profile.User,
		CurrentPlan: profile.CurrentPlan,
	})
}

// parsePlanID accepts a positive whole JSON number.
func parsePlanID(raw any) (uint, error) {
	invalid := apperr.Validation("planId", "Plan ID must be a positive number")

	n, ok := raw.(float64)
	if !ok || n < 1 || n != math.Trunc(n) || n > math.MaxUint32 {
		return 0, invalid
	}
	return uint(n), nil
}
