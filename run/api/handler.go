// run/api/handler.go
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/courtside/run-service/run/service"
	"github.com/courtside/run-service/shared/api"
	"github.com/courtside/run-service/shared/models"
	"github.com/gorilla/mux"
)

// RunAPIHandlers holds references to the service that handles business logic.
type RunAPIHandlers struct {
	RunService *service.RunService
}

// NewRunAPIHandlers is the constructor for your API handlers.
func NewRunAPIHandlers(rs *service.RunService) *RunAPIHandlers {
	return &RunAPIHandlers{
		RunService: rs,
	}
}

// --- Request/Response DTOs (Data Transfer Objects) ---

type CreateRunRequest struct {
	CourtID    string            `json:"courtId"`
	HostID     string            `json:"hostId"`
	Mode       string            `json:"mode"`
	MaxPlayers int               `json:"maxPlayers"`
	Access     models.AccessMode `json:"access"`
	StartsAt   *time.Time        `json:"startsAt"`
	EndsAt     *time.Time        `json:"endsAt"`
}

type MembershipRequest struct {
	UID string `json:"uid"`
}

type KickPlayerRequest struct {
	RequesterUID string `json:"requesterUid"`
	TargetUID    string `json:"targetUid"`
}

type ResolveRequestRequest struct {
	RequesterUID string `json:"requesterUid"`
	UID          string `json:"uid"`
}

type InviteSquadRequest struct {
	RequesterUID string `json:"requesterUid"`
	SquadID      string `json:"squadId"`
}

type HostActionRequest struct {
	RequesterUID string `json:"requesterUid"`
}

type UpdateMaxPlayersRequest struct {
	RequesterUID string `json:"requesterUid"`
	MaxPlayers   int    `json:"maxPlayers"`
}

type UpdateModeRequest struct {
	RequesterUID string `json:"requesterUid"`
	Mode         string `json:"mode"`
}

type EditRunDetailsRequest struct {
	RequesterUID string     `json:"requesterUid"`
	StartsAt     *time.Time `json:"startsAt"`
	EndsAt       *time.Time `json:"endsAt"`
	Mode         *string    `json:"mode"`
	MaxPlayers   *int       `json:"maxPlayers"`
}

type AllowedUidsRequest struct {
	RequesterUID string   `json:"requesterUid"`
	UIDs         []string `json:"uids"`
}

// writeServiceError maps membership engine errors to HTTP status codes.
// Callers handle their own success path; everything that reaches here failed.
func writeServiceError(w http.ResponseWriter, runID string, action string, err error) {
	switch {
	case errors.Is(err, service.ErrRunNotFound):
		api.WriteError(w, http.StatusNotFound, fmt.Sprintf("Run %s not found", runID))
	case errors.Is(err, service.ErrRequestNotFound):
		api.WriteError(w, http.StatusNotFound, "Join request not found")
	case errors.Is(err, service.ErrSquadNotFound):
		api.WriteError(w, http.StatusNotFound, "Squad not found")
	case errors.Is(err, service.ErrForbidden):
		api.WriteForbidden(w, "Caller is not permitted to perform this action")
	case errors.Is(err, service.ErrRunClosed):
		api.WriteConflict(w, "Run is no longer joinable")
	case errors.Is(err, service.ErrRunFull):
		api.WriteConflict(w, "Run is full")
	case errors.Is(err, service.ErrAlreadyRequested):
		api.WriteConflict(w, "A join request is already pending")
	case errors.Is(err, service.ErrHostSoloCannotLeave):
		api.WriteConflict(w, "The sole host cannot leave; end or cancel the run instead")
	case errors.Is(err, service.ErrWrongAccessMode):
		api.WriteError(w, http.StatusBadRequest, "Operation is not valid for this run's access mode")
	case errors.Is(err, service.ErrInvalidArgument):
		api.WriteError(w, http.StatusBadRequest, err.Error())
	default:
		log.Printf("Error during %s for run %s: %v", action, runID, err)
		api.WriteError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to %s", action))
	}
}

// --- Handler Methods ---

// CreateRunHandler handles requests to create a new run.
// POST /runs
func (rah *RunAPIHandlers) CreateRunHandler(w http.ResponseWriter, r *http.Request) {
	var req CreateRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	run, err := rah.RunService.CreateRun(ctx, req.CourtID, req.HostID, req.Mode, req.MaxPlayers, req.Access, req.StartsAt, req.EndsAt)
	if err != nil {
		writeServiceError(w, "", "create run", err)
		return
	}

	api.WriteJSON(w, http.StatusCreated, run)
	log.Printf("Run %s created successfully.", run.ID)
}

// GetRunHandler handles requests to retrieve a run by id.
// GET /runs/{runId}
func (rah *RunAPIHandlers) GetRunHandler(w http.ResponseWriter, r *http.Request) {
	runID := mux.Vars(r)["runId"]
	if runID == "" {
		api.WriteError(w, http.StatusBadRequest, "Run ID is required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	run, err := rah.RunService.GetRun(ctx, runID)
	if err != nil {
		writeServiceError(w, runID, "get run", err)
		return
	}

	api.WriteJSON(w, http.StatusOK, run)
}

// JoinRunHandler handles requests to join a run directly.
// POST /runs/{runId}/join
func (rah *RunAPIHandlers) JoinRunHandler(w http.ResponseWriter, r *http.Request) {
	runID := mux.Vars(r)["runId"]
	var req MembershipRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.UID == "" {
		api.WriteError(w, http.StatusBadRequest, "User ID is required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := rah.RunService.JoinRun(ctx, runID, req.UID); err != nil {
		writeServiceError(w, runID, "join run", err)
		return
	}

	api.WriteJSON(w, http.StatusOK, map[string]string{"message": fmt.Sprintf("User %s joined run %s", req.UID, runID)})
}

// LeaveRunHandler handles requests to leave a run.
// POST /runs/{runId}/leave
func (rah *RunAPIHandlers) LeaveRunHandler(w http.ResponseWriter, r *http.Request) {
	runID := mux.Vars(r)["runId"]
	var req MembershipRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.UID == "" {
		api.WriteError(w, http.StatusBadRequest, "User ID is required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := rah.RunService.LeaveRun(ctx, runID, req.UID); err != nil {
		writeServiceError(w, runID, "leave run", err)
		return
	}

	api.WriteJSON(w, http.StatusOK, map[string]string{"message": fmt.Sprintf("User %s left run %s", req.UID, runID)})
}

// KickPlayerHandler handles host requests to remove a member.
// POST /runs/{runId}/kick
func (rah *RunAPIHandlers) KickPlayerHandler(w http.ResponseWriter, r *http.Request) {
	runID := mux.Vars(r)["runId"]
	var req KickPlayerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.RequesterUID == "" || req.TargetUID == "" {
		api.WriteError(w, http.StatusBadRequest, "Requester and target user IDs are required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := rah.RunService.KickPlayer(ctx, runID, req.RequesterUID, req.TargetUID); err != nil {
		writeServiceError(w, runID, "kick player", err)
		return
	}

	api.WriteJSON(w, http.StatusOK, map[string]string{"message": fmt.Sprintf("User %s removed from run %s", req.TargetUID, runID)})
}

// RequestJoinRunHandler handles requests to file a pending join request.
// POST /runs/{runId}/requests
func (rah *RunAPIHandlers) RequestJoinRunHandler(w http.ResponseWriter, r *http.Request) {
	runID := mux.Vars(r)["runId"]
	var req MembershipRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.UID == "" {
		api.WriteError(w, http.StatusBadRequest, "User ID is required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := rah.RunService.RequestJoinRun(ctx, runID, req.UID); err != nil {
		writeServiceError(w, runID, "request to join run", err)
		return
	}

	api.WriteJSON(w, http.StatusAccepted, map[string]string{"message": fmt.Sprintf("Join request filed for run %s", runID)})
}

// CancelJoinRequestHandler handles requests to withdraw a pending join request.
// POST /runs/{runId}/requests/cancel
func (rah *RunAPIHandlers) CancelJoinRequestHandler(w http.ResponseWriter, r *http.Request) {
	runID := mux.Vars(r)["runId"]
	var req MembershipRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.UID == "" {
		api.WriteError(w, http.StatusBadRequest, "User ID is required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := rah.RunService.CancelJoinRequest(ctx, runID, req.UID); err != nil {
		writeServiceError(w, runID, "cancel join request", err)
		return
	}

	api.WriteJSON(w, http.StatusOK, map[string]string{"message": fmt.Sprintf("Join request withdrawn for run %s", runID)})
}

// ApproveJoinRequestHandler handles host approval of a pending join request.
// POST /runs/{runId}/requests/approve
func (rah *RunAPIHandlers) ApproveJoinRequestHandler(w http.ResponseWriter, r *http.Request) {
	runID := mux.Vars(r)["runId"]
	var req ResolveRequestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.RequesterUID == "" || req.UID == "" {
		api.WriteError(w, http.StatusBadRequest, "Requester and subject user IDs are required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := rah.RunService.ApproveJoinRequest(ctx, runID, req.RequesterUID, req.UID); err != nil {
		writeServiceError(w, runID, "approve join request", err)
		return
	}

	api.WriteJSON(w, http.StatusOK, map[string]string{"message": fmt.Sprintf("Join request for user %s resolved", req.UID)})
}

// DenyJoinRequestHandler handles host denial of a pending join request.
// POST /runs/{runId}/requests/deny
func (rah *RunAPIHandlers) DenyJoinRequestHandler(w http.ResponseWriter, r *http.Request) {
	runID := mux.Vars(r)["runId"]
	var req ResolveRequestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.RequesterUID == "" || req.UID == "" {
		api.WriteError(w, http.StatusBadRequest, "Requester and subject user IDs are required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := rah.RunService.DenyJoinRequest(ctx, runID, req.RequesterUID, req.UID); err != nil {
		writeServiceError(w, runID, "deny join request", err)
		return
	}

	api.WriteJSON(w, http.StatusOK, map[string]string{"message": fmt.Sprintf("Join request for user %s denied", req.UID)})
}

// InviteSquadHandler handles host requests to invite a whole squad.
// POST /runs/{runId}/invite-squad
func (rah *RunAPIHandlers) InviteSquadHandler(w http.ResponseWriter, r *http.Request) {
	runID := mux.Vars(r)["runId"]
	var req InviteSquadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.RequesterUID == "" || req.SquadID == "" {
		api.WriteError(w, http.StatusBadRequest, "Requester user ID and squad ID are required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := rah.RunService.InviteSquadToRun(ctx, runID, req.RequesterUID, req.SquadID); err != nil {
		writeServiceError(w, runID, "invite squad", err)
		return
	}

	api.WriteJSON(w, http.StatusOK, map[string]string{"message": fmt.Sprintf("Squad %s invited to run %s", req.SquadID, runID)})
}

// EndRunHandler handles host requests to end an active run.
// POST /runs/{runId}/end
func (rah *RunAPIHandlers) EndRunHandler(w http.ResponseWriter, r *http.Request) {
	runID := mux.Vars(r)["runId"]
	var req HostActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.RequesterUID == "" {
		api.WriteError(w, http.StatusBadRequest, "Requester user ID is required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := rah.RunService.EndRun(ctx, runID, req.RequesterUID); err != nil {
		writeServiceError(w, runID, "end run", err)
		return
	}

	api.WriteJSON(w, http.StatusOK, map[string]string{"message": fmt.Sprintf("Run %s ended", runID)})
}

// CancelRunHandler handles host requests to cancel a run.
// POST /runs/{runId}/cancel
func (rah *RunAPIHandlers) CancelRunHandler(w http.ResponseWriter, r *http.Request) {
	runID := mux.Vars(r)["runId"]
	var req HostActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.RequesterUID == "" {
		api.WriteError(w, http.StatusBadRequest, "Requester user ID is required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := rah.RunService.CancelRun(ctx, runID, req.RequesterUID); err != nil {
		writeServiceError(w, runID, "cancel run", err)
		return
	}

	api.WriteJSON(w, http.StatusOK, map[string]string{"message": fmt.Sprintf("Run %s cancelled", runID)})
}

// UpdateMaxPlayersHandler handles host requests to change run capacity.
// PUT /runs/{runId}/max-players
func (rah *RunAPIHandlers) UpdateMaxPlayersHandler(w http.ResponseWriter, r *http.Request) {
	runID := mux.Vars(r)["runId"]
	var req UpdateMaxPlayersRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.RequesterUID == "" {
		api.WriteError(w, http.StatusBadRequest, "Requester user ID is required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := rah.RunService.UpdateMaxPlayers(ctx, runID, req.RequesterUID, req.MaxPlayers); err != nil {
		writeServiceError(w, runID, "update max players", err)
		return
	}

	api.WriteJSON(w, http.StatusOK, map[string]string{"message": fmt.Sprintf("Run %s capacity updated to %d", runID, req.MaxPlayers)})
}

// UpdateModeHandler handles host requests to change the run's format.
// PUT /runs/{runId}/mode
func (rah *RunAPIHandlers) UpdateModeHandler(w http.ResponseWriter, r *http.Request) {
	runID := mux.Vars(r)["runId"]
	var req UpdateModeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.RequesterUID == "" {
		api.WriteError(w, http.StatusBadRequest, "Requester user ID is required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := rah.RunService.UpdateMode(ctx, runID, req.RequesterUID, req.Mode); err != nil {
		writeServiceError(w, runID, "update mode", err)
		return
	}

	api.WriteJSON(w, http.StatusOK, map[string]string{"message": fmt.Sprintf("Run %s mode updated to %s", runID, req.Mode)})
}

// EditRunDetailsHandler handles host requests to edit schedule and format.
// PUT /runs/{runId}/details
func (rah *RunAPIHandlers) EditRunDetailsHandler(w http.ResponseWriter, r *http.Request) {
	runID := mux.Vars(r)["runId"]
	var req EditRunDetailsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.RequesterUID == "" {
		api.WriteError(w, http.StatusBadRequest, "Requester user ID is required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	patch := service.RunDetailsPatch{
		StartsAt:   req.StartsAt,
		EndsAt:     req.EndsAt,
		Mode:       req.Mode,
		MaxPlayers: req.MaxPlayers,
	}
	if err := rah.RunService.EditRunDetails(ctx, runID, req.RequesterUID, patch); err != nil {
		writeServiceError(w, runID, "edit run details", err)
		return
	}

	api.WriteJSON(w, http.StatusOK, map[string]string{"message": fmt.Sprintf("Run %s details updated", runID)})
}

// AddAllowedUidsHandler handles host requests to invite users to a run.
// POST /runs/{runId}/allowed
func (rah *RunAPIHandlers) AddAllowedUidsHandler(w http.ResponseWriter, r *http.Request) {
	runID := mux.Vars(r)["runId"]
	var req AllowedUidsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.RequesterUID == "" {
		api.WriteError(w, http.StatusBadRequest, "Requester user ID is required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := rah.RunService.AddMemberToAllowedUids(ctx, runID, req.RequesterUID, req.UIDs); err != nil {
		writeServiceError(w, runID, "add allowed users", err)
		return
	}

	api.WriteJSON(w, http.StatusOK, map[string]string{"message": fmt.Sprintf("%d users allowed on run %s", len(req.UIDs), runID)})
}

// RemoveAllowedUidsHandler handles host requests to revoke invites.
// POST /runs/{runId}/allowed/remove
func (rah *RunAPIHandlers) RemoveAllowedUidsHandler(w http.ResponseWriter, r *http.Request) {
	runID := mux.Vars(r)["runId"]
	var req AllowedUidsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.RequesterUID == "" {
		api.WriteError(w, http.StatusBadRequest, "Requester user ID is required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := rah.RunService.RemoveMemberFromAllowedUids(ctx, runID, req.RequesterUID, req.UIDs); err != nil {
		writeServiceError(w, runID, "remove allowed users", err)
		return
	}

	api.WriteJSON(w, http.StatusOK, map[string]string{"message": fmt.Sprintf("%d users removed from run %s allowed list", len(req.UIDs), runID)})
}

// RegisterRoutes registers all API endpoints for the Run Service.
// This method is called from main.go to set up the HTTP routes.
func (rah *RunAPIHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/runs", rah.CreateRunHandler).Methods("POST")
	router.HandleFunc("/runs/{runId}", rah.GetRunHandler).Methods("GET")
	router.HandleFunc("/runs/{runId}/join", rah.JoinRunHandler).Methods("POST")
	router.HandleFunc("/runs/{runId}/leave", rah.LeaveRunHandler).Methods("POST")
	router.HandleFunc("/runs/{runId}/kick", rah.KickPlayerHandler).Methods("POST")

	router.HandleFunc("/runs/{runId}/requests", rah.RequestJoinRunHandler).Methods("POST")
	router.HandleFunc("/runs/{runId}/requests/cancel", rah.CancelJoinRequestHandler).Methods("POST")
	router.HandleFunc("/runs/{runId}/requests/approve", rah.ApproveJoinRequestHandler).Methods("POST")
	router.HandleFunc("/runs/{runId}/requests/deny", rah.DenyJoinRequestHandler).Methods("POST")

	router.HandleFunc("/runs/{runId}/invite-squad", rah.InviteSquadHandler).Methods("POST")
	router.HandleFunc("/runs/{runId}/end", rah.EndRunHandler).Methods("POST")
	router.HandleFunc("/runs/{runId}/cancel", rah.CancelRunHandler).Methods("POST")

	router.HandleFunc("/runs/{runId}/max-players", rah.UpdateMaxPlayersHandler).Methods("PUT")
	router.HandleFunc("/runs/{runId}/mode", rah.UpdateModeHandler).Methods("PUT")
	router.HandleFunc("/runs/{runId}/details", rah.EditRunDetailsHandler).Methods("PUT")

	router.HandleFunc("/runs/{runId}/allowed", rah.AddAllowedUidsHandler).Methods("POST")
	router.HandleFunc("/runs/{runId}/allowed/remove", rah.RemoveAllowedUidsHandler).Methods("POST")
}
