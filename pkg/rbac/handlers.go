package rbac

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/permit/pkg/auth"
	"github.com/platinummonkey/permit/pkg/httputil"
	"github.com/platinummonkey/permit/pkg/observability"
)

// Handlers provides HTTP handlers for RBAC operations
type Handlers struct {
	service *Service
}

// NewHandlers creates new RBAC handlers
func NewHandlers(service *Service) *Handlers {
	return &Handlers{service: service}
}

// RegisterRoutes registers all RBAC routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	// Permission catalog
	router.HandleFunc("/rbac/permissions", h.ListPermissions).Methods("GET")
	router.HandleFunc("/rbac/permissions", h.CreatePermission).Methods("POST")
	router.HandleFunc("/rbac/permissions/all", h.ListAllPermissions).Methods("GET")

	// Role management
	router.HandleFunc("/rbac/roles", h.ListRoles).Methods("GET")
	router.HandleFunc("/rbac/roles", h.CreateRole).Methods("POST")
	router.HandleFunc("/rbac/roles/{id}", h.UpdateRole).Methods("PUT")
	router.HandleFunc("/rbac/roles/{id}", h.DeleteRole).Methods("DELETE")

	// Role permissions
	router.HandleFunc("/rbac/roles/{id}/permissions", h.GetRolePermissions).Methods("GET")
	router.HandleFunc("/rbac/roles/{id}/permissions", h.AssignPermissionToRole).Methods("POST")
	router.HandleFunc("/rbac/roles/{id}/permissions/{permissionId}", h.RemovePermissionFromRole).Methods("DELETE")

	// Users
	router.HandleFunc("/rbac/users/{id}/permissions", h.GetUserPermissions).Methods("GET")
	router.HandleFunc("/rbac/users/{id}/permissions/{name}", h.SetUserPermission).Methods("PUT")
	router.HandleFunc("/rbac/users/{id}/role", h.AssignUserRole).Methods("PUT")
	router.HandleFunc("/rbac/users/{id}/effective", h.GetEffectivePermissions).Methods("GET")

	// Permission checking
	router.HandleFunc("/rbac/check", h.CheckPermission).Methods("POST")
}

// actor returns the verified principal or writes a 401
func (h *Handlers) actor(w http.ResponseWriter, r *http.Request) (auth.Principal, bool) {
	p, ok := auth.FromContext(r.Context())
	if !ok || !p.Valid() {
		httputil.WriteUnauthorized(w, "authentication required")
		return auth.Principal{}, false
	}
	return *p, true
}

// writeServiceError maps engine errors to HTTP responses
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var inUse *RoleInUseError

	switch {
	case errors.Is(err, ErrUnauthenticated):
		httputil.WriteUnauthorized(w, err.Error())
	case errors.Is(err, ErrForbidden):
		httputil.WriteForbidden(w, err.Error())
	case errors.Is(err, ErrNotFound):
		httputil.WriteNotFoundError(w, err.Error())
	case errors.As(err, &inUse):
		httputil.WriteErrorFields(w, http.StatusConflict, err.Error(), map[string]interface{}{
			"user_count": inUse.Count,
		})
	case errors.Is(err, ErrDuplicateName),
		errors.Is(err, ErrAlreadyAssigned),
		errors.Is(err, ErrNotAssigned),
		errors.Is(err, ErrNoOverrideFound):
		httputil.WriteConflict(w, err.Error())
	case errors.Is(err, ErrInvalidOverrideValue), errors.Is(err, ErrInvalidName):
		httputil.WriteBadRequest(w, err.Error())
	default:
		observability.FromContext(r.Context()).
			WithError(err).
			WithField("path", r.URL.Path).
			Error("RBAC request failed")
		httputil.WriteErrorMessage(w, http.StatusInternalServerError, "internal server error")
	}
}

// ListPermissions returns the permission catalog
func (h *Handlers) ListPermissions(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	permissions, err := h.service.Permissions(r.Context(), actor)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, permissions)
}

// ListAllPermissions returns the permission catalog to any authenticated caller
func (h *Handlers) ListAllPermissions(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	permissions, err := h.service.AllPermissions(r.Context(), actor)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, permissions)
}

// CreatePermission adds a permission to the catalog
func (h *Handlers) CreatePermission(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	var req struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.Name, "name") {
		return
	}

	permission, err := h.service.CreatePermission(r.Context(), actor, req.Name, req.Description)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteCreated(w, permission)
}

// ListRoles returns every role with its user and permission counts
func (h *Handlers) ListRoles(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	roles, err := h.service.RolesWithCounts(r.Context(), actor)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, roles)
}

// CreateRole creates a new custom role
func (h *Handlers) CreateRole(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	var req struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.Name, "name") {
		return
	}

	role, err := h.service.CreateRole(r.Context(), actor, req.Name, req.Description)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteCreated(w, role)
}

// UpdateRole renames a role; an omitted description is kept
func (h *Handlers) UpdateRole(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	roleID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	var req struct {
		Name        string  `json:"name"`
		Description *string `json:"description"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.Name, "name") {
		return
	}

	role, err := h.service.UpdateRole(r.Context(), actor, roleID, req.Name, req.Description)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, role)
}

// DeleteRole deletes a role that no user holds
func (h *Handlers) DeleteRole(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	roleID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	if err := h.service.DeleteRole(r.Context(), actor, roleID); err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// GetRolePermissions returns a role's permission set
func (h *Handlers) GetRolePermissions(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	roleID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	permissions, err := h.service.RolePermissions(r.Context(), actor, roleID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, permissions)
}

// AssignPermissionToRole links a permission to a role
func (h *Handlers) AssignPermissionToRole(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	roleID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	var req struct {
		PermissionID int64 `json:"permission_id"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequirePositive(w, req.PermissionID, "permission_id") {
		return
	}

	if err := h.service.AssignPermissionToRole(r.Context(), actor, roleID, req.PermissionID); err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// RemovePermissionFromRole unlinks a permission from a role
func (h *Handlers) RemovePermissionFromRole(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	roleID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	permissionID, ok := httputil.ParsePathInt64OrError(w, r, "permissionId")
	if !ok {
		return
	}

	if err := h.service.RemovePermissionFromRole(r.Context(), actor, roleID, permissionID); err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// GetUserPermissions returns a user's overrides
func (h *Handlers) GetUserPermissions(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	userID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	overrides, err := h.service.UserSpecificPermissions(r.Context(), actor, userID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, overrides)
}

// SetUserPermission sets (true/false) or clears (null) a user override
func (h *Handlers) SetUserPermission(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	userID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	name, ok := httputil.ParsePathStringOrError(w, r, "name")
	if !ok {
		return
	}

	var req struct {
		Granted OverrideValue `json:"granted"`
	}
	if err := httputil.ParseJSON(r, &req); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	if err := req.Granted.Validate(); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	override, err := h.service.SetUserPermission(r.Context(), actor, userID, name, req.Granted)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if override == nil {
		httputil.WriteNoContent(w)
		return
	}
	httputil.WriteSuccess(w, override)
}

// AssignUserRole sets ({"role_id": n}) or clears ({"role_id": null}) a
// user's role
func (h *Handlers) AssignUserRole(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	userID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	var req struct {
		RoleID json.RawMessage `json:"role_id"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	roleID, err := parseNullableID(req.RoleID)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	user, err := h.service.AssignUserRole(r.Context(), actor, userID, roleID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, user)
}

var errRoleIDRequired = errors.New("role_id is required (use null to clear)")

// parseNullableID reads a required JSON value that is an integer or null
func parseNullableID(raw json.RawMessage) (*int64, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, errRoleIDRequired
	}
	if string(raw) == "null" {
		return nil, nil
	}
	id, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil || id <= 0 {
		return nil, errors.New("role_id must be a positive integer or null")
	}
	return &id, nil
}

// GetEffectivePermissions returns every catalog permission with its
// decision and source for a user
func (h *Handlers) GetEffectivePermissions(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	userID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	effective, err := h.service.EffectivePermissions(r.Context(), actor, userID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, effective)
}

// CheckRequest asks for one or several decisions. UserID defaults to the
// caller.
type CheckRequest struct {
	UserID      int64    `json:"user_id,omitempty"`
	Permission  string   `json:"permission,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
}

// CheckResponse carries the decisions of a CheckRequest
type CheckResponse struct {
	UserID     int64           `json:"user_id"`
	Permission string          `json:"permission,omitempty"`
	Allowed    *bool           `json:"allowed,omitempty"`
	Decisions  map[string]bool `json:"decisions,omitempty"`
}

// CheckPermission resolves decisions for a user
func (h *Handlers) CheckPermission(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	var req CheckRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Permission == "" && len(req.Permissions) == 0 {
		httputil.WriteValidationError(w, "permission or permissions is required")
		return
	}
	if req.UserID == 0 {
		req.UserID = actor.UserID
	}

	names := req.Permissions
	if req.Permission != "" {
		names = append([]string{req.Permission}, names...)
	}

	decisions, err := h.service.Check(r.Context(), actor, req.UserID, names)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	resp := CheckResponse{UserID: req.UserID}
	if req.Permission != "" && len(req.Permissions) == 0 {
		allowed := decisions[req.Permission]
		resp.Permission = req.Permission
		resp.Allowed = &allowed
	} else {
		resp.Decisions = decisions
	}
	httputil.WriteSuccess(w, resp)
}
