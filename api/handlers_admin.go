package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/jmcleod/palisade/authz"
)

// ---------------------------------------------------------------------------
// Admin group handlers
// ---------------------------------------------------------------------------

// ListGroups handles GET /admin/groups.
func (a *API) ListGroups(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, ListGroupsResponse{Groups: a.engine.GroupNames()})
}

// CreateGroup handles POST /admin/groups.
func (a *API) CreateGroup(w http.ResponseWriter, r *http.Request) {
	var req CreateGroupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		writeError(w, http.StatusBadRequest, "group name is required")
		return
	}
	identity := identityFromContext(r.Context())
	if err := a.engine.CreateGroup(r.Context(), identity, req.Name); err != nil {
		mapError(w, err)
		return
	}
	a.audit.logIdentity(AuditGroupCreated, r, identity, slog.String("group", req.Name))
	w.WriteHeader(http.StatusCreated)
}

// DeleteGroup handles DELETE /admin/groups/{groupName}.
func (a *API) DeleteGroup(w http.ResponseWriter, r *http.Request) {
	group := chi.URLParam(r, "groupName")
	identity := identityFromContext(r.Context())
	if err := a.engine.DeleteGroup(r.Context(), identity, group); err != nil {
		mapError(w, err)
		return
	}
	a.audit.logIdentity(AuditGroupDeleted, r, identity, slog.String("group", group))
	w.WriteHeader(http.StatusNoContent)
}

// AddMember handles POST /admin/groups/{groupName}/members.
func (a *API) AddMember(w http.ResponseWriter, r *http.Request) {
	group := chi.URLParam(r, "groupName")
	var req AddMemberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Member == "" {
		writeError(w, http.StatusBadRequest, "member is required")
		return
	}
	identity := identityFromContext(r.Context())
	if err := a.engine.AddMember(r.Context(), identity, group, req.Member); err != nil {
		mapError(w, err)
		return
	}
	a.audit.logIdentity(AuditMemberAdded, r, identity,
		slog.String("group", group), slog.String("member", req.Member))
	w.WriteHeader(http.StatusCreated)
}

// RemoveMember handles DELETE /admin/groups/{groupName}/members/{member}.
func (a *API) RemoveMember(w http.ResponseWriter, r *http.Request) {
	group := chi.URLParam(r, "groupName")
	member := chi.URLParam(r, "member")
	identity := identityFromContext(r.Context())
	if err := a.engine.RemoveMember(r.Context(), identity, group, member); err != nil {
		mapError(w, err)
		return
	}
	a.audit.logIdentity(AuditMemberRemoved, r, identity,
		slog.String("group", group), slog.String("member", member))
	w.WriteHeader(http.StatusNoContent)
}

// ListRules handles GET /admin/groups/{groupName}/rules. Only rules on
// resources the caller itself holds are returned.
func (a *API) ListRules(w http.ResponseWriter, r *http.Request) {
	group := chi.URLParam(r, "groupName")
	identity := identityFromContext(r.Context())
	rules, err := a.engine.ListAuthorizedRules(identity, group)
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ListRulesResponse{Rules: rules})
}

// ChangeRules handles PUT /admin/groups/{groupName}/rules. Rules with state
// NOT_USED are removed; everything else is replaced.
func (a *API) ChangeRules(w http.ResponseWriter, r *http.Request) {
	group := chi.URLParam(r, "groupName")
	var req ChangeRulesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Rules) == 0 {
		writeError(w, http.StatusBadRequest, "rules are required")
		return
	}
	identity := identityFromContext(r.Context())
	if err := a.engine.AddRules(r.Context(), identity, group, req.Rules); err != nil {
		mapError(w, err)
		return
	}
	for _, rule := range req.Rules {
		a.audit.logIdentity(AuditRuleChanged, r, identity,
			slog.String("group", group), slog.String("resource", rule.Resource),
			slog.String("state", rule.State.String()),
			slog.Bool("recursive", rule.Recursive))
	}
	w.WriteHeader(http.StatusNoContent)
}

// CreateToken handles POST /admin/tokens. Gated on the admins resource.
func (a *API) CreateToken(w http.ResponseWriter, r *http.Request) {
	var req CreateTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Identity == "" {
		writeError(w, http.StatusBadRequest, "identity is required")
		return
	}
	identity := identityFromContext(r.Context())
	if !a.engine.Authorize(identity, authz.ResourceAdmins).Allowed() {
		writeError(w, http.StatusForbidden, "not authorized to mint tokens")
		return
	}
	token, err := a.IssueToken(r.Context(), req.Identity)
	if err != nil {
		mapError(w, err)
		return
	}
	a.audit.logIdentity(AuditTokenCreated, r, identity, slog.String("for", req.Identity))
	writeJSON(w, http.StatusCreated, CreateTokenResponse{Token: token})
}
