package api

import (
	"time"

	"github.com/jmcleod/palisade/authz"
)

// CreateCARequest is the JSON body for POST /cas.
type CreateCARequest struct {
	Name          string `json:"name"`
	CommonName    string `json:"common_name"`
	Organization  string `json:"organization,omitempty"`
	Country       string `json:"country,omitempty"`
	ValidityYears int    `json:"validity_years"`
}

// EnrollRequest is the JSON body for POST /cas/{caName}/enroll.
type EnrollRequest struct {
	Profile        string   `json:"profile"`
	CommonName     string   `json:"common_name"`
	DNSNames       []string `json:"dns_names,omitempty"`
	IPAddresses    []string `json:"ip_addresses,omitempty"`
	EmailAddresses []string `json:"email_addresses,omitempty"`
	ValidityDays   int      `json:"validity_days,omitempty"`
}

// RevokeRequest is the JSON body for POST /cas/{caName}/revoke.
type RevokeRequest struct {
	Serial string `json:"serial"`
	Reason string `json:"reason"`
}

// CRLConfigRequest is the JSON body for PUT /cas/{caName}/crl/config.
type CRLConfigRequest struct {
	PartitionCount uint32   `json:"partition_count"`
	Suspended      []uint32 `json:"suspended,omitempty"`
	PeriodSeconds  int64    `json:"period_seconds"`
	BaseURL        string   `json:"base_url"`
}

// FlushResponse is returned from POST /cas/{caName}/crl/{partition}/flush.
type FlushResponse struct {
	Partition  uint32    `json:"partition"`
	Number     uint64    `json:"number"`
	Revoked    int       `json:"revoked"`
	ThisUpdate time.Time `json:"this_update"`
	NextUpdate time.Time `json:"next_update"`
}

// ListCAsResponse is returned from GET /cas.
type ListCAsResponse struct {
	CAs []string `json:"cas"`
}

// CreateGroupRequest is the JSON body for POST /admin/groups.
type CreateGroupRequest struct {
	Name string `json:"name"`
}

// ListGroupsResponse is returned from GET /admin/groups.
type ListGroupsResponse struct {
	Groups []string `json:"groups"`
}

// AddMemberRequest is the JSON body for POST /admin/groups/{groupName}/members.
type AddMemberRequest struct {
	Member string `json:"member"`
}

// ChangeRulesRequest is the JSON body for PUT /admin/groups/{groupName}/rules.
// A NOT_USED state removes the rule for that resource.
type ChangeRulesRequest struct {
	Rules []authz.AccessRule `json:"rules"`
}

// ListRulesResponse is returned from GET /admin/groups/{groupName}/rules.
type ListRulesResponse struct {
	Rules []authz.AccessRule `json:"rules"`
}

// CreateTokenRequest is the JSON body for POST /admin/tokens.
type CreateTokenRequest struct {
	Identity string `json:"identity"`
}

// CreateTokenResponse is returned from POST /admin/tokens. The token is
// shown exactly once.
type CreateTokenResponse struct {
	Token string `json:"token"`
}

// ErrorResponse is returned for all error cases.
type ErrorResponse struct {
	Error string `json:"error"`
}
