// Package identity implements component C10: a small, always-available
// tenant identity payload, fetched unconditionally at the start of every
// pipeline run so a reply is never generated without basic user/assistant
// context (spec.md §2, §4.8 step 7). Grounded on
// original_source/src/services/identity_service.py's IdentityICMService,
// which never returns nil/error and falls back to a minimal skeleton.
package identity

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/memoryd/internal/tenant"
)

// UserIdentity describes the tenant's user-facing profile half.
type UserIdentity struct {
	Role        string   `json:"role"`
	Goals       []string `json:"goals"`
	Preferences []string `json:"preferences"`
	Constraints []string `json:"constraints"`
	Tone        string   `json:"tone"`
}

// AssistantIdentity describes the assistant's configured persona half.
type AssistantIdentity struct {
	Role   string `json:"role"`
	Style  string `json:"style"`
	Safety string `json:"safety"`
}

// Identity is C10's output payload (spec.md §2). UserID/ProjectID are
// always populated from the request's tenant key, never from the
// configured blob, so a misconfigured identity_json can never leak one
// tenant's identity into another's response.
type Identity struct {
	UserID               string             `json:"user_id"`
	ProjectID            string             `json:"project_id"`
	UserIdentity         UserIdentity       `json:"user_identity"`
	AssistantIdentity    AssistantIdentity  `json:"assistant_identity"`
	SystemPolicies       []string           `json:"system_policies"`
	RecentProfileEvents  []map[string]any   `json:"recent_profile_events"`
}

func skeleton() Identity {
	return Identity{
		UserIdentity: UserIdentity{
			Role:        "user",
			Goals:       []string{},
			Preferences: []string{},
			Constraints: []string{},
			Tone:        "concise and clear",
		},
		AssistantIdentity: AssistantIdentity{
			Role:   "assistant",
			Style:  "helpful, direct, precise",
			Safety: "respect privacy; avoid hallucination; ask before assuming",
		},
		SystemPolicies:      []string{},
		RecentProfileEvents: []map[string]any{},
	}
}

// Provider returns the identity payload for a tenant. It is backed by an
// optional static JSON configuration blob (one per deployment, analogous
// to the prototype's identity_json); a future revision may back it with
// per-tenant rows in the repository instead, as the Python comment notes.
type Provider struct {
	raw    json.RawMessage
	logger *zap.Logger
}

// NewProvider builds an identity Provider. rawIdentityJSON may be nil/empty,
// in which case Get always returns the minimal skeleton.
func NewProvider(rawIdentityJSON json.RawMessage, logger *zap.Logger) *Provider {
	return &Provider{raw: rawIdentityJSON, logger: logger}
}

// Get never returns an error: a malformed configured payload is logged and
// the minimal skeleton is substituted, matching the "identity must never
// fail the pipeline" requirement (spec.md §5, §7).
func (p *Provider) Get(ctx context.Context, tenantInfo tenant.Info) Identity {
	identity := skeleton()
	if len(p.raw) > 0 {
		var parsed Identity
		if err := json.Unmarshal(p.raw, &parsed); err != nil {
			if p.logger != nil {
				p.logger.Warn("identity: failed to parse configured identity_json, using skeleton", zap.Error(err))
			}
		} else {
			identity = parsed
			if identity.SystemPolicies == nil {
				identity.SystemPolicies = []string{}
			}
			if identity.RecentProfileEvents == nil {
				identity.RecentProfileEvents = []map[string]any{}
			}
		}
	}
	identity.UserID = tenantInfo.UserID
	identity.ProjectID = tenantInfo.ProjectID
	return identity
}
