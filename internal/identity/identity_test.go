package identity

import (
	"context"
	"testing"

	"github.com/fyrsmithlabs/memoryd/internal/tenant"
)

func TestProvider_Get_Skeleton(t *testing.T) {
	p := NewProvider(nil, nil)
	got := p.Get(context.Background(), tenant.Info{UserID: "u1", ProjectID: "p1"})

	if got.UserID != "u1" || got.ProjectID != "p1" {
		t.Errorf("tenant key not stamped: got %+v", got)
	}
	if got.UserIdentity.Role != "user" {
		t.Errorf("UserIdentity.Role = %q, want user", got.UserIdentity.Role)
	}
	if got.SystemPolicies == nil || got.RecentProfileEvents == nil {
		t.Error("SystemPolicies/RecentProfileEvents must never be nil")
	}
}

func TestProvider_Get_ConfiguredPayload(t *testing.T) {
	raw := []byte(`{"user_identity":{"role":"user","tone":"formal"},"system_policies":["no pii"]}`)
	p := NewProvider(raw, nil)
	got := p.Get(context.Background(), tenant.Info{UserID: "u2", ProjectID: "p2"})

	if got.UserIdentity.Tone != "formal" {
		t.Errorf("Tone = %q, want formal", got.UserIdentity.Tone)
	}
	if len(got.SystemPolicies) != 1 || got.SystemPolicies[0] != "no pii" {
		t.Errorf("SystemPolicies = %v", got.SystemPolicies)
	}
	if got.UserID != "u2" || got.ProjectID != "p2" {
		t.Error("tenant key must always come from the request, not the configured blob")
	}
}

func TestProvider_Get_MalformedPayloadFallsBack(t *testing.T) {
	p := NewProvider([]byte(`not json`), nil)
	got := p.Get(context.Background(), tenant.Info{UserID: "u3", ProjectID: "p3"})

	if got.UserIdentity.Role != "user" {
		t.Error("expected skeleton fallback on malformed configured identity_json")
	}
}
