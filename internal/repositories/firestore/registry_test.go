package firestore

import (
	"testing"

	"github.com/drbackfit/storefront/internal/platform/config"
	pfirestore "github.com/drbackfit/storefront/internal/platform/firestore"
)

func TestNewRegistryRequiresProvider(t *testing.T) {
	if _, err := NewRegistry(nil, RegistryOptions{}); err == nil {
		t.Fatalf("expected error for missing provider")
	}
}

func TestNewRegistryBuildsRepositories(t *testing.T) {
	provider := pfirestore.NewProvider(config.FirestoreConfig{ProjectID: "drbackfit-test"})
	reg, err := NewRegistry(provider, RegistryOptions{MailCollection: "outbox"})
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	if reg.Orders() == nil || reg.Counters() == nil || reg.MailQueue() == nil {
		t.Fatalf("expected repositories to be wired")
	}
	checks := reg.HealthChecks()
	if len(checks) != 1 || checks[0].Name != "firestore" {
		t.Fatalf("unexpected health checks %#v", checks)
	}
}
