package icm

import (
	"context"
	"testing"
	"time"

	"github.com/fyrsmithlabs/memoryd/internal/config"
)

func TestIntentClassifier_OfflineMode(t *testing.T) {
	c := NewIntentClassifier(config.ClassifierConfig{Offline: true}, nil)
	got := c.Classify(context.Background(), "what happened yesterday")
	if got.Intent != "episodic_lookup" {
		t.Errorf("Intent = %q, want episodic_lookup", got.Intent)
	}
}

func TestTimeClassifier_OfflineMode(t *testing.T) {
	c := NewTimeClassifier(config.ClassifierConfig{Offline: true}, nil)
	now := time.Date(2026, 7, 29, 12, 0, 0, 0, time.UTC)
	got := c.Resolve(context.Background(), "yesterday", now, nil)
	if got.Granularity != GranularityDay {
		t.Errorf("Granularity = %q, want day", got.Granularity)
	}
}
