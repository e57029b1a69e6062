package provider

import (
	"context"
	"errors"
	"testing"

	"familyhub/backend/internal/domain"
)

type stubAdapter struct {
	kind domain.ProviderKind
}

func (s stubAdapter) Kind() domain.ProviderKind { return s.kind }

func (s stubAdapter) FetchChanges(ctx context.Context, req FetchRequest) (domain.SyncResult, error) {
	return domain.SyncResult{}, nil
}

type stubFeedAdapter struct {
	stubAdapter
}

func (s stubFeedAdapter) ValidateFeed(ctx context.Context, feedURL string) domain.FeedValidation {
	return domain.FeedValidation{IsValid: true}
}

func TestRegistry_LookupByCapability(t *testing.T) {
	r, err := NewRegistry(stubAdapter{kind: domain.ProviderGoogle}, stubFeedAdapter{stubAdapter{kind: domain.ProviderICS}})
	if err != nil {
		t.Fatalf("NewRegistry error: %v", err)
	}

	if _, err := r.Adapter(domain.ProviderGoogle); err != nil {
		t.Fatalf("Adapter(google) error: %v", err)
	}
	if _, err := r.Adapter(domain.ProviderOutlook); !errors.Is(err, ErrUnsupportedProvider) {
		t.Fatalf("Adapter(outlook) error = %v, want ErrUnsupportedProvider", err)
	}
	if _, err := r.OAuth(domain.ProviderGoogle); !errors.Is(err, ErrUnsupportedProvider) {
		t.Fatalf("OAuth(google) error = %v, want ErrUnsupportedProvider for a non-oauth stub", err)
	}
	if _, err := r.FeedValidator(domain.ProviderICS); err != nil {
		t.Fatalf("FeedValidator(ics) error: %v", err)
	}

	kinds := r.Kinds()
	if len(kinds) != 2 || kinds[0] != domain.ProviderGoogle || kinds[1] != domain.ProviderICS {
		t.Fatalf("Kinds = %v", kinds)
	}
}

func TestRegistry_RejectsDuplicatesAndUnknownKinds(t *testing.T) {
	r, err := NewRegistry()
	if err != nil {
		t.Fatalf("NewRegistry error: %v", err)
	}
	if err := r.Register(stubAdapter{kind: domain.ProviderICS}); err != nil {
		t.Fatalf("Register error: %v", err)
	}
	if err := r.Register(stubAdapter{kind: domain.ProviderICS}); err == nil {
		t.Fatalf("expected duplicate registration error")
	}
	if err := r.Register(stubAdapter{kind: "caldav"}); !errors.Is(err, ErrUnsupportedProvider) {
		t.Fatalf("Register(caldav) error = %v, want ErrUnsupportedProvider", err)
	}
}
