package badgr

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/MyCarrier-DevOps/goQAOrchestrator/pipeline"
)

type fakeBadgr struct {
	tokenRequests int32
	expiresIn     int
	issuers       []entity
	classes       map[string][]entity
	assertions    int32
}

func (f *fakeBadgr) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/o/token", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&f.tokenRequests, 1)
		if err := r.ParseForm(); err != nil || r.PostForm.Get("grant_type") != "password" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if r.PostForm.Get("username") != "qa" || r.PostForm.Get("password") != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(tokenResponse{AccessToken: "tok-1", ExpiresIn: f.expiresIn})
	})
	mux.HandleFunc("/v2/issuers", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(listResponse{Result: f.issuers})
	})
	mux.HandleFunc("/v2/issuers/", func(w http.ResponseWriter, r *http.Request) {
		issuerID := r.URL.Path[len("/v2/issuers/") : len(r.URL.Path)-len("/badgeclasses")]
		json.NewEncoder(w).Encode(listResponse{Result: f.classes[issuerID]})
	})
	mux.HandleFunc("/v2/badgeclasses/", func(w http.ResponseWriter, r *http.Request) {
		var req assertionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if req.Recipient.Type != "url" || req.Recipient.Identity == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		atomic.AddInt32(&f.assertions, 1)
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"result":[{"entityId":"as-1","openBadgeId":"https://badges.example/ob/as-1","image":"https://badges.example/img/as-1.png","issuedOn":"2024-04-01T10:00:00Z"}]}`))
	})
	return mux
}

func newTestGateway(t *testing.T, fake *fakeBadgr) *Gateway {
	t.Helper()
	if fake.expiresIn == 0 {
		fake.expiresIn = 3600
	}
	server := httptest.NewServer(fake.handler())
	t.Cleanup(server.Close)
	return NewGateway(Config{URL: server.URL, Username: "qa", Password: "secret"}, nil)
}

func TestResolveBadgeClass(t *testing.T) {
	fake := &fakeBadgr{
		issuers: []entity{{EntityID: "iss-1", Name: "qa-issuer"}, {EntityID: "iss-2", Name: "other"}},
		classes: map[string][]entity{
			"iss-1": {{EntityID: "cls-gold", Name: "gold"}, {EntityID: "cls-silver", Name: "silver"}},
		},
	}
	gw := newTestGateway(t, fake)

	id, err := gw.ResolveBadgeClass(context.Background(), "qa-issuer", "gold")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "cls-gold" {
		t.Errorf("expected cls-gold, got %q", id)
	}
}

func TestResolveBadgeClassUnknownIssuer(t *testing.T) {
	gw := newTestGateway(t, &fakeBadgr{issuers: []entity{{EntityID: "iss-1", Name: "other"}}})

	_, err := gw.ResolveBadgeClass(context.Background(), "qa-issuer", "gold")
	if !errors.Is(err, pipeline.ErrBadgeResolution) {
		t.Errorf("expected ErrBadgeResolution, got %v", err)
	}
}

func TestResolveBadgeClassDuplicateClass(t *testing.T) {
	fake := &fakeBadgr{
		issuers: []entity{{EntityID: "iss-1", Name: "qa-issuer"}},
		classes: map[string][]entity{
			"iss-1": {{EntityID: "cls-1", Name: "gold"}, {EntityID: "cls-2", Name: "gold"}},
		},
	}
	gw := newTestGateway(t, fake)

	_, err := gw.ResolveBadgeClass(context.Background(), "qa-issuer", "gold")
	if !errors.Is(err, pipeline.ErrBadgeResolution) {
		t.Errorf("expected ErrBadgeResolution, got %v", err)
	}
}

func TestIssue(t *testing.T) {
	fake := &fakeBadgr{}
	gw := newTestGateway(t, fake)

	assertion, err := gw.Issue(context.Background(), "cls-gold",
		"https://github.com/org/app", "Fulfills QC.Sty",
		[]pipeline.Evidence{{URL: "https://ci.example/build/1", Narrative: "build"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if assertion.ID != "as-1" {
		t.Errorf("unexpected assertion id %q", assertion.ID)
	}
	if assertion.OpenBadgeID != "https://badges.example/ob/as-1" {
		t.Errorf("unexpected open badge id %q", assertion.OpenBadgeID)
	}
	if assertion.IssuedOn != "2024-04-01T10:00:00Z" {
		t.Errorf("unexpected issuance timestamp %q", assertion.IssuedOn)
	}
}

func TestTokenReuse(t *testing.T) {
	fake := &fakeBadgr{
		issuers: []entity{{EntityID: "iss-1", Name: "qa-issuer"}},
		classes: map[string][]entity{"iss-1": {{EntityID: "cls-1", Name: "gold"}}},
	}
	gw := newTestGateway(t, fake)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := gw.ResolveBadgeClass(ctx, "qa-issuer", "gold"); err != nil {
			t.Fatalf("resolve %d: %v", i, err)
		}
	}
	if got := atomic.LoadInt32(&fake.tokenRequests); got != 1 {
		t.Errorf("expected a single token request, got %d", got)
	}
}

func TestTokenRefreshNearExpiry(t *testing.T) {
	// expires_in below the safety margin forces a refresh on every call.
	fake := &fakeBadgr{
		expiresIn: 10,
		issuers:   []entity{{EntityID: "iss-1", Name: "qa-issuer"}},
		classes:   map[string][]entity{"iss-1": {{EntityID: "cls-1", Name: "gold"}}},
	}
	gw := newTestGateway(t, fake)

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, err := gw.ResolveBadgeClass(ctx, "qa-issuer", "gold"); err != nil {
			t.Fatalf("resolve %d: %v", i, err)
		}
	}
	if got := atomic.LoadInt32(&fake.tokenRequests); got != 2 {
		t.Errorf("expected a token request per call, got %d", got)
	}
}

func TestBadCredentials(t *testing.T) {
	server := httptest.NewServer((&fakeBadgr{expiresIn: 3600}).handler())
	t.Cleanup(server.Close)
	gw := NewGateway(Config{URL: server.URL, Username: "qa", Password: "wrong"}, nil)

	_, err := gw.ResolveBadgeClass(context.Background(), "qa-issuer", "gold")
	var upstream *pipeline.UpstreamError
	if !errors.As(err, &upstream) {
		t.Fatalf("expected UpstreamError, got %v", err)
	}
	if upstream.Status != http.StatusUnauthorized {
		t.Errorf("expected status 401, got %d", upstream.Status)
	}
}
