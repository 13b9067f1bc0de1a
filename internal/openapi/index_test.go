package openapi

import (
	"testing"
)

func loadTestIndex(t *testing.T) *Index {
	t.Helper()
	idx := NewIndex()
	err := idx.Load([]SpecSource{
		{ServiceID: "licensing", SpecPath: "testdata/licensing-svc.yaml"},
	})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	return idx
}

func TestIndex_Load(t *testing.T) {
	idx := loadTestIndex(t)
	routes := idx.Routes("licensing")
	if len(routes) != 4 {
		t.Fatalf("Routes() = %v (len %d), want 4 routes", routes, len(routes))
	}
	if !idx.HasService("licensing") {
		t.Error("HasService(licensing) = false")
	}
	if idx.HasService("unknown-svc") {
		t.Error("HasService(unknown-svc) = true")
	}
}

func TestIndex_HasRoute(t *testing.T) {
	idx := loadTestIndex(t)

	tests := []struct {
		method string
		path   string
		want   bool
	}{
		{"POST", "/v1/licenses", true},
		{"GET", "/v1/licenses", true},
		{"DELETE", "/v1/licenses", false},
		{"GET", "/v1/licenses/lic-42", true},
		{"GET", "/v1/licenses/{licenseId}", true},
		{"PUT", "/v1/licenses/lic-42", true},
		{"GET", "/v1/permits", false},
		{"GET", "/v1/licenses/lic-42/history", false},
	}

	for _, tc := range tests {
		if got := idx.HasRoute("licensing", tc.method, tc.path); got != tc.want {
			t.Errorf("HasRoute(%s %s) = %v, want %v", tc.method, tc.path, got, tc.want)
		}
	}
}

func TestIndex_HasRoute_unknown_service(t *testing.T) {
	idx := loadTestIndex(t)
	if idx.HasRoute("unknown-svc", "GET", "/v1/licenses") {
		t.Error("HasRoute(unknown-svc) = true, want false")
	}
}

func TestIndex_Routes_sorted(t *testing.T) {
	idx := loadTestIndex(t)
	routes := idx.Routes("licensing")
	for i := 1; i < len(routes); i++ {
		prev, cur := routes[i-1], routes[i]
		if prev.PathTemplate > cur.PathTemplate ||
			(prev.PathTemplate == cur.PathTemplate && prev.Method > cur.Method) {
			t.Errorf("routes not sorted at %d: %v before %v", i, prev, cur)
		}
	}
}

func TestIndex_Load_bad_file(t *testing.T) {
	idx := NewIndex()
	err := idx.Load([]SpecSource{
		{ServiceID: "bad-svc", SpecPath: "testdata/nonexistent.yaml"},
	})
	if err == nil {
		t.Fatal("Load() with bad file should return error")
	}
}
