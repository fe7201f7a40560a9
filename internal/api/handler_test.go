package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestParseLimit_Default(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/listings", nil)

	limit, err := parseLimit(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if limit != DefaultLimit {
		t.Errorf("expected default limit %d, got %d", DefaultLimit, limit)
	}
}

func TestParseLimit_Values(t *testing.T) {
	tests := []struct {
		query   string
		want    int
		wantErr string
	}{
		{"limit=50", 50, ""},
		{"limit=1000", MaxLimit, ""},
		{"limit=0", DefaultLimit, ""},
		{"limit=2000", 0, "limit exceeds maximum of 1000"},
		{"limit=-1", 0, "out of range"},
		{"limit=abc", 0, "invalid syntax"},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/listings?"+tt.query, nil)

			limit, err := parseLimit(req)
			if tt.wantErr != "" {
				if err == nil || !contains(err.Error(), tt.wantErr) {
					t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if limit != tt.want {
				t.Errorf("expected limit %d, got %d", tt.want, limit)
			}
		})
	}
}

func TestParseHours(t *testing.T) {
	tests := []struct {
		query   string
		want    int
		wantErr bool
	}{
		{"", DefaultHours, false},
		{"hours=6", 6, false},
		{"hours=2160", MaxHours, false},
		{"hours=2161", 0, true},
		{"hours=0", 0, true},
		{"hours=-3", 0, true},
		{"hours=a", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/report?"+tt.query, nil)

			hours, err := parseHours(req)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && hours != tt.want {
				t.Errorf("expected %d hours, got %d", tt.want, hours)
			}
		})
	}
}

func contains(s, sub string) bool {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return true
		}
	}
	return false
}
