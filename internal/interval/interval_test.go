package interval

import (
	"errors"
	"testing"
	"time"
)

func TestParser_ValidDescriptors(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want time.Duration
	}{
		{"bare seconds", "120", 120 * time.Second},
		{"padded", "  300 ", 300 * time.Second},
		{"go duration", "2m30s", 150 * time.Second},
		{"hours", "1h", time.Hour},
		{"every", "@every 5m", 5 * time.Minute},
		{"hourly", "@hourly", time.Hour},
		{"daily", "@daily", 24 * time.Hour},
		{"every 10 minutes", "*/10 * * * *", 10 * time.Minute},
		{"business hours", "0 9-17 * * 1-5", time.Hour},
	}

	p := NewParser()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := p.Parse(tt.in)
			if err != nil {
				t.Fatalf("Parse(%q) returned error: %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("Parse(%q) = %s, want %s", tt.in, got, tt.want)
			}
		})
	}
}

func TestParser_InvalidDescriptors(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"empty", ""},
		{"garbage", "soon"},
		{"negative", "-5m"},
		{"bad cron", "61 * * * *"},
		{"too many fields", "* * * * * *"},
	}

	p := NewParser()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := p.Parse(tt.in); err == nil {
				t.Errorf("Parse(%q) expected error, got nil", tt.in)
			}
		})
	}
}

func TestParser_TooShort(t *testing.T) {
	p := NewParser()
	for _, in := range []string{"10", "5s", "@every 1s", "* * * * *"} {
		_, err := p.Parse(in)
		if in == "* * * * *" {
			if err != nil {
				t.Errorf("Parse(%q): one minute is allowed, got %v", in, err)
			}
			continue
		}
		if !errors.Is(err, ErrTooShort) {
			t.Errorf("Parse(%q) = %v, want ErrTooShort", in, err)
		}
	}
}

func TestFormat(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{120 * time.Second, "2m0s"},
		{90 * time.Second, "90s"},
		{time.Hour, "1h0m0s"},
	}
	for _, tt := range tests {
		if got := Format(tt.in); got != tt.want {
			t.Errorf("Format(%s) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
