package understanding

import (
	"context"
	"errors"
	"testing"
)

func TestNewUnderstanderModes(t *testing.T) {
	cases := []struct {
		name    string
		cfg     Config
		want    string
		wantErr bool
	}{
		{"auto with nothing configured", Config{}, "disabled", false},
		{"auto prefers openai", Config{OpenAIAPIKey: "sk-test"}, "openai", false},
		{"auto chains openai and http", Config{OpenAIAPIKey: "sk-test", HTTPURL: "http://127.0.0.1:9/complete"}, "openai+http", false},
		{"auto http only", Config{HTTPURL: "http://127.0.0.1:9/complete"}, "http", false},
		{"explicit none", Config{Mode: "none", OpenAIAPIKey: "sk-test"}, "disabled", false},
		{"explicit disabled", Config{Mode: "Disabled"}, "disabled", false},
		{"explicit http", Config{Mode: "http", HTTPURL: "http://127.0.0.1:9"}, "http", false},
		{"http without url", Config{Mode: "http"}, "", true},
		{"openai without key", Config{Mode: "openai"}, "", true},
		{"unknown mode", Config{Mode: "magic"}, "", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			u, err := NewUnderstander(tc.cfg)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("NewUnderstander() error = nil, want error")
				}
				return
			}
			if err != nil {
				t.Fatalf("NewUnderstander() error = %v", err)
			}
			if got := NameOf(u); got != tc.want {
				t.Fatalf("NameOf() = %q, want %q", got, tc.want)
			}
			if Enabled(u) != (tc.want != "disabled") {
				t.Fatalf("Enabled() = %v for %q", Enabled(u), tc.want)
			}
		})
	}
}

func TestDisabledUnderstander(t *testing.T) {
	u := NewDisabledUnderstander()
	if _, err := u.Complete(context.Background(), Request{}); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("error = %v, want ErrUnavailable", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := u.Complete(ctx, Request{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if NameOf(nil) != "disabled" || Enabled(nil) {
		t.Fatalf("nil understander should read as disabled")
	}
}
