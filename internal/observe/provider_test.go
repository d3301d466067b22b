package observe

import (
	"os"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/attribute"
)

func resourceAttr(t *testing.T, cfg ProviderConfig, key string) (string, bool) {
	t.Helper()
	res, err := NewResource(cfg)
	if err != nil {
		t.Fatalf("NewResource: %v", err)
	}
	v, ok := res.Set().Value(attribute.Key(key))
	return v.AsString(), ok
}

func TestNewResource(t *testing.T) {
	t.Parallel()

	cfg := ProviderConfig{
		ServiceVersion: "1.4.0",
		Environment:    "staging",
		InstanceID:     "recorder-2",
		ProcessingURL:  "http://minutes:8000",
		CommandGuild:   "guild-1",
	}
	tests := []struct {
		key  string
		want string
	}{
		{"service.name", "meetscribe"},
		{"service.version", "1.4.0"},
		{"service.instance.id", "recorder-2"},
		{"deployment.environment", "staging"},
		{"meetscribe.processing.url", "http://minutes:8000"},
		{"meetscribe.discord.command_guild", "guild-1"},
	}
	for _, tt := range tests {
		if got, ok := resourceAttr(t, cfg, tt.key); !ok || got != tt.want {
			t.Errorf("%s = %q (present %v), want %q", tt.key, got, ok, tt.want)
		}
	}
}

func TestNewResource_OptionalAttributes(t *testing.T) {
	t.Parallel()

	cfg := ProviderConfig{ServiceName: "meetscribe-eu"}
	if got, _ := resourceAttr(t, cfg, "service.name"); got != "meetscribe-eu" {
		t.Errorf("service.name = %q, want meetscribe-eu", got)
	}
	for _, key := range []string{"deployment.environment", "meetscribe.processing.url", "meetscribe.discord.command_guild"} {
		if _, ok := resourceAttr(t, cfg, key); ok {
			t.Errorf("%s set without configuration", key)
		}
	}
	host, err := os.Hostname()
	if err != nil {
		t.Skipf("no host name: %v", err)
	}
	if got, _ := resourceAttr(t, cfg, "service.instance.id"); got != host {
		t.Errorf("service.instance.id = %q, want host name %q", got, host)
	}
}

func TestSampler(t *testing.T) {
	t.Parallel()

	tests := []struct {
		ratio float64
		want  string
	}{
		{0, "AlwaysOnSampler"},
		{1, "AlwaysOnSampler"},
		{1.5, "AlwaysOnSampler"},
		{0.25, "TraceIDRatioBased{0.25}"},
	}
	for _, tt := range tests {
		desc := sampler(tt.ratio).Description()
		if !strings.HasPrefix(desc, "ParentBased{") || !strings.Contains(desc, "root:"+tt.want) {
			t.Errorf("sampler(%v) = %s, want parent-based root %s", tt.ratio, desc, tt.want)
		}
	}
}
