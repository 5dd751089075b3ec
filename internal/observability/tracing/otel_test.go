package tracing

import (
	"strings"
	"testing"
)

func TestSamplerForFullRate(t *testing.T) {
	for _, rate := range []float64{1.0, 1.5} {
		if got := samplerFor(rate).Description(); got != "AlwaysOnSampler" {
			t.Errorf("samplerFor(%g) = %s, want AlwaysOnSampler", rate, got)
		}
	}
}

func TestSamplerForPartialRate(t *testing.T) {
	desc := samplerFor(0.25).Description()
	if !strings.Contains(desc, "ParentBased") {
		t.Errorf("partial rate must respect the parent decision, got %s", desc)
	}
	if !strings.Contains(desc, "TraceIDRatioBased") {
		t.Errorf("partial rate must sample by trace id ratio, got %s", desc)
	}
}
