package idempotency

import "testing"

func TestGenerateKeyIsDeterministic(t *testing.T) {
	a := GenerateKey("evt-1", "pat-1", "webhook")
	b := GenerateKey("evt-1", "pat-1", "webhook")
	if a != b {
		t.Error("same inputs must produce the same key")
	}
	if len(a) != 64 {
		t.Errorf("key length = %d, want 64 hex chars", len(a))
	}
}

func TestGenerateKeyVariesPerComponent(t *testing.T) {
	base := GenerateKey("evt-1", "pat-1", "webhook")
	if GenerateKey("evt-2", "pat-1", "webhook") == base {
		t.Error("different event must change the key")
	}
	if GenerateKey("evt-1", "pat-2", "webhook") == base {
		t.Error("different recipient must change the key")
	}
	if GenerateKey("evt-1", "pat-1", "sms") == base {
		t.Error("different channel must change the key")
	}
}
