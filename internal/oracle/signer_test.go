package oracle

import (
	"path/filepath"
	"testing"

	"go.uber.org/zap"
)

func newTestSigner(t *testing.T) *Signer {
	t.Helper()
	s, err := NewSigner("", filepath.Join(t.TempDir(), "oracle.key"), zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestCanonicalJSONOrderIndependent(t *testing.T) {
	a, err := CanonicalJSON(map[string]any{"b": 1, "a": 2, "nested": map[string]any{"y": "v", "x": []int{1, 2}}})
	if err != nil {
		t.Fatal(err)
	}
	b, err := CanonicalJSON(map[string]any{"nested": map[string]any{"x": []int{1, 2}, "y": "v"}, "a": 2, "b": 1})
	if err != nil {
		t.Fatal(err)
	}
	if string(a) != string(b) {
		t.Errorf("canonical forms differ:\n%s\n%s", a, b)
	}
}

func TestCanonicalJSONCompact(t *testing.T) {
	got, err := CanonicalJSON(map[string]any{"b": 1, "a": "x <>&"})
	if err != nil {
		t.Fatal(err)
	}
	want := `{"a":"x <>&","b":1}`
	if string(got) != want {
		t.Errorf("CanonicalJSON = %s, want %s", got, want)
	}
}

func TestSignAndVerify(t *testing.T) {
	s := newTestSigner(t)

	env, err := s.Sign(map[string]any{"crossing": "San Ysidro", "wait_time_minutes": 25})
	if err != nil {
		t.Fatal(err)
	}

	if env.ProviderPubkey != s.PublicKeyHex() {
		t.Errorf("envelope pubkey = %s, want %s", env.ProviderPubkey, s.PublicKeyHex())
	}
	if !VerifyEnvelope(env) {
		t.Fatal("envelope produced by Sign must verify")
	}
}

func TestVerifyRejectsTampering(t *testing.T) {
	s := newTestSigner(t)

	base, err := s.Sign(map[string]any{"wait_time_minutes": 25})
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		mutate func(e *envelopeCopy)
	}{
		{"data changed", func(e *envelopeCopy) { e.Data = map[string]any{"wait_time_minutes": 5} }},
		{"hash changed", func(e *envelopeCopy) { e.DataHash = flipHexDigit(e.DataHash) }},
		{"timestamp changed", func(e *envelopeCopy) { e.Timestamp++ }},
		{"signature changed", func(e *envelopeCopy) { e.Signature = flipHexDigit(e.Signature) }},
		{"foreign pubkey", func(e *envelopeCopy) { e.ProviderPubkey = newTestSigner(t).PublicKeyHex() }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := *base
			tt.mutate((*envelopeCopy)(&env))
			if VerifyEnvelope(&env) {
				t.Error("tampered envelope must not verify")
			}
		})
	}
}

func TestSignerKeyStableAcrossRestarts(t *testing.T) {
	keyFile := filepath.Join(t.TempDir(), "oracle.key")

	first, err := NewSigner("", keyFile, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	second, err := NewSigner("", keyFile, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}

	if first.PublicKeyHex() != second.PublicKeyHex() {
		t.Error("public key must be stable across restarts with the same key file")
	}

	env, err := first.Sign(map[string]any{"n": 1})
	if err != nil {
		t.Fatal(err)
	}
	if !VerifyEnvelope(env) {
		t.Error("envelope from restored key must verify")
	}
}

func TestSignerFromExplicitSeed(t *testing.T) {
	seed := "3031323334353637383930313233343536373839303132333435363738393031"
	a, err := NewSigner(seed, "", zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	b, err := NewSigner(seed, "", zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	if a.PublicKeyHex() != b.PublicKeyHex() {
		t.Error("same seed must yield same public key")
	}

	if _, err := NewSigner("zz", "", zap.NewNop()); err == nil {
		t.Error("expected error for non-hex seed")
	}
	if _, err := NewSigner("abcd", "", zap.NewNop()); err == nil {
		t.Error("expected error for short seed")
	}
}

// envelopeCopy gives the mutation table addressable fields.
type envelopeCopy struct {
	Data           any
	DataHash       string
	Timestamp      int64
	Signature      string
	ProviderPubkey string
}

func flipHexDigit(s string) string {
	b := []byte(s)
	if b[0] == '0' {
		b[0] = '1'
	} else {
		b[0] = '0'
	}
	return string(b)
}
