package crypto

import (
	"bytes"
	"testing"
)

func TestGGM_DelegationMatchesEvaluation(t *testing.T) {
	key := mustKey(t)
	prefix := []byte("label-prefix")
	suffix := []byte{0, 0, 0, 3, 1}

	token := GGMDelegate(key, prefix)
	direct := GGMEvaluate(key, Concat(prefix, suffix))
	if !bytes.Equal(GGMExtend(token, suffix), direct) {
		t.Fatal("Extending a delegated token must equal direct evaluation")
	}
	if len(direct) != len(key) {
		t.Errorf("Expected %d byte output, got %d", len(key), len(direct))
	}
}

func TestGGM_DistinctInputs(t *testing.T) {
	key := mustKey(t)
	a := GGMEvaluate(key, []byte{0x00})
	b := GGMEvaluate(key, []byte{0x01})
	if bytes.Equal(a, b) {
		t.Error("Distinct inputs gave the same output")
	}
	if !bytes.Equal(a, GGMEvaluate(key, []byte{0x00})) {
		t.Error("GGMEvaluate should be deterministic")
	}
}

func TestDPRF_CombineReproducesEvaluation(t *testing.T) {
	d, err := NewDPRF(mustKey(t), 3)
	if err != nil {
		t.Fatalf("NewDPRF failed: %v", err)
	}
	input := []byte("label")

	want, err := d.Evaluate(input)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}

	partials := make([][]byte, 0, d.Parties())
	for id := 0; id < d.Parties(); id++ {
		share, err := d.Share(id)
		if err != nil {
			t.Fatalf("Share(%d) failed: %v", id, err)
		}
		partials = append(partials, PartialEvaluate(share, input))
	}

	got, err := Combine(partials...)
	if err != nil {
		t.Fatalf("Combine failed: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatal("Combined partials must equal the centralized evaluation")
	}

	// A strict subset of partials does not reproduce the value.
	partial, err := Combine(partials[:2]...)
	if err != nil {
		t.Fatalf("Combine failed: %v", err)
	}
	if bytes.Equal(partial, want) {
		t.Error("A subset of shares reproduced the function value")
	}
}

func TestDPRF_InvalidParameters(t *testing.T) {
	if _, err := NewDPRF(nil, 2); err == nil {
		t.Error("Expected error for empty master key")
	}
	if _, err := NewDPRF(mustKey(t), 0); err == nil {
		t.Error("Expected error for zero parties")
	}
	d, err := NewDPRF(mustKey(t), 2)
	if err != nil {
		t.Fatalf("NewDPRF failed: %v", err)
	}
	if _, err := d.Share(2); err == nil {
		t.Error("Expected error for out-of-range party")
	}
	if _, err := Combine(); err == nil {
		t.Error("Expected error for empty combine")
	}
}

func TestZeroize(t *testing.T) {
	b := []byte{1, 2, 3}
	Zeroize(b)
	if !bytes.Equal(b, []byte{0, 0, 0}) {
		t.Errorf("Expected zeroed slice, got %v", b)
	}
}
