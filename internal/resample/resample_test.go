package resample_test

import (
	"testing"

	"rdclient/internal/resample"
)

func TestLinearSameRateIsCopy(t *testing.T) {
	in := []float32{0.1, 0.2, 0.3, 0.4}
	out := resample.Linear(in, 48000, 48000, 1)
	if len(out) != len(in) {
		t.Fatalf("expected same length, got %d", len(out))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Errorf("sample %d: got %v want %v", i, out[i], in[i])
		}
	}
}

func TestLinearDownsampleHalvesLength(t *testing.T) {
	in := make([]float32, 100)
	for i := range in {
		in[i] = float32(i)
	}
	out := resample.Linear(in, 48000, 24000, 1)
	if len(out) != 50 {
		t.Errorf("expected 50 samples, got %d", len(out))
	}
}

func TestRechannelMonoToStereoDuplicates(t *testing.T) {
	in := []float32{0.5, -0.5}
	out := resample.Rechannel(in, 1, 2)
	want := []float32{0.5, 0.5, -0.5, -0.5}
	if len(out) != len(want) {
		t.Fatalf("length mismatch: got %d want %d", len(out), len(want))
	}
	for i := range want {
		if out[i] != want[i] {
			t.Errorf("sample %d: got %v want %v", i, out[i], want[i])
		}
	}
}

func TestRechannelStereoToMonoAverages(t *testing.T) {
	in := []float32{1.0, 0.0, 0.5, -0.5}
	out := resample.Rechannel(in, 2, 1)
	want := []float32{0.5, 0.0}
	for i := range want {
		if out[i] != want[i] {
			t.Errorf("sample %d: got %v want %v", i, out[i], want[i])
		}
	}
}
