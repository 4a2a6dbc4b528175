package tensor

import "testing"

func TestContiguous(t *testing.T) {
	tt := &Tensor{
		Type: TypeF32,
		Ne:   [4]int64{16, 8, 1, 1},
	}
	tt.Nb[0] = 4
	tt.Nb[1] = 4 * 16
	if !tt.Contiguous() {
		t.Fatal("expected contiguous tensor")
	}

	tt.Nb[1] = 4 * 17 // padded row pitch
	if tt.Contiguous() {
		t.Fatal("expected non-contiguous tensor once row pitch diverges")
	}
}

func TestNElements(t *testing.T) {
	tt := &Tensor{Ne: [4]int64{4, 5, 2, 1}}
	if got := tt.NElements(); got != 40 {
		t.Fatalf("NElements() = %d, want 40", got)
	}
}

func TestRowBytesQuantized(t *testing.T) {
	tt := &Tensor{Type: TypeQ4_0, Ne: [4]int64{40, 1, 1, 1}}
	// 40 elements -> 2 blocks of 32, each Q4_0BlockBytes.
	want := int64(2 * Q4_0BlockBytes)
	if got := tt.RowBytes(); got != want {
		t.Fatalf("RowBytes() = %d, want %d", got, want)
	}
}
