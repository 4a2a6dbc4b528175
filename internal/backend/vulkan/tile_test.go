package vulkan

import "testing"

func TestSelectTileSize(t *testing.T) {
	cases := []struct {
		m, n int64
		want tileSize
	}{
		{16, 16, tileSmall},
		{32, 512, tileSmall},
		{64, 512, tileMedium},
		{128, 64, tileMedium},
		{100, 100, tileLarge},
		{512, 512, tileLarge},
	}
	for _, c := range cases {
		if got := selectTileSize(c.m, c.n); got != c.want {
			t.Errorf("selectTileSize(%d,%d) = %v; want %v", c.m, c.n, got, c.want)
		}
	}
}

func TestGuessSplitKNoSplitWhenBothDimsLarge(t *testing.T) {
	if got := guessSplitK(4096, 4096, 4096); got != 1 {
		t.Fatalf("guessSplitK = %d; want 1", got)
	}
}

func TestGuessSplitKNoSplitWhenKTooSmall(t *testing.T) {
	if got := guessSplitK(64, 64, 128); got != 1 {
		t.Fatalf("guessSplitK = %d; want 1 when k is not > 128", got)
	}
}

func TestGuessSplitKSplitsFourWhenOneDimSmallAndKLarge(t *testing.T) {
	if got := guessSplitK(128, 128, 4096); got != 1 {
		t.Fatalf("guessSplitK = %d; want 1 since neither m nor n is < 128", got)
	}
	if got := guessSplitK(64, 4096, 4096); got != 4 {
		t.Fatalf("guessSplitK = %d; want 4 when m < 128 and k > 128", got)
	}
	if got := guessSplitK(4096, 64, 4096); got != 4 {
		t.Fatalf("guessSplitK = %d; want 4 when n < 128 and k > 128", got)
	}
}

func TestAlignStorage(t *testing.T) {
	cases := []struct {
		size, alignment, want int64
	}{
		{100, 256, 256},
		{256, 256, 256},
		{257, 256, 512},
		{100, 0, 100},
		{100, 1, 100},
	}
	for _, c := range cases {
		if got := alignStorage(c.size, c.alignment); got != c.want {
			t.Errorf("alignStorage(%d,%d) = %d; want %d", c.size, c.alignment, got, c.want)
		}
	}
}
