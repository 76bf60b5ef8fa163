package risk

import "testing"

func TestDynamicPositionSizeZeroOnBadInput(t *testing.T) {
	t.Parallel()
	if got := DynamicPositionSize(10000, 0, 100, 0.01, 2.0, 0.25, 10); got != 0 {
		t.Fatalf("zero ATR should yield zero size, got %v", got)
	}
	if got := DynamicPositionSize(10000, 50, 0, 0.01, 2.0, 0.25, 10); got != 0 {
		t.Fatalf("zero price should yield zero size, got %v", got)
	}
}

func TestDynamicPositionSizeCappedByMaxPosition(t *testing.T) {
	t.Parallel()
	// risk-based raw qty would be huge relative to the leverage cap.
	got := DynamicPositionSize(10000, 0.01, 100, 0.5, 0.1, 0.25, 10)
	maxQty := (10000 * 0.25 * 10) / 100
	if got > maxQty+0.001 {
		t.Fatalf("size %v exceeds leverage-capped max %v", got, maxQty)
	}
}

func TestDynamicPositionSizeRiskBased(t *testing.T) {
	t.Parallel()
	got := DynamicPositionSize(10000, 50, 3000, 0.01, 2.0, 0.25, 10)
	want := roundTo((10000*0.01)/(50*2.0), 3)
	if got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestKellyPositionSizeZeroOnBadInput(t *testing.T) {
	t.Parallel()
	if got := KellyPositionSize(10000, 0.6, 100, 0, 0.25, 0.02); got != 0 {
		t.Fatalf("zero avgLoss should yield zero, got %v", got)
	}
	if got := KellyPositionSize(10000, 0, 100, 50, 0.25, 0.02); got != 0 {
		t.Fatalf("zero winRate should yield zero, got %v", got)
	}
}

func TestKellyPositionSizeCappedByMaxRisk(t *testing.T) {
	t.Parallel()
	got := KellyPositionSize(10000, 0.9, 200, 50, 1.0, 0.02)
	if got > 10000*0.02+1e-9 {
		t.Fatalf("kelly size %v exceeds max risk cap", got)
	}
}
