package capacity

import "testing"

const mb = int64(1024 * 1024)

func TestAssessThresholds(t *testing.T) {
	cases := []struct {
		name  string
		used  int64
		alloc int64
		delta int64
		want  Risk
	}{
		{"well under", 800 * mb, 1024 * mb, 150 * mb, RiskSafe},
		{"near quota", 960 * mb, 1024 * mb, 50 * mb, RiskWarn},
		{"at quota", 1024 * mb, 1024 * mb, 0, RiskBlock},
		{"over quota", 1000 * mb, 1024 * mb, 100 * mb, RiskBlock},
		{"exactly warn threshold", 95, 100, 0, RiskWarn},
		{"just under warn threshold", 94, 100, 0, RiskSafe},
		{"empty workspace", 0, 1024 * mb, 10 * mb, RiskSafe},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Assess(tc.used, tc.alloc, tc.delta)
			if got.Risk != tc.want {
				t.Fatalf("Assess(%d, %d, %d) risk = %s, want %s (projected %.3f)",
					tc.used, tc.alloc, tc.delta, got.Risk, tc.want, got.ProjectedPct)
			}
		})
	}
}

func TestAssessUnknownAllocationAlwaysWarns(t *testing.T) {
	for _, used := range []int64{0, 500 * mb, 10_000 * mb} {
		for _, delta := range []int64{0, 100 * mb} {
			got := Assess(used, 0, delta)
			if got.Risk != RiskWarn {
				t.Fatalf("Assess(%d, 0, %d) = %s, want warn", used, delta, got.Risk)
			}
			if got.ProjectedPct != 0 {
				t.Fatalf("projected pct should be 0 for unknown allocation, got %f", got.ProjectedPct)
			}
		}
	}
}

func TestAssessMonotonicInDelta(t *testing.T) {
	rank := map[Risk]int{RiskSafe: 0, RiskWarn: 1, RiskBlock: 2}
	used, alloc := int64(800)*mb, int64(1024)*mb
	prev := -1
	for delta := int64(0); delta <= 400*mb; delta += 16 * mb {
		got := Assess(used, alloc, delta)
		if rank[got.Risk] < prev {
			t.Fatalf("risk decreased at delta %d: %s", delta, got.Risk)
		}
		prev = rank[got.Risk]
	}
}

func TestAssessProjection(t *testing.T) {
	got := Assess(800*mb, 1024*mb, 150*mb)
	if got.ProjectedBytes != 950*mb {
		t.Fatalf("projected bytes = %d, want %d", got.ProjectedBytes, 950*mb)
	}
	if got.ProjectedPct < 0.927 || got.ProjectedPct > 0.929 {
		t.Fatalf("projected pct = %f, want ~0.9277", got.ProjectedPct)
	}
}
