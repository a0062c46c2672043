package trend

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"
)

var t0 = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func appendSeries(t *testing.T, tr *Tracker, id string, scores ...float64) {
	t.Helper()
	for i, s := range scores {
		p := Point{Timestamp: t0.Add(time.Duration(i) * time.Hour), Overall: s}
		if err := tr.Append(context.Background(), id, p); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
}

func TestClassifyLabels(t *testing.T) {
	tests := []struct {
		name   string
		scores []float64
		want   Label
	}{
		{"improving", []float64{0.5, 0.55, 0.6, 0.65}, Improving},
		{"declining", []float64{0.8, 0.7, 0.6, 0.5}, Declining},
		{"flat", []float64{0.7, 0.7, 0.7}, Stable},
		{"inside dead zone", []float64{0.700, 0.702, 0.704}, Stable},
		{"single point", []float64{0.9}, Stable},
		{"empty", nil, Stable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := NewTracker(NewMemoryStore())
			appendSeries(t, tr, "ent_1", tt.scores...)
			c, err := tr.Classify(context.Background(), "ent_1", 10)
			if err != nil {
				t.Fatalf("Classify: %v", err)
			}
			if c.Label != tt.want {
				t.Errorf("label = %s (slope %v), want %s", c.Label, c.Slope, tt.want)
			}
			if c.Points != len(tt.scores) {
				t.Errorf("points = %d, want %d", c.Points, len(tt.scores))
			}
		})
	}
}

func TestSlopeMatchesLinearSeries(t *testing.T) {
	points := []Point{{Overall: 0.2}, {Overall: 0.3}, {Overall: 0.4}, {Overall: 0.5}}
	if got := Slope(points); math.Abs(got-0.1) > 1e-12 {
		t.Errorf("slope = %v, want 0.1", got)
	}
}

func TestClassifyUsesTrailingWindow(t *testing.T) {
	tr := NewTracker(NewMemoryStore())
	// Declines early, then climbs over the last four points.
	appendSeries(t, tr, "ent_1", 0.9, 0.7, 0.5, 0.3, 0.4, 0.5, 0.6)

	c, err := tr.Classify(context.Background(), "ent_1", 4)
	if err != nil {
		t.Fatal(err)
	}
	if c.Label != Improving {
		t.Errorf("label = %s, want improving", c.Label)
	}
}

func TestDeadZoneOverride(t *testing.T) {
	tr := NewTracker(NewMemoryStore()).WithDeadZone(0.2)
	appendSeries(t, tr, "ent_1", 0.5, 0.6, 0.7)
	c, _ := tr.Classify(context.Background(), "ent_1", 0)
	if c.Label != Stable {
		t.Errorf("label = %s, want stable with wide dead zone", c.Label)
	}
}

func TestAppendReplacesSameTimestamp(t *testing.T) {
	ctx := context.Background()
	tr := NewTracker(NewMemoryStore())
	if err := tr.Append(ctx, "ent_1", Point{Timestamp: t0, Overall: 0.4}); err != nil {
		t.Fatal(err)
	}
	if err := tr.Append(ctx, "ent_1", Point{Timestamp: t0, Overall: 0.6}); err != nil {
		t.Fatal(err)
	}
	h, _ := tr.History(ctx, "ent_1", 0)
	if len(h) != 1 {
		t.Fatalf("history len = %d, want 1", len(h))
	}
	if h[0].Overall != 0.6 {
		t.Errorf("overall = %v, want 0.6", h[0].Overall)
	}
}

func TestHistoryOrderedAndLimited(t *testing.T) {
	ctx := context.Background()
	tr := NewTracker(NewMemoryStore())
	// Out-of-order appends still come back ascending.
	for _, h := range []int{3, 1, 2, 0} {
		p := Point{Timestamp: t0.Add(time.Duration(h) * time.Hour), Overall: float64(h) / 10}
		if err := tr.Append(ctx, "ent_1", p); err != nil {
			t.Fatal(err)
		}
	}
	h, _ := tr.History(ctx, "ent_1", 2)
	if len(h) != 2 {
		t.Fatalf("len = %d, want 2", len(h))
	}
	if h[0].Overall != 0.2 || h[1].Overall != 0.3 {
		t.Errorf("got %v, %v; want newest two ascending", h[0].Overall, h[1].Overall)
	}
	if h[0].EntityID != "ent_1" {
		t.Errorf("entity id = %q", h[0].EntityID)
	}
}

func TestAppendValidation(t *testing.T) {
	tr := NewTracker(NewMemoryStore())
	ctx := context.Background()
	cases := []struct {
		id string
		p  Point
	}{
		{"", Point{Timestamp: t0, Overall: 0.5}},
		{"ent_1", Point{Overall: 0.5}},
		{"ent_1", Point{Timestamp: t0, Overall: 1.5}},
		{"ent_1", Point{Timestamp: t0, Overall: math.NaN()}},
	}
	for i, c := range cases {
		if err := tr.Append(ctx, c.id, c.p); !errors.Is(err, ErrInvalidPoint) {
			t.Errorf("case %d: err = %v, want ErrInvalidPoint", i, err)
		}
	}
}

func TestMemoryStoreCopiesCategories(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	cats := map[string]float64{"financial": 0.8}
	if err := s.Upsert(ctx, Point{EntityID: "e", Timestamp: t0, Overall: 0.8, Categories: cats}); err != nil {
		t.Fatal(err)
	}
	cats["financial"] = 0.1

	h, _ := s.Recent(ctx, "e", 0)
	if h[0].Categories["financial"] != 0.8 {
		t.Error("stored point shares the caller's map")
	}
}

func TestConcurrentAppendsAcrossEntities(t *testing.T) {
	ctx := context.Background()
	tr := NewTracker(NewMemoryStore())

	var wg sync.WaitGroup
	for e := 0; e < 8; e++ {
		wg.Add(1)
		go func(e int) {
			defer wg.Done()
			id := fmt.Sprintf("ent_%d", e)
			for i := 0; i < 50; i++ {
				p := Point{Timestamp: t0.Add(time.Duration(i) * time.Minute), Overall: 0.5}
				if err := tr.Append(ctx, id, p); err != nil {
					t.Error(err)
					return
				}
			}
		}(e)
	}
	wg.Wait()

	for e := 0; e < 8; e++ {
		h, _ := tr.History(ctx, fmt.Sprintf("ent_%d", e), 0)
		if len(h) != 50 {
			t.Errorf("ent_%d: len = %d, want 50", e, len(h))
		}
	}
}
