package utils

import (
	"math"
	"testing"
)

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"different lengths", []float32{1, 2}, []float32{1, 2, 3}, 0},
		{"empty", nil, nil, 0},
		{"zero magnitude", []float32{0, 0}, []float32{1, 1}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CosineSimilarity(tt.a, tt.b)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("CosineSimilarity() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMagnitude(t *testing.T) {
	if got := Magnitude([]float32{3, 4}); math.Abs(got-5) > 1e-9 {
		t.Errorf("Magnitude() = %v, want 5", got)
	}
	if got := Magnitude(nil); got != 0 {
		t.Errorf("Magnitude(nil) = %v, want 0", got)
	}
}

func TestNormalize(t *testing.T) {
	got := Normalize([]float32{3, 4})
	if got == nil {
		t.Fatal("Normalize returned nil for a non-zero vector")
	}
	if mag := Magnitude(got); math.Abs(mag-1) > 1e-6 {
		t.Errorf("normalized magnitude = %v, want 1", mag)
	}

	if Normalize(nil) != nil {
		t.Error("Normalize(nil) should be nil")
	}
	if Normalize([]float32{0, 0}) != nil {
		t.Error("Normalize of zero vector should be nil")
	}
}

func TestTopKByScore(t *testing.T) {
	items := []ScoredItem[string]{
		{Item: "c", Score: 0.3},
		{Item: "a", Score: 0.9},
		{Item: "e", Score: 0.1},
		{Item: "b", Score: 0.7},
		{Item: "d", Score: 0.2},
	}

	top := TopKByScore(items, 3)
	if len(top) != 3 {
		t.Fatalf("len = %d, want 3", len(top))
	}
	want := []string{"a", "b", "c"}
	for i, w := range want {
		if top[i].Item != w {
			t.Errorf("top[%d] = %s, want %s", i, top[i].Item, w)
		}
	}

	// k >= len returns everything, still sorted descending.
	all := TopKByScore(items, 10)
	if len(all) != len(items) {
		t.Fatalf("len = %d, want %d", len(all), len(items))
	}
	for i := 1; i < len(all); i++ {
		if all[i].Score > all[i-1].Score {
			t.Fatal("result is not sorted descending by score")
		}
	}

	if TopKByScore(items, 0) != nil {
		t.Error("k=0 should return nil")
	}
	if TopKByScore[string](nil, 3) != nil {
		t.Error("empty input should return nil")
	}
}

func TestBatch(t *testing.T) {
	items := []int{1, 2, 3, 4, 5}

	batches := Batch(items, 2)
	if len(batches) != 3 {
		t.Fatalf("len = %d, want 3", len(batches))
	}
	if len(batches[2]) != 1 || batches[2][0] != 5 {
		t.Errorf("last batch = %v, want [5]", batches[2])
	}

	// Non-positive size falls back to the default.
	batches = Batch(items, 0)
	if len(batches) != 1 || len(batches[0]) != 5 {
		t.Errorf("default batching = %v, want a single batch of 5", batches)
	}

	if Batch[int](nil, 2) != nil {
		t.Error("empty input should yield no batches")
	}
}
