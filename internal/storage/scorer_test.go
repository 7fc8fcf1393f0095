package db

import (
	"testing"

	"github.com/pgvector/pgvector-go"
)

func TestCentroidSliceNil(t *testing.T) {
	if got := centroidSlice(nil); got != nil {
		t.Errorf("centroidSlice(nil) = %v, want nil", got)
	}
}

func TestCentroidSliceValue(t *testing.T) {
	v := pgvector.NewVector([]float32{0.1, 0.2})

	got := centroidSlice(&v)
	if len(got) != 2 || got[0] != 0.1 || got[1] != 0.2 {
		t.Errorf("centroidSlice() = %v, want [0.1 0.2]", got)
	}
}
