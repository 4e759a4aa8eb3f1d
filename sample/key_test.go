package sample

import "testing"

func TestKeyDeterminism(t *testing.T) {
	k1 := NewKey(42)
	k2 := NewKey(42)
	if k1 != k2 {
		t.Fatalf("same seed produced different keys: %v vs %v", k1, k2)
	}

	a1, b1 := k1.Split()
	a2, b2 := k2.Split()
	if a1 != a2 || b1 != b2 {
		t.Errorf("same key split differently: (%v, %v) vs (%v, %v)", a1, b1, a2, b2)
	}
}

func TestKeySplitIndependence(t *testing.T) {
	k := NewKey(7)
	a, b := k.Split()
	if a == b {
		t.Error("split produced identical children")
	}
	if a == k || b == k {
		t.Error("split returned the parent key")
	}

	// Different seeds must give different streams.
	if NewKey(1) == NewKey(2) {
		t.Error("different seeds produced the same key")
	}
}

func TestKeyIntnReplay(t *testing.T) {
	k := NewKey(99)

	v1, next1 := k.Intn(1000)
	v2, next2 := k.Intn(1000)
	if v1 != v2 || next1 != next2 {
		t.Errorf("reusing a key did not replay the draw: %d vs %d", v1, v2)
	}

	if v1 < 0 || v1 >= 1000 {
		t.Errorf("draw %d out of range [0, 1000)", v1)
	}

	// The successor key must advance the stream.
	v3, _ := next1.Intn(1000)
	_ = v3
	if next1 == k {
		t.Error("Intn returned the consumed key")
	}
}

func TestKeyRoundTrip(t *testing.T) {
	k := NewKey(12345)
	restored := KeyFromUint64(k.Uint64())
	if restored != k {
		t.Fatalf("round trip changed key: %v vs %v", restored, k)
	}

	v1, _ := k.Intn(10)
	v2, _ := restored.Intn(10)
	if v1 != v2 {
		t.Errorf("restored key draws differently: %d vs %d", v1, v2)
	}
}

func TestNormalMatrix(t *testing.T) {
	k := NewKey(3)
	m1, next1 := NormalMatrix(k, 4, 3)
	m2, next2 := NormalMatrix(k, 4, 3)

	r, c := m1.Dims()
	if r != 4 || c != 3 {
		t.Fatalf("got %dx%d matrix, want 4x3", r, c)
	}
	if next1 != next2 {
		t.Error("same key returned different successors")
	}
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			if m1.At(i, j) != m2.At(i, j) {
				t.Fatalf("same key produced different draws at (%d, %d)", i, j)
			}
		}
	}

	// Consecutive matrices from the chain must differ.
	m3, _ := NormalMatrix(next1, 4, 3)
	same := true
	for i := 0; i < r && same; i++ {
		for j := 0; j < c; j++ {
			if m1.At(i, j) != m3.At(i, j) {
				same = false
				break
			}
		}
	}
	if same {
		t.Error("successor key produced an identical matrix")
	}
}
