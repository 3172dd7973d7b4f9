package sigdigest

import "testing"

func TestSumBytesKnownVector(t *testing.T) {
	got := SumBytes([]byte("abc"))
	want := "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	if got != want {
		t.Fatalf("got %s want %s", got, want)
	}
}

func TestSumObjectDeterministic(t *testing.T) {
	type payload struct {
		Case     string `json:"case_number"`
		Delivery string `json:"delivery_id"`
	}
	h1, b1, err := SumObject(payload{Case: "FE-1", Delivery: "dlv_1"})
	if err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	h2, _, err := SumObject(payload{Case: "FE-1", Delivery: "dlv_1"})
	if err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	if h1 != h2 {
		t.Fatalf("equal values hashed differently: %s vs %s", h1, h2)
	}
	if SumBytes(b1) != h1 {
		t.Fatalf("object hash does not match hash of encoding")
	}
	h3, _, err := SumObject(payload{Case: "FE-2", Delivery: "dlv_1"})
	if err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	if h3 == h1 {
		t.Fatalf("different values collided")
	}
}
