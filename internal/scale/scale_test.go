package scale

import (
	"errors"
	"testing"
)

func TestTableCMajorRootFour(t *testing.T) {
	table, err := Table("C", "major", 4)
	if err != nil {
		t.Fatalf("table: %v", err)
	}
	want := []int{60, 62, 64, 65, 67, 69, 71, 72, 74, 76, 77, 79, 81, 83}
	if len(table) != len(want) {
		t.Fatalf("expected %d pitches, got %d", len(want), len(table))
	}
	for i := range want {
		if table[i] != want[i] {
			t.Fatalf("pitch %d: expected %d, got %d", i, want[i], table[i])
		}
	}
}

func TestTableEnharmonicKeysMatch(t *testing.T) {
	sharp, err := Table("C#", "dorian", 3)
	if err != nil {
		t.Fatalf("table: %v", err)
	}
	flat, err := Table("Db", "dorian", 3)
	if err != nil {
		t.Fatalf("table: %v", err)
	}
	for i := range sharp {
		if sharp[i] != flat[i] {
			t.Fatalf("pitch %d differs: %d vs %d", i, sharp[i], flat[i])
		}
	}
}

func TestTableHexatonicLength(t *testing.T) {
	table, err := Table("A", "minorBlues", 3)
	if err != nil {
		t.Fatalf("table: %v", err)
	}
	if len(table) != 6*Octaves {
		t.Fatalf("expected %d pitches, got %d", 6*Octaves, len(table))
	}
	if table[0] != 57 {
		t.Fatalf("expected tonic 57, got %d", table[0])
	}
}

func TestTableErrors(t *testing.T) {
	if _, err := Table("H", "major", 4); !errors.Is(err, ErrUnknownKey) {
		t.Fatalf("expected unknown key, got %v", err)
	}
	if _, err := Table("C", "bebop", 4); !errors.Is(err, ErrUnknownScale) {
		t.Fatalf("expected unknown scale, got %v", err)
	}
	if _, err := Table("B", "major", 9); !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("expected out of range, got %v", err)
	}
}

func TestCatalogue(t *testing.T) {
	if DegreeModulus() != 8 {
		t.Fatalf("expected 8 catalogued scales, got %d", DegreeModulus())
	}
	for _, name := range Names() {
		if !ValidScale(name) {
			t.Fatalf("catalogued scale %s has no intervals", name)
		}
	}
	for _, key := range Keys() {
		if !ValidKey(key) {
			t.Fatalf("catalogued key %s has no offset", key)
		}
	}
}
