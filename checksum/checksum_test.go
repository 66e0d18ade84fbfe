package checksum

import "testing"

func TestOfIsStableAcrossCalls(t *testing.T) {
	fields := Fields{"Abbey Road", 1969, true}

	a := Of(fields)
	b := Of(Fields{"Abbey Road", 1969, true})

	if a != b {
		t.Fatalf("checksum not stable: %d != %d", a, b)
	}
}

func TestOfChangesWithFieldValue(t *testing.T) {
	a := Of(Fields{"Abbey Road", 1969})
	b := Of(Fields{"Abbey Road", 1970})

	if a == b {
		t.Fatalf("expected different checksums, got %d for both", a)
	}
}

func TestOfDistinguishesFieldOrder(t *testing.T) {
	a := Of(Fields{"Abbey", "Road"})
	b := Of(Fields{"Road", "Abbey"})

	if a == b {
		t.Fatalf("expected order to affect checksum, got %d for both", a)
	}
}

func TestOfHandlesNilAndEmpty(t *testing.T) {
	a := Of(Fields{nil, ""})
	b := Of(Fields{nil, ""})

	if a != b {
		t.Fatalf("expected stable checksum for nil/empty fields")
	}
}
