package legacy

import (
	"errors"
	"math"
	"testing"

	"github.com/gofrs/uuid/v5"
)

// --- Encode ---

func TestEncodeLayout(t *testing.T) {
	u, err := Encode(User, 0x01020304)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	want := uuid.UUID{
		0, 0, 0, 0, 0, 5, 0x80, 0,
		0x80, 0, 0, 0, 1, 2, 3, 4,
	}
	if u != want {
		t.Errorf("expected %x, got %x", want[:], u[:])
	}
	if u.Version() != 8 {
		t.Errorf("expected version 8, got %d", u.Version())
	}
}

func TestEncodeRejectsUnknownTable(t *testing.T) {
	if _, err := Encode(Table(7), 1); err == nil {
		t.Error("expected error for table 7")
	}
}

func TestEncodeDistinctAcrossTables(t *testing.T) {
	seen := make(map[uuid.UUID]Table)
	for tbl := University; tbl <= Email; tbl++ {
		u, err := Encode(tbl, 42)
		if err != nil {
			t.Fatalf("Encode(%s): %v", tbl, err)
		}
		if prev, ok := seen[u]; ok {
			t.Errorf("%s and %s share identifier %s", prev, tbl, u)
		}
		seen[u] = tbl
	}
}

// --- Decode ---

func TestRoundTrip(t *testing.T) {
	ids := []uint32{0, 1, 255, 256, 1 << 24, math.MaxInt32, math.MaxUint32}
	for tbl := University; tbl <= Email; tbl++ {
		for _, id := range ids {
			u, err := Encode(tbl, id)
			if err != nil {
				t.Fatalf("Encode(%s, %d): %v", tbl, id, err)
			}
			gotTbl, gotID, err := Decode(u)
			if err != nil {
				t.Fatalf("Decode(%s): %v", u, err)
			}
			if gotTbl != tbl || gotID != id {
				t.Errorf("expected (%s, %d), got (%s, %d)", tbl, id, gotTbl, gotID)
			}
		}
	}
}

func TestDecodeRejects(t *testing.T) {
	valid, _ := Encode(Course, 9)

	mutate := func(f func(u *uuid.UUID)) uuid.UUID {
		u := valid
		f(&u)
		return u
	}

	tests := []struct {
		name string
		in   uuid.UUID
	}{
		{"nil", uuid.Nil},
		{"random v4", uuid.Must(uuid.NewV4())},
		{"time v7", uuid.Must(uuid.NewV7())},
		{"wrong version", mutate(func(u *uuid.UUID) { u[6] = 0x40 })},
		{"version low nibble set", mutate(func(u *uuid.UUID) { u[6] = 0x81 })},
		{"wrong variant", mutate(func(u *uuid.UUID) { u[8] = 0xC0 })},
		{"table out of range", mutate(func(u *uuid.UUID) { u[5] = 7 })},
		{"filler byte set", mutate(func(u *uuid.UUID) { u[0] = 1 })},
		{"filler byte before id set", mutate(func(u *uuid.UUID) { u[11] = 1 })},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := Decode(tt.in); !errors.Is(err, ErrFormat) {
				t.Errorf("expected ErrFormat, got %v", err)
			}
		})
	}
}

func TestTableString(t *testing.T) {
	if User.String() != "user" {
		t.Errorf("expected user, got %s", User)
	}
	if Table(9).String() != "table(9)" {
		t.Errorf("unexpected %s", Table(9))
	}
}
