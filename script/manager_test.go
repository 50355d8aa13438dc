package script

import "testing"

func TestCoerceInt(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   any
		want int64
		err  bool
	}{
		{"integer", int64(42), 42, false},
		{"negative integer", int64(-1), -1, false},
		{"bool true", true, 1, false},
		{"bool false", false, 0, false},
		{"status ok", "OK", 1, false},
		{"numeric string", "128", 128, false},
		{"negative numeric string", "-7", -7, false},
		{"nil reply", nil, 0, false},
		{"garbage string", "nope", 0, true},
		{"float", 1.5, 0, true},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got, err := coerceInt(tc.in)
			if tc.err {
				if err == nil {
					t.Fatalf("coerceInt(%v) error = nil, want error", tc.in)
				}
				return
			}
			if err != nil {
				t.Fatalf("coerceInt(%v) error = %v", tc.in, err)
			}
			if got != tc.want {
				t.Fatalf("coerceInt(%v) = %d, want %d", tc.in, got, tc.want)
			}
		})
	}
}

func TestSHAUnknownName(t *testing.T) {
	t.Parallel()

	m := NewManager(nil)
	if _, ok := m.SHA("missing"); ok {
		t.Fatal("SHA() ok = true for unregistered name, want false")
	}
}
