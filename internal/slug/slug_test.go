package slug

import "testing"

func TestMake(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"The Long Goodbye", "the-long-goodbye"},
		{"Café  Society!", "cafe-society"},
		{"  --leading junk", "leading-junk"},
		{"trailing junk--  ", "trailing-junk"},
		{"Überraschung", "uberraschung"},
		{"1984", "1984"},
		{"C++ för nybörjare", "c-for-nyborjare"},
		{"日本語のみ", ""},
		{"", ""},
	}
	for _, c := range cases {
		if got := Make(c.in); got != c.want {
			t.Errorf("Make(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}
