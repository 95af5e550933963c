package utils

import "testing"

func TestAtoiDefault(t *testing.T) {
	cases := []struct {
		in   string
		def  int
		want int
	}{
		{"42", 0, 42},
		{" 7 ", 0, 7},
		{"-3", 0, -3},
		{"", 10, 10},
		{"x", 5, 5},
		{"1.5", 2, 2},
	}
	for _, c := range cases {
		if got := AtoiDefault(c.in, c.def); got != c.want {
			t.Fatalf("AtoiDefault(%q, %d)=%d; want %d", c.in, c.def, got, c.want)
		}
	}
}

func TestClamp(t *testing.T) {
	if Clamp(0, 1, 5) != 1 || Clamp(9, 1, 5) != 5 || Clamp(3, 1, 5) != 3 {
		t.Fatalf("Clamp out of bounds")
	}
}

func TestPageParams(t *testing.T) {
	cases := []struct {
		page, size         string
		wantPage, wantSize int
	}{
		{"", "", 1, 50},
		{"3", "20", 3, 20},
		{"0", "0", 1, 1},
		{"-2", "999", 1, 200},
		{"abc", "x", 1, 50},
	}
	for _, c := range cases {
		p, s := PageParams(c.page, c.size, 50, 200)
		if p != c.wantPage || s != c.wantSize {
			t.Fatalf("PageParams(%q,%q)=(%d,%d); want (%d,%d)", c.page, c.size, p, s, c.wantPage, c.wantSize)
		}
	}
}
