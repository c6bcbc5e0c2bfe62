package core

import "testing"

func TestFormatUint(t *testing.T) {
	tests := []struct {
		n    uint32
		want string
	}{
		{0, "0"},
		{7, "7"},
		{1000, "1000"},
		{4294967295, "4294967295"},
	}
	for _, tt := range tests {
		if got := FormatUint(tt.n); got != tt.want {
			t.Errorf("FormatUint(%d) = %q, expected %q", tt.n, got, tt.want)
		}
	}
}

func TestFormatInt(t *testing.T) {
	tests := []struct {
		n    int
		want string
	}{
		{0, "0"},
		{-1, "-1"},
		{512, "512"},
		{-32768, "-32768"},
		{-2147483648, "-2147483648"},
	}
	for _, tt := range tests {
		if got := FormatInt(tt.n); got != tt.want {
			t.Errorf("FormatInt(%d) = %q, expected %q", tt.n, got, tt.want)
		}
	}
}
