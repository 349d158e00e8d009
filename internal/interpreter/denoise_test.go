package interpreter

import (
	"strconv"
	"testing"
)

func TestDenoise(t *testing.T) {
	t.Parallel()
	d := NewDenoiser(nil)

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "hello world", "hello world"},
		{"ansi colour", "\x1b[31merror\x1b[0m", "error"},
		{"output label", "Out[2]: 42", "42"},
		{"input label", "In [5]: x", "x"},
		{"label per line", "Out[1]: a\nOut[2]: b", "a\nb"},
		{"trailing input label", "42\n\nIn [3]: ", "42\n\n"},
		{"coloured label", "\x1b[31mOut[\x1b[1;31m7\x1b[0;31m]: \x1b[0m7", "7"},
		{"interior untouched", "print('In [1]: x')", "print('In [1]: x')"},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := d.Denoise(tt.in); got != tt.want {
				t.Errorf("Denoise(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestDenoiseIdempotent(t *testing.T) {
	t.Parallel()
	d := NewDenoiser(nil)

	inputs := []string{
		"Out[1]: Out[2]: 3",
		"In [1]: In [2]: ",
		"\x1b[32mIn [\x1b[1;32m4\x1b[0;32m]: \x1b[0m",
		"a\nOut[9]: b\nIn [10]:",
		"no decoration at all\n",
	}
	for _, in := range inputs {
		once := d.Denoise(in)
		twice := d.Denoise(once)
		if once != twice {
			t.Errorf("Denoise not idempotent for %q: %q then %q", in, once, twice)
		}
	}
}

func TestDenoiseRunsToFixedPoint(t *testing.T) {
	t.Parallel()
	d := NewDenoiser(nil)

	// Each pass peels one trailing label off the end of the line.
	in := "x"
	for i := range 12 {
		in += " In [" + strconv.Itoa(i) + "]:"
	}

	got := d.Denoise(in)
	if got != "x" {
		t.Errorf("Denoise(%q) = %q, want %q", in, got, "x")
	}
	if again := d.Denoise(got); again != got {
		t.Errorf("Denoise not idempotent: %q then %q", got, again)
	}
}
