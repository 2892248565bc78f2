package sanitize

import "testing"

func TestPath(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"", ""},
		{".", ""},
		{"/foo", "foo"},
		{"./a/./b", "a/b"},
		{"a/b/../c", "a/c"},
	}
	for _, tc := range cases {
		got := Path(tc.in)
		if got != tc.want {
			t.Errorf("Path(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestPathRejectsEscape(t *testing.T) {
	cases := []string{"..", "a/../../etc", "../../etc/passwd"}
	for _, in := range cases {
		func() {
			defer func() {
				if recover() == nil {
					t.Errorf("Path(%q) did not panic", in)
				}
			}()
			Path(in)
		}()
	}
}
