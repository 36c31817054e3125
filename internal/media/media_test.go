package media

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsValidReference(t *testing.T) {
	t.Parallel()

	tests := []struct {
		ref  string
		want bool
	}{
		{"https://www.youtube.com/watch?v=ABCDEFGHIJK", true},
		{"https://youtube.com/watch?v=ABCDEFGHIJK", true},
		{"https://youtu.be/ABCDEFGHIJK", true},
		{"https://WWW.YouTu.be/ABCDEFGHIJK", true},
		{"https://music.youtube.com/watch?v=ABCDEFGHIJK", false},
		{"https://vimeo.com/123", false},
		{"youtube.com/watch?v=ABCDEFGHIJK", false},
		{"not a url", false},
		{"", false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, IsValidReference(tt.ref), tt.ref)
	}
}

func TestDeriveIDNativeForms(t *testing.T) {
	t.Parallel()

	long := DeriveID("https://www.youtube.com/watch?v=ABCDEFGHIJK")
	short := DeriveID("https://youtu.be/ABCDEFGHIJK")

	assert.Equal(t, ID("ABCDEFGHIJK"), long)
	assert.Equal(t, long, short)
	assert.Equal(t, ID("abc-DEF_123"), DeriveID("https://youtube.com/watch?v=abc-DEF_123&t=42"))
	assert.Equal(t, long, DeriveID("https://www.youtube.com/watch?v=ABCDEFGHIJK"), "deterministic")
}

func TestDeriveIDFallsBackToHash(t *testing.T) {
	t.Parallel()

	hexID := regexp.MustCompile(`^[0-9A-F]{8}$`)

	refs := []string{
		"https://www.youtube.com/watch?v=short",
		"https://youtu.be/ABC-DEF_GHI",  // short form only allows alphanumerics
		"https://www.youtube.com/watch", // no v param
		"https://youtu.be/%zz",          // unparseable escape
		"https://www.youtube.com/watch?v=ABCDEFGHIJ!",
	}
	for _, ref := range refs {
		id := DeriveID(ref)
		assert.Regexp(t, hexID, string(id), ref)
		assert.Equal(t, id, DeriveID(ref), "stable for %s", ref)
		assert.Equal(t, HashID(ref), id)
	}
}

func TestHashIDKnownValue(t *testing.T) {
	t.Parallel()

	// sha1("abc") = a9993e36...
	assert.Equal(t, ID("A9993E36"), HashID("abc"))
}
