package security

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeFilename(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"traversal", "../../../etc/passwd", "......etcpasswd"},
		{"reserved", "CON.txt", "_CON.txt"},
		{"empty", "", "file"},
		{"windows_slashes", "..\\..\\x", "....x"},
		{"trims_dots_and_spaces", "  name.  ", "name"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, SanitizeFilename(tc.in, 200))
		})
	}
}

func TestSanitizeFilenameTruncatesPreservingExtension(t *testing.T) {
	long := ""
	for i := 0; i < 1000; i++ {
		long += "a"
	}
	got := SanitizeFilename(long+".jpg", 50)
	assert.LessOrEqual(t, len(got), 50)
	assert.Contains(t, got, ".jpg")
}

func TestJoinUnderRejectsEscape(t *testing.T) {
	base := t.TempDir()

	_, err := JoinUnder(base, "../../etc/passwd")
	require.ErrorIs(t, err, ErrPathEscape)

	_, err = JoinUnder(base, "a", "..", "..", "b")
	require.Error(t, err)

	ok, err := JoinUnder(base, "Safe", "123_tag.jpg")
	require.NoError(t, err)
	assert.Contains(t, ok, base)
}

func TestURLValidatorScenarioS3(t *testing.T) {
	v := NewURLValidator([]string{"https"}, []string{"service.example", "files.service.example"})
	v.ResolveDNS = false

	assert.True(t, v.Validate("https://files.service.example/a.jpg"))
	assert.False(t, v.Validate("http://files.service.example/a.jpg"))
	assert.False(t, v.Validate("https://127.0.0.1/a.jpg"))
}

func TestURLValidatorBlockedPort(t *testing.T) {
	v := NewURLValidator([]string{"https"}, []string{"api.service.example"})
	v.ResolveDNS = false
	assert.False(t, v.Validate("https://api.service.example:22/"))
}

func TestURLValidatorRejectsUnlistedHost(t *testing.T) {
	v := NewURLValidator([]string{"https"}, []string{"service.example"})
	v.ResolveDNS = false
	assert.False(t, v.Validate("https://evil.example/"))
}

func TestURLValidatorSubdomainAllowed(t *testing.T) {
	v := NewURLValidator([]string{"https"}, []string{"service.example"})
	v.ResolveDNS = false
	assert.True(t, v.Validate("https://cdn.service.example/x.jpg"))
}
