package platform

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateWindowsPathReservedNames(t *testing.T) {
	for _, name := range []string{
		"CON", "PRN", "AUX", "NUL",
		"COM1", "COM2", "COM3", "COM4", "COM5", "COM6", "COM7", "COM8", "COM9",
		"LPT1", "LPT2", "LPT3", "LPT4", "LPT5", "LPT6", "LPT7", "LPT8", "LPT9",
	} {
		err := ValidateWindowsPath(`C:\videos\` + name + `.mp4`)
		require.Error(t, err, name)
		assert.Contains(t, err.Error(), "reserved name", name)

		// Case-insensitive, with or without extension.
		assert.Error(t, ValidateWindowsPath(`C:\videos\`+strings.ToLower(name)))
	}

	assert.NoError(t, ValidateWindowsPath(`C:\videos\CONCERT.mp4`))
	assert.NoError(t, ValidateWindowsPath(`C:\videos\movie.mp4`))
}

func TestValidateWindowsPathReservedCharacters(t *testing.T) {
	for _, p := range []string{
		`C:\videos\a<b.mp4`,
		`C:\videos\a>b.mp4`,
		`C:\videos\a"b.mp4`,
		`C:\videos\a|b.mp4`,
		`C:\videos\a?b.mp4`,
		`C:\videos\a*b.mp4`,
	} {
		assert.Error(t, ValidateWindowsPath(p), p)
	}
}

func TestValidateWindowsPathColonUsage(t *testing.T) {
	// Drive letter colon is fine.
	assert.NoError(t, ValidateWindowsPath(`C:\a\b\d.mp4`))
	// Colon in the server component of a UNC path is fine.
	assert.NoError(t, ValidateWindowsPath(`\\srv:445\share\a.mp4`))
	assert.NoError(t, ValidateWindowsPath(`\\srv\share\a.mp4`))

	// Colon anywhere else is not.
	err := ValidateWindowsPath(`C:\a\b:c\d.mp4`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "colon")

	assert.Error(t, ValidateWindowsPath(`\\srv\share:bad\a.mp4`))
	assert.Error(t, ValidateWindowsPath(`relative:path\a.mp4`))
}

func TestValidateWindowsPathLength(t *testing.T) {
	long := `C:\` + strings.Repeat("a", 300)
	assert.Error(t, ValidateWindowsPath(long))
	assert.NoError(t, ValidateWindowsPath(`\\?\C:\`+strings.Repeat("a", 300)))
}

func TestValidatePosixPath(t *testing.T) {
	assert.NoError(t, ValidatePosixPath("/media/videos/a.mp4"))
	assert.NoError(t, ValidatePosixPath("relative/path.mp4"))

	assert.Error(t, ValidatePosixPath("/media/\x00/a.mp4"))
	assert.Error(t, ValidatePosixPath("/media/../etc/passwd"))
	assert.Error(t, ValidatePosixPath("/"+strings.Repeat("a", posixMaxPath)))

	// A dot-dot inside a name is not a traversal segment.
	assert.NoError(t, ValidatePosixPath("/media/a..b.mp4"))
}

func TestValidatePathRejectsReservedNamesEverywhere(t *testing.T) {
	// The reserved-name and NUL checks hold on every platform, not just
	// Windows: an index full of CON.mp4 is unservable to Windows clients.
	for _, name := range []string{"CON", "PRN", "AUX", "NUL", "COM1", "LPT9"} {
		assert.Error(t, ValidatePath("/media/"+name+".mp4"), name)
	}
	assert.Error(t, ValidatePath("/media/a\x00b.mp4"))
	assert.Error(t, ValidatePath(""))
	assert.NoError(t, ValidatePath("/media/movie.mp4"))
}

func TestNormalizeWindowsPath(t *testing.T) {
	assert.Equal(t, `c:\videos\movie.mp4`, normalizeWindowsPath(`C:/Videos/Movie.MP4`))
	// UNC server and share keep their case; the rest is lowercased.
	assert.Equal(t, `\\Srv\Share\sub\movie.mp4`,
		normalizeWindowsPath(`\\Srv\Share\Sub\Movie.MP4`))
}

func TestPathsEqual(t *testing.T) {
	assert.True(t, PathsEqual("/a/b.mp4", "/a/b.mp4"))
	// Case policy is platform dependent; same-case always matches.
	assert.True(t, PathsEqual("x", "x"))
	assert.False(t, PathsEqual("/a/b.mp4", "/a/c.mp4"))
}
