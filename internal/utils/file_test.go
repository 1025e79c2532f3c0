package utils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsImageFile(t *testing.T) {
	tests := map[string]bool{
		"a.jpg":       true,
		"a.JPEG":      true,
		"dir/b.webp":  true,
		"c.tif":       true,
		"notes.txt":   false,
		"noextension": false,
	}
	for name, want := range tests {
		if got := IsImageFile(name); got != want {
			t.Errorf("IsImageFile(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestGenerateOutputFilename(t *testing.T) {
	got := GenerateOutputFilename("/in/photo.png", "/out", "_autocrop", "")
	if got != filepath.Join("/out", "photo_autocrop.png") {
		t.Errorf("unexpected output name %q", got)
	}

	got = GenerateOutputFilename("/in/photo.jpeg", "/out", "", "jpg")
	if got != filepath.Join("/out", "photo.jpg") {
		t.Errorf("unexpected output name %q", got)
	}

	got = GenerateOutputFilename("raw", "", "_x", "")
	if got != "raw_x.jpg" {
		t.Errorf("unexpected output name %q", got)
	}
}

func TestListImageFiles(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "sub")
	require.NoError(t, os.MkdirAll(sub, 0755))

	for _, name := range []string{"b.png", "a.jpg", "skip.txt", filepath.Join("sub", "c.webp")} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0644))
	}

	files, err := ListImageFiles(dir)
	require.NoError(t, err)
	require.Equal(t, []string{
		filepath.Join(dir, "a.jpg"),
		filepath.Join(dir, "b.png"),
		filepath.Join(sub, "c.webp"),
	}, files)
}

func TestListImageFilesSkipsDirs(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "output")
	require.NoError(t, os.MkdirAll(out, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.png"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(out, "a_autocrop.png"), []byte("x"), 0644))

	files, err := ListImageFiles(dir, out)
	require.NoError(t, err)
	require.Equal(t, []string{filepath.Join(dir, "a.png")}, files)

	// The walked root is never skipped, even when it is also the output dir.
	files, err = ListImageFiles(out, out)
	require.NoError(t, err)
	require.Equal(t, []string{filepath.Join(out, "a_autocrop.png")}, files)
}

func TestExists(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "f.png")
	require.NoError(t, os.WriteFile(file, nil, 0644))

	require.True(t, FileExists(file))
	require.False(t, FileExists(dir))
	require.True(t, DirExists(dir))
	require.False(t, DirExists(file))
	require.False(t, FileExists(filepath.Join(dir, "missing")))

	nested := filepath.Join(dir, "a", "b")
	require.NoError(t, EnsureDir(nested))
	require.True(t, DirExists(nested))
}

func TestFormatFileSize(t *testing.T) {
	require.Equal(t, "512 B", FormatFileSize(512))
	require.Equal(t, "1.5 KB", FormatFileSize(1536))
	require.Equal(t, "2.0 MB", FormatFileSize(2*1024*1024))
}
