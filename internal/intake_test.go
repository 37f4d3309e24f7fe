package formrelay

import (
	"bytes"
	"context"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fileHeader(t *testing.T, name string, content []byte) *multipart.FileHeader {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("resume", name)
	require.NoError(t, err)
	_, err = fw.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	require.NoError(t, req.ParseMultipartForm(32<<20))

	_, fh, err := req.FormFile("resume")
	require.NoError(t, err)
	return fh
}

func dirEntries(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestIntake_Validate(t *testing.T) {
	in := NewIntake(t.TempDir(), 0)

	cases := []struct {
		name    string
		size    int64
		wantErr any
	}{
		{"cv.pdf", 10, nil},
		{"CV.PDF", 10, nil},
		{"letter.doc", 10, nil},
		{"letter.docx", DefaultMaxUploadBytes, nil},
		{"tool.exe", 10, &ValidationError{}},
		{"noext", 10, &ValidationError{}},
		{"big.pdf", DefaultMaxUploadBytes + 1, &SizeLimitError{}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := in.Validate(tc.name, tc.size)
			if tc.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.IsType(t, tc.wantErr, err)
		})
	}
}

func TestIntake_AcceptPersistsAndReleases(t *testing.T) {
	dir := t.TempDir()
	in := NewIntake(dir, 1024)

	up, err := in.Accept(fileHeader(t, "My Resume.pdf", []byte("%PDF-1.4 hello")))
	require.NoError(t, err)

	assert.Equal(t, "My Resume.pdf", up.OriginalName)
	assert.Equal(t, int64(len("%PDF-1.4 hello")), up.Size)
	assert.Equal(t, dir, filepath.Dir(up.Path))
	assert.True(t, strings.HasSuffix(up.Path, "-My_Resume.pdf"), up.Path)

	data, err := os.ReadFile(up.Path)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4 hello", string(data))

	up.Release(context.Background())
	assert.Empty(t, dirEntries(t, dir))

	// second release is a no-op
	up.Release(context.Background())
}

func TestIntake_AcceptRejectsBeforeWriting(t *testing.T) {
	dir := t.TempDir()
	in := NewIntake(dir, 8)

	_, err := in.Accept(fileHeader(t, "payload.exe", []byte("MZ")))
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, CodeInvalidFileType, verr.Code)

	_, err = in.Accept(fileHeader(t, "big.pdf", []byte("0123456789")))
	var serr *SizeLimitError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, int64(8), serr.Limit)

	assert.Empty(t, dirEntries(t, dir))
}

func TestIntake_EnsureDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "uploads")
	in := NewIntake(dir, 0)

	require.NoError(t, in.EnsureDir())
	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.Equal(t, DefaultMaxUploadBytes, in.MaxBytes())
}

func TestSanitizeFilename(t *testing.T) {
	assert.Equal(t, "cv.pdf", sanitizeFilename("cv.pdf"))
	assert.Equal(t, "evil.pdf", sanitizeFilename("../../etc/evil.pdf"))
	assert.Equal(t, "x.pdf", sanitizeFilename(`C:\Users\me\x.pdf`))
	assert.Equal(t, "r_sum_.docx", sanitizeFilename("résumé.docx"))
}

func TestUpload_ReleaseNil(t *testing.T) {
	var up *Upload
	up.Release(context.Background())
}
