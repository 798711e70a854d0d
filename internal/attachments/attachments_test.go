package attachments

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ageniuscoder/internchat/backend/internal/apperr"
	"github.com/ageniuscoder/internchat/backend/internal/logging"
	"github.com/ageniuscoder/internchat/backend/internal/model"
)

// 1x1 transparent PNG
var pixel = []byte{
	0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a, 0x00, 0x00, 0x00, 0x0d,
	0x49, 0x48, 0x44, 0x52, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01,
	0x08, 0x06, 0x00, 0x00, 0x00, 0x1f, 0x15, 0xc4, 0x89, 0x00, 0x00, 0x00,
	0x0a, 0x49, 0x44, 0x41, 0x54, 0x78, 0x9c, 0x63, 0x00, 0x01, 0x00, 0x00,
	0x05, 0x00, 0x01, 0x0d, 0x0a, 0x2d, 0xb4, 0x00, 0x00, 0x00, 0x00, 0x49,
	0x45, 0x4e, 0x44, 0xae, 0x42, 0x60, 0x82,
}

func newUploader(t *testing.T, max int64) (*Uploader, string) {
	dir := t.TempDir()
	disk, err := NewDisk(dir, "http://localhost:8080/files/")
	require.NoError(t, err)
	return NewUploader(disk, max, logging.Discard()), dir
}

func TestImageUploadBecomesImageContent(t *testing.T) {
	u, dir := newUploader(t, 1<<20)

	c, err := u.Upload(context.Background(), "avatar", bytes.NewReader(pixel))
	require.NoError(t, err)
	assert.Equal(t, model.KindImage, c.Kind)
	assert.True(t, strings.HasPrefix(c.URL, "http://localhost:8080/files/"))
	assert.True(t, strings.HasSuffix(c.URL, "-avatar.png"))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	stored, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	require.NoError(t, err)
	assert.Equal(t, pixel, stored)
}

func TestOtherUploadBecomesFileContent(t *testing.T) {
	u, _ := newUploader(t, 1<<20)

	c, err := u.Upload(context.Background(), "../notes|v2.txt", strings.NewReader("meeting at ten\n"))
	require.NoError(t, err)
	assert.Equal(t, model.KindFile, c.Kind)
	assert.Equal(t, "notes_v2.txt", c.Name)
	assert.Equal(t, c, model.ParseContent(c.String()))
}

func TestUploadLimits(t *testing.T) {
	u, _ := newUploader(t, 4)

	_, err := u.Upload(context.Background(), "big.txt", strings.NewReader("12345"))
	assert.True(t, errors.Is(err, apperr.ErrInvalidContent))

	_, err = u.Upload(context.Background(), "empty.txt", strings.NewReader(""))
	assert.True(t, errors.Is(err, apperr.ErrInvalidContent))
}
