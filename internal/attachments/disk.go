package attachments

import (
	"context"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Disk keeps blobs in a local directory served under baseURL. It stands in
// for object storage in development.
type Disk struct {
	dir     string
	baseURL string
}

func NewDisk(dir, baseURL string) (*Disk, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "create upload dir %s", dir)
	}
	return &Disk{dir: dir, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

func (d *Disk) Dir() string { return d.dir }

func (d *Disk) Put(_ context.Context, name, _ string, r io.Reader) (string, error) {
	key := uuid.NewString() + "-" + name
	f, err := os.Create(filepath.Join(d.dir, key))
	if err != nil {
		return "", errors.Wrap(err, "create blob")
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return "", errors.Wrap(err, "write blob")
	}
	if err := f.Close(); err != nil {
		return "", errors.Wrap(err, "close blob")
	}
	return d.baseURL + "/" + url.PathEscape(key), nil
}
