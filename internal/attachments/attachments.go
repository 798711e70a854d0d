// Package attachments turns an uploaded blob into message content. Storing
// the bytes is delegated to a BlobStore; only the URL it returns ends up in
// the message.
package attachments

import (
	"bytes"
	"context"
	"io"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/gabriel-vasile/mimetype"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/ageniuscoder/internchat/backend/internal/apperr"
	"github.com/ageniuscoder/internchat/backend/internal/model"
)

// BlobStore persists a blob and returns a URL it can be fetched from.
type BlobStore interface {
	Put(ctx context.Context, name, contentType string, r io.Reader) (url string, err error)
}

type Uploader struct {
	blobs    BlobStore
	maxBytes int64
	log      *logrus.Entry
}

func NewUploader(blobs BlobStore, maxBytes int64, log *logrus.Entry) *Uploader {
	return &Uploader{blobs: blobs, maxBytes: maxBytes, log: log}
}

// Upload stores the blob and returns Image content for image/* blobs and
// File content named after the upload otherwise.
func (u *Uploader) Upload(ctx context.Context, name string, r io.Reader) (model.Content, error) {
	name = cleanName(name)
	data, err := io.ReadAll(io.LimitReader(r, u.maxBytes+1))
	if err != nil {
		return model.Content{}, errors.Wrap(err, "read upload")
	}
	if len(data) == 0 {
		return model.Content{}, errors.Wrap(apperr.ErrInvalidContent, "empty upload")
	}
	if int64(len(data)) > u.maxBytes {
		return model.Content{}, errors.Wrapf(apperr.ErrInvalidContent, "upload exceeds %s", humanize.Bytes(uint64(u.maxBytes)))
	}

	mt := mimetype.Detect(data)
	if filepath.Ext(name) == "" {
		name += mt.Extension()
	}
	url, err := u.blobs.Put(ctx, name, mt.String(), bytes.NewReader(data))
	if err != nil {
		return model.Content{}, apperr.Unavailable(err, "store upload")
	}

	u.log.WithFields(logrus.Fields{
		"name": name,
		"mime": mt.String(),
		"size": humanize.Bytes(uint64(len(data))),
	}).Info("attachment stored")

	if strings.HasPrefix(mt.String(), "image/") {
		return model.Image(url), nil
	}
	return model.File(url, name), nil
}

func cleanName(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	name = strings.Map(func(r rune) rune {
		if r == '|' || r < 0x20 {
			return '_'
		}
		return r
	}, name)
	if name == "." || name == "/" || name == "" {
		return "upload"
	}
	return name
}
