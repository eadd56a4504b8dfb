package main

import (
	"context"
	"io"
	"os"

	"github.com/pkg/errors"
)

func (c maincmd) get(ctx context.Context, docID string, _ []string) error {
	content, err := c.s.DocumentContent(ctx, docID)
	if err != nil {
		return errors.Wrapf(err, "getting content of %s", docID)
	}
	defer content.Body.Close()

	_, err = io.Copy(os.Stdout, content.Body)
	return errors.Wrap(err, "writing content to stdout")
}

func (c maincmd) put(ctx context.Context, docID, file string, _ []string) error {
	var (
		r    io.Reader = os.Stdin
		hint int64     = -1
	)
	if file != "" {
		f, err := os.Open(file)
		if err != nil {
			return errors.Wrapf(err, "opening %s", file)
		}
		defer f.Close()

		fi, err := f.Stat()
		if err != nil {
			return errors.Wrapf(err, "statting %s", file)
		}
		r, hint = f, fi.Size()
	}

	err := c.s.UpsertDocumentContent(ctx, docID, r, hint)
	return errors.Wrapf(err, "saving content of %s", docID)
}
