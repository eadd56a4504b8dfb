package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/pkg/errors"
)

func (c maincmd) create(ctx context.Context, tenantID, name, typ string, _ []string) error {
	created, err := c.s.CreateDocument(ctx, tenantID, name, typ)
	if err != nil {
		return errors.Wrapf(err, "creating %s for tenant %s", name, tenantID)
	}
	fmt.Printf("%s %s\n", created.DocumentID, created.RedirectURL)
	return nil
}

func (c maincmd) list(ctx context.Context, tenantID string, _ []string) error {
	entries, err := c.s.ListDocuments(ctx, tenantID)
	if err != nil {
		return errors.Wrapf(err, "listing documents of tenant %s", tenantID)
	}
	return printJSON(entries)
}

func (c maincmd) delete(ctx context.Context, tenantID, docID string, _ []string) error {
	entries, err := c.s.DeleteDocument(ctx, tenantID, docID)
	if err != nil {
		return errors.Wrapf(err, "deleting document %s", docID)
	}
	return printJSON(entries)
}

func (c maincmd) info(ctx context.Context, docID string, _ []string) error {
	info, err := c.s.DocumentInfo(ctx, docID)
	if err != nil {
		return errors.Wrapf(err, "getting info for %s", docID)
	}
	return printJSON(info)
}

func (c maincmd) sweep(ctx context.Context, tenantID string, _ []string) error {
	deleted, err := c.s.Sweep(ctx, tenantID)
	if err != nil {
		return errors.Wrapf(err, "sweeping tenant %s", tenantID)
	}
	fmt.Printf("removed %d chunk rows\n", deleted)
	return nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return errors.Wrap(enc.Encode(v), "writing JSON to stdout")
}
