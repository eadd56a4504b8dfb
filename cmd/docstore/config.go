package main

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/bobg/docstore/config"
	"github.com/bobg/docstore/service"
	"github.com/bobg/docstore/shard"
	_ "github.com/bobg/docstore/shard/mem"
	_ "github.com/bobg/docstore/shard/pg"
	_ "github.com/bobg/docstore/shard/sqlite3"
	"github.com/bobg/docstore/template"
	_ "github.com/bobg/docstore/template/file"
	_ "github.com/bobg/docstore/template/gcs"
	_ "github.com/bobg/docstore/template/s3"
)

func serviceFromConfig(ctx context.Context, cfg *config.Config, log *zap.Logger) (*service.Service, error) {
	opener, err := shard.Create(ctx, cfg.StoreType, cfg.StoreConf)
	if err != nil {
		return nil, errors.Wrapf(err, "creating %s-type store", cfg.StoreType)
	}
	templates, err := template.Create(ctx, cfg.TemplateType, cfg.TemplateConf)
	if err != nil {
		return nil, errors.Wrapf(err, "creating %s-type template source", cfg.TemplateType)
	}
	return service.New(opener, service.Options{
		Templates: templates,
		Logger:    log,
		BaseURL:   cfg.BaseURL,
		CacheSize: cfg.CacheSize,
	})
}
