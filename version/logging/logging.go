// Package logging implements a chunk store that delegates everything to a nested store,
// logging operations as they happen.
package logging

import (
	"context"

	"go.uber.org/zap"

	"github.com/bobg/docstore/version"
)

var _ version.Store = &Store{}

type Store struct {
	s   version.Store
	log *zap.Logger
}

func New(s version.Store, log *zap.Logger) *Store {
	return &Store{s: s, log: log}
}

func (s *Store) done(op string, err error, fields ...zap.Field) {
	if err != nil {
		s.log.Error(op, append(fields, zap.Error(err))...)
		return
	}
	s.log.Debug(op, fields...)
}

func (s *Store) Latest(ctx context.Context, docID string) (int64, error) {
	ts, err := s.s.Latest(ctx, docID)
	s.done("Latest", err, zap.String("document", docID), zap.Int64("ts", ts))
	return ts, err
}

func (s *Store) Versions(ctx context.Context, docID string, limit int) ([]int64, error) {
	tss, err := s.s.Versions(ctx, docID, limit)
	s.done("Versions", err, zap.String("document", docID), zap.Int("limit", limit), zap.Int("found", len(tss)))
	return tss, err
}

func (s *Store) LastTimestamp(ctx context.Context, docID string) (int64, error) {
	ts, err := s.s.LastTimestamp(ctx, docID)
	s.done("LastTimestamp", err, zap.String("document", docID), zap.Int64("ts", ts))
	return ts, err
}

func (s *Store) Size(ctx context.Context, docID string, ts int64) (int64, int, error) {
	size, chunks, err := s.s.Size(ctx, docID, ts)
	s.done("Size", err, zap.String("document", docID), zap.Int64("ts", ts), zap.Int64("size", size), zap.Int("chunks", chunks))
	return size, chunks, err
}

func (s *Store) Chunk(ctx context.Context, docID string, ts int64, index int) ([]byte, error) {
	b, err := s.s.Chunk(ctx, docID, ts, index)
	s.done("Chunk", err, zap.String("document", docID), zap.Int64("ts", ts), zap.Int("index", index), zap.Int("len", len(b)))
	return b, err
}

func (s *Store) Chunks(ctx context.Context, docID string, ts int64, f func(int, []byte) error) error {
	var n int
	err := s.s.Chunks(ctx, docID, ts, func(index int, payload []byte) error {
		n++
		return f(index, payload)
	})
	s.done("Chunks", err, zap.String("document", docID), zap.Int64("ts", ts), zap.Int("chunks", n))
	return err
}

func (s *Store) WriteAll(ctx context.Context, docID string, ts int64, buf []byte) (int, error) {
	n, err := s.s.WriteAll(ctx, docID, ts, buf)
	s.done("WriteAll", err, zap.String("document", docID), zap.Int64("ts", ts), zap.Int("len", len(buf)), zap.Int("chunks", n))
	return n, err
}

func (s *Store) WriteChunk(ctx context.Context, docID string, ts int64, index int, payload []byte) error {
	err := s.s.WriteChunk(ctx, docID, ts, index, payload)
	s.done("WriteChunk", err, zap.String("document", docID), zap.Int64("ts", ts), zap.Int("index", index), zap.Int("len", len(payload)))
	return err
}

func (s *Store) WriteTerminal(ctx context.Context, docID string, ts int64, index int) error {
	err := s.s.WriteTerminal(ctx, docID, ts, index)
	s.done("WriteTerminal", err, zap.String("document", docID), zap.Int64("ts", ts), zap.Int("index", index))
	return err
}

func (s *Store) Retain(ctx context.Context, docID string, keep int) (int64, error) {
	deleted, err := s.s.Retain(ctx, docID, keep)
	s.done("Retain", err, zap.String("document", docID), zap.Int("keep", keep), zap.Int64("deleted", deleted))
	return deleted, err
}
