// Package vectorstore adds an optional Milvus-backed durability layer on
// top of the Embedding Provider's in-memory cache, so a long-running
// chatgate process can persist embeddings across restarts instead of
// re-embedding every message on every search.
//
// This is a domain-stack extension (SPEC_FULL.md §3): the teacher's
// milvus-sdk-go/v2 dependency is declared but never imported, and
// search_manager.py's cache is purely in-process, so there is no
// original-source behavior to match here beyond "durable embedding
// cache" — gated entirely behind search_modes[].options.vector_store
// being present in configuration.
package vectorstore

import (
	"context"
	"fmt"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"

	"github.com/rakunlabs/chatgate/internal/errs"
)

// Store persists (text -> embedding) pairs in a Milvus collection.
type Store struct {
	client     client.Client
	collection string
}

// Connect dials addr and ensures collection exists with the given vector
// dimension, creating it if absent.
func Connect(ctx context.Context, addr, collection string, dimension int) (*Store, error) {
	c, err := client.NewClient(ctx, client.Config{Address: addr})
	if err != nil {
		return nil, errs.Wrap(errs.KindBackendError, "connect to milvus", err)
	}

	has, err := c.HasCollection(ctx, collection)
	if err != nil {
		return nil, errs.Wrap(errs.KindBackendError, "check milvus collection", err)
	}
	if !has {
		schema := &entity.Schema{
			CollectionName: collection,
			Fields: []*entity.Field{
				{Name: "text_hash", DataType: entity.FieldTypeVarChar, PrimaryKey: true, TypeParams: map[string]string{"max_length": "128"}},
				{Name: "embedding", DataType: entity.FieldTypeFloatVector, TypeParams: map[string]string{"dim": fmt.Sprintf("%d", dimension)}},
			},
		}
		if err := c.CreateCollection(ctx, schema, 1); err != nil {
			return nil, errs.Wrap(errs.KindBackendError, "create milvus collection", err)
		}
	}
	if err := c.LoadCollection(ctx, collection, false); err != nil {
		return nil, errs.Wrap(errs.KindBackendError, "load milvus collection", err)
	}

	return &Store{client: c, collection: collection}, nil
}

// Close releases the underlying Milvus connection.
func (s *Store) Close() error { return s.client.Close() }

// Get returns the stored embedding for textHash, or nil if absent.
func (s *Store) Get(ctx context.Context, textHash string) ([]float32, error) {
	expr := fmt.Sprintf("text_hash == %q", textHash)
	result, err := s.client.Query(ctx, s.collection, nil, expr, []string{"embedding"})
	if err != nil {
		return nil, errs.Wrap(errs.KindBackendError, "query milvus", err)
	}
	for _, col := range result {
		vecCol, ok := col.(*entity.ColumnFloatVector)
		if !ok {
			continue
		}
		if len(vecCol.Data()) > 0 {
			return vecCol.Data()[0], nil
		}
	}
	return nil, nil
}

// Put upserts textHash's embedding.
func (s *Store) Put(ctx context.Context, textHash string, vec []float32) error {
	hashCol := entity.NewColumnVarChar("text_hash", []string{textHash})
	vecCol := entity.NewColumnFloatVector("embedding", len(vec), [][]float32{vec})
	if _, err := s.client.Upsert(ctx, s.collection, "", hashCol, vecCol); err != nil {
		return errs.Wrap(errs.KindBackendError, "upsert milvus row", err)
	}
	return nil
}
