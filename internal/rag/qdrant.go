package rag

import (
	"context"
	"fmt"

	"github.com/qdrant/go-client/qdrant"
)

// QdrantConfig holds connection parameters for the Qdrant search strategy.
type QdrantConfig struct {
	// Host is the Qdrant server hostname (default: localhost).
	Host string

	// Port is the Qdrant gRPC port (default: 6334).
	Port int

	// Collection is the collection this session owns. It is dropped and
	// recreated on construction and on every Reset.
	Collection string

	// Dimension is the vector size of the collection.
	Dimension uint64

	// APIKey is the optional Qdrant API key for authenticated clusters.
	APIKey string

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool

	// Exact disables HNSW and forces a full scan on every query.
	Exact bool
}

// QdrantSearch is a NearestNeighborSearch backed by a Qdrant collection
// using Euclidean distance. Points are keyed by their numeric position.
//
// Relaxations compared to BruteForce:
//   - without Exact the HNSW graph may miss true neighbors;
//   - at the k boundary, equal-distance vectors may be chosen differently
//     (the returned hits are re-sorted with the position tie-break);
//   - distances are Qdrant's float32 Euclidean scores squared, so they can
//     differ from SquaredL2 in the last bits.
type QdrantSearch struct {
	// client is the underlying Qdrant gRPC client.
	client *qdrant.Client

	// cfg holds the resolved configuration.
	cfg *QdrantConfig
}

// NewQdrantSearch connects to Qdrant and recreates the configured collection
// empty.
func NewQdrantSearch(ctx context.Context, cfg *QdrantConfig) (*QdrantSearch, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}
	if cfg.Collection == "" {
		cfg.Collection = "kbase-session"
	}
	if cfg.Dimension == 0 {
		return nil, Validationf("qdrant: dimension must be positive")
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: failed to create client: %w", err)
	}

	s := &QdrantSearch{client: client, cfg: cfg}
	if err := s.recreateCollection(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	return s, nil
}

// Client exposes the gRPC client for readiness probes.
func (s *QdrantSearch) Client() *qdrant.Client { return s.client }

// recreateCollection drops the collection if present and creates it empty.
func (s *QdrantSearch) recreateCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.cfg.Collection)
	if err != nil {
		return fmt.Errorf("qdrant: failed to check collection existence: %w", err)
	}
	if exists {
		if err := s.client.DeleteCollection(ctx, s.cfg.Collection); err != nil {
			return fmt.Errorf("qdrant: failed to drop collection %q: %w", s.cfg.Collection, err)
		}
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.cfg.Collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     s.cfg.Dimension,
			Distance: qdrant.Distance_Euclid,
		}),
	})
	if err != nil {
		return fmt.Errorf("qdrant: failed to create collection %q: %w", s.cfg.Collection, err)
	}
	return nil
}

// Add upserts vector as the point with id position and waits for it to be
// searchable.
func (s *QdrantSearch) Add(ctx context.Context, position int, vector []float32) error {
	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.cfg.Collection,
		Wait:           qdrant.PtrOf(true),
		Points: []*qdrant.PointStruct{{
			Id:      qdrant.NewIDNum(uint64(position)), //nolint:gosec // positions are non-negative
			Vectors: qdrant.NewVectors(vector...),
		}},
	})
	if err != nil {
		return fmt.Errorf("qdrant: upsert failed: %w", err)
	}
	return nil
}

// Search queries the collection for the k nearest points.
func (s *QdrantSearch) Search(ctx context.Context, query []float32, k int) ([]Hit, error) {
	limit := uint64(k) //nolint:gosec // k is validated positive by VectorIndex
	req := &qdrant.QueryPoints{
		CollectionName: s.cfg.Collection,
		Query:          qdrant.NewQuery(query...),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(false),
	}
	if s.cfg.Exact {
		req.Params = &qdrant.SearchParams{Exact: qdrant.PtrOf(true)}
	}

	results, err := s.client.Query(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("qdrant: search failed: %w", err)
	}

	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		hits = append(hits, Hit{
			Position: int(r.GetId().GetNum()), //nolint:gosec // ids are positions we assigned
			Distance: r.GetScore() * r.GetScore(),
		})
	}
	sortHits(hits)
	return hits, nil
}

// Reset drops and recreates the collection.
func (s *QdrantSearch) Reset(ctx context.Context) error {
	return s.recreateCollection(ctx)
}

// Exact reports whether full-scan search was configured.
func (s *QdrantSearch) Exact() bool { return s.cfg.Exact }

// Close closes the underlying Qdrant gRPC connection.
func (s *QdrantSearch) Close() error {
	return s.client.Close()
}
