//go:build integration

package rag

import (
	"context"
	"os"
	"testing"
	"time"
)

// TestQdrantSearch_Integration runs the exact-mode Qdrant strategy against a
// live instance and checks it agrees with brute force on a small corpus.
//
// Run with:
//
//	docker run -p 6334:6334 qdrant/qdrant
//	go test -tags=integration -run TestQdrantSearch_Integration ./internal/rag/
func TestQdrantSearch_Integration(t *testing.T) {
	host := os.Getenv("QDRANT_HOST")
	if host == "" {
		host = "localhost"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	qs, err := NewQdrantSearch(ctx, &QdrantConfig{
		Host:       host,
		Collection: "kbase-integration-test",
		Dimension:  2,
		Exact:      true,
	})
	if err != nil {
		t.Fatalf("NewQdrantSearch() failed: %v\n\nEnsure Qdrant is reachable on %s:6334", err, host)
	}
	defer qs.Close()

	remote, err := NewVectorIndex(2, qs)
	if err != nil {
		t.Fatal(err)
	}
	local, err := NewVectorIndex(2, nil)
	if err != nil {
		t.Fatal(err)
	}

	vectors := [][]float32{{0, 0}, {3, 4}, {1, 1}, {-2, 0}}
	for _, v := range vectors {
		if _, err := remote.Insert(ctx, v); err != nil {
			t.Fatalf("remote insert: %v", err)
		}
		if _, err := local.Insert(ctx, v); err != nil {
			t.Fatalf("local insert: %v", err)
		}
	}

	query := []float32{0.5, 0.5}
	want, err := local.Search(ctx, query, 3)
	if err != nil {
		t.Fatal(err)
	}
	got, err := remote.Search(ctx, query, 3)
	if err != nil {
		t.Fatalf("remote search: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("got %d hits, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].Position != want[i].Position {
			t.Errorf("hit %d: position %d, want %d", i, got[i].Position, want[i].Position)
		}
	}

	if err := remote.Reset(ctx); err != nil {
		t.Fatalf("reset: %v", err)
	}
	hits, err := remote.Search(ctx, query, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 0 {
		t.Errorf("want empty result after reset, got %d hits", len(hits))
	}
}
