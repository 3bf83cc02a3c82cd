// Package ragstore implements the RAGRetriever used by the orchestrator's
// turn loop: an embedding cache-aside layer in front of a provider,
// and a tenant-filtered pgvector cosine search with a similarity cutoff.
//
// Grounded on pkg/memory/postgres/semantic_index.go (query shape, pgvector
// usage, pgx.CollectRows scanning) adapted from session/speaker/entity
// filtering to tenant-only filtering with a fixed k and distance cutoff.
package ragstore

import (
	"context"
	"crypto/md5"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	"github.com/redis/go-redis/v9"

	"github.com/MrWong99/glyphoxa/pkg/provider/embeddings"
)

// topK is the fixed number of chunks retrieved per query.
const topK = 3

// similarityThreshold is the minimum cosine similarity a hit must have to be
// kept; chunks below this are considered irrelevant noise. pgvector's <=>
// operator returns cosine distance (1 - similarity), so search converts this
// into the equivalent maximum-distance cutoff.
const similarityThreshold = 0.45

// maxDistance is similarityThreshold expressed as a cosine distance cutoff.
const maxDistance = 1 - similarityThreshold

// embeddingCacheTTL is how long a text's embedding is cached.
const embeddingCacheTTL = 24 * time.Hour

// retrievalTimeout bounds the whole Retrieve call; on timeout or any error,
// Retrieve fails open.
const retrievalTimeout = 1 * time.Second

// Store is the default RAGRetriever implementation.
type Store struct {
	pool       *pgxpool.Pool
	cache      *redis.Client
	embeddings embeddings.Provider
}

// New builds a Store. pool must point at a database with a pgvector-enabled
// "chunks" table carrying a tenant_id column.
func New(pool *pgxpool.Pool, cache *redis.Client, embedder embeddings.Provider) *Store {
	return &Store{pool: pool, cache: cache, embeddings: embedder}
}

// Retrieve implements orchestrator.RAGRetriever. It embeds query (via a
// cache-aside lookup), vector-searches under a tenant_id filter, and joins
// the surviving hits' content with "\n---\n". A cache error is not a failure:
// the query is embedded by the provider instead. Any failure — embedding
// error, database error, or zero surviving hits — returns ok=false.
func (s *Store) Retrieve(ctx context.Context, query, tenantID string) (string, bool) {
	ctx, cancel := context.WithTimeout(ctx, retrievalTimeout)
	defer cancel()

	vec, err := s.embed(ctx, tenantID, query)
	if err != nil {
		return "", false
	}

	hits, err := s.search(ctx, vec, tenantID)
	if err != nil || len(hits) == 0 {
		return "", false
	}

	parts := make([]string, len(hits))
	for i, h := range hits {
		parts[i] = h.Content
	}
	return strings.Join(parts, "\n---\n"), true
}

func (s *Store) embed(ctx context.Context, tenantID, text string) ([]float32, error) {
	key := embeddingCacheKey(tenantID, text)

	if s.cache != nil {
		if raw, err := s.cache.Get(ctx, key).Bytes(); err == nil {
			var vec []float32
			if json.Unmarshal(raw, &vec) == nil {
				return vec, nil
			}
		} else if !errors.Is(err, redis.Nil) {
			// Cache unavailable: fall through to the provider rather than fail.
		}
	}

	vec, err := s.embeddings.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("ragstore: embed: %w", err)
	}

	if s.cache != nil {
		if raw, err := json.Marshal(vec); err == nil {
			_ = s.cache.Set(ctx, key, raw, embeddingCacheTTL).Err()
		}
	}
	return vec, nil
}

// embeddingCacheKey mirrors the original "rag_embedding:<md5>" key shape,
// hashing "<tenant_id>:<trimmed, lowercased query>" so that cache entries
// are tenant-isolated and whitespace/case-insensitive.
func embeddingCacheKey(tenantID, text string) string {
	normalized := tenantID + ":" + strings.ToLower(strings.TrimSpace(text))
	sum := md5.Sum([]byte(normalized))
	return fmt.Sprintf("rag_embedding:%x", sum)
}

type chunkHit struct {
	Content  string
	Distance float64
}

func (s *Store) search(ctx context.Context, embedding []float32, tenantID string) ([]chunkHit, error) {
	queryVec := pgvector.NewVector(embedding)

	const q = `
		SELECT content, embedding <=> $1 AS distance
		FROM   chunks
		WHERE  tenant_id = $2
		ORDER  BY distance
		LIMIT  $3`

	rows, err := s.pool.Query(ctx, q, queryVec, tenantID, topK)
	if err != nil {
		return nil, fmt.Errorf("ragstore: search: %w", err)
	}

	all, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (chunkHit, error) {
		var h chunkHit
		if err := row.Scan(&h.Content, &h.Distance); err != nil {
			return chunkHit{}, err
		}
		return h, nil
	})
	if err != nil {
		return nil, fmt.Errorf("ragstore: scan rows: %w", err)
	}

	out := all[:0]
	for _, h := range all {
		if h.Distance <= maxDistance {
			out = append(out, h)
		}
	}
	return out, nil
}
