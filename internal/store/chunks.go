package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"cosci/internal/embedding"
	"cosci/internal/logging"
)

// =============================================================================
// PAPER CHUNKS & VECTOR MATCHING
// =============================================================================

// Chunk is one embedded slice of a paper's body text.
type Chunk struct {
	PaperID    string
	ChunkIndex int
	Content    string
	Embedding  []float32
}

// ChunkMatch is one chunk scored against a query embedding.
type ChunkMatch struct {
	PaperID    string
	ChunkIndex int
	Content    string
	Similarity float64
}

// ReplaceChunks deletes a paper's existing chunks and inserts the given set.
// Embeddings are stored as JSON; when sqlite-vec is active the ANN side
// table is kept in sync by rowid.
func (s *Store) ReplaceChunks(ctx context.Context, paperID string, chunks []Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if paperID == "" {
		return fmt.Errorf("paper id is required")
	}

	if len(chunks) > 0 && s.vectorExt {
		if err := s.ensureVecTable(len(chunks[0].Embedding)); err != nil {
			return err
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if s.vecDims > 0 {
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM vec_chunks WHERE rowid IN (SELECT id FROM paper_chunks WHERE paper_id = ?)",
			paperID); err != nil {
			return fmt.Errorf("failed to clear vec chunks: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM paper_chunks WHERE paper_id = ?", paperID); err != nil {
		return fmt.Errorf("failed to clear chunks: %w", err)
	}

	for _, c := range chunks {
		emb, err := json.Marshal(c.Embedding)
		if err != nil {
			return fmt.Errorf("failed to marshal embedding: %w", err)
		}

		res, err := tx.ExecContext(ctx,
			"INSERT INTO paper_chunks (paper_id, chunk_index, content, embedding) VALUES (?, ?, ?, ?)",
			paperID, c.ChunkIndex, c.Content, string(emb))
		if err != nil {
			return fmt.Errorf("failed to insert chunk: %w", err)
		}

		if s.vecDims > 0 && len(c.Embedding) > 0 {
			rowID, err := res.LastInsertId()
			if err != nil {
				return fmt.Errorf("failed to get chunk rowid: %w", err)
			}
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO vec_chunks (rowid, embedding) VALUES (?, ?)",
				rowID, string(emb)); err != nil {
				return fmt.Errorf("failed to insert vec chunk: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit chunks: %w", err)
	}

	logging.StoreDebug("replaced %d chunks for paper %s", len(chunks), paperID)
	return nil
}

// GetChunks returns a paper's chunks in index order. Embeddings are not
// loaded.
func (s *Store) GetChunks(ctx context.Context, paperID string) ([]Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT paper_id, chunk_index, content FROM paper_chunks WHERE paper_id = ? ORDER BY chunk_index",
		paperID)
	if err != nil {
		return nil, fmt.Errorf("failed to get chunks: %w", err)
	}
	defer rows.Close()

	var chunks []Chunk
	for rows.Next() {
		var c Chunk
		if err := rows.Scan(&c.PaperID, &c.ChunkIndex, &c.Content); err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// MatchChunks scores stored chunks against the query embedding and returns
// the best matchCount of them at or above threshold, descending by
// similarity. An optional paperID restricts the scan to one paper.
func (s *Store) MatchChunks(ctx context.Context, queryEmbedding []float32, threshold float64, matchCount int, paperID string) ([]ChunkMatch, error) {
	if len(queryEmbedding) == 0 {
		return nil, fmt.Errorf("query embedding is empty")
	}
	if matchCount <= 0 {
		matchCount = 50
	}

	if s.vectorExt && s.vecDims == len(queryEmbedding) {
		return s.matchChunksVec(ctx, queryEmbedding, threshold, matchCount, paperID)
	}
	return s.matchChunksScan(ctx, queryEmbedding, threshold, matchCount, paperID)
}

// matchChunksVec uses the vec0 virtual table for KNN retrieval.
func (s *Store) matchChunksVec(ctx context.Context, queryEmbedding []float32, threshold float64, matchCount int, paperID string) ([]ChunkMatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	emb, err := json.Marshal(queryEmbedding)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal query embedding: %w", err)
	}

	// vec0 reports cosine distance; similarity = 1 - distance.
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.paper_id, c.chunk_index, c.content, v.distance
		FROM vec_chunks v
		JOIN paper_chunks c ON c.id = v.rowid
		WHERE v.embedding MATCH ? AND k = ?
		ORDER BY v.distance`,
		string(emb), matchCount)
	if err != nil {
		return nil, fmt.Errorf("vec search failed: %w", err)
	}
	defer rows.Close()

	var matches []ChunkMatch
	for rows.Next() {
		var m ChunkMatch
		var distance float64
		if err := rows.Scan(&m.PaperID, &m.ChunkIndex, &m.Content, &distance); err != nil {
			return nil, err
		}
		m.Similarity = 1 - distance
		if m.Similarity < threshold {
			continue
		}
		if paperID != "" && m.PaperID != paperID {
			continue
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

// matchChunksScan is the brute-force fallback: decode every stored embedding
// and rank by cosine similarity.
func (s *Store) matchChunksScan(ctx context.Context, queryEmbedding []float32, threshold float64, matchCount int, paperID string) ([]ChunkMatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := "SELECT paper_id, chunk_index, content, embedding FROM paper_chunks WHERE embedding IS NOT NULL"
	args := []any{}
	if paperID != "" {
		query += " AND paper_id = ?"
		args = append(args, paperID)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("chunk scan failed: %w", err)
	}
	defer rows.Close()

	var matches []ChunkMatch
	for rows.Next() {
		var m ChunkMatch
		var embJSON string
		if err := rows.Scan(&m.PaperID, &m.ChunkIndex, &m.Content, &embJSON); err != nil {
			return nil, err
		}

		var emb []float32
		if err := json.Unmarshal([]byte(embJSON), &emb); err != nil || len(emb) == 0 {
			continue
		}
		sim, err := embedding.CosineSimilarity(queryEmbedding, emb)
		if err != nil {
			continue
		}
		if sim < threshold {
			continue
		}
		m.Similarity = sim
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(matches, func(i, j int) bool {
		return matches[i].Similarity > matches[j].Similarity
	})
	if len(matches) > matchCount {
		matches = matches[:matchCount]
	}
	return matches, nil
}
