package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"cosci/internal/logging"
	"cosci/internal/types"
)

// =============================================================================
// PAPERS
// =============================================================================

// ListOptions filters and pages ListPapers.
type ListOptions struct {
	Tag    string
	SortBy string // "created_at" (default) or "vote_count"
	Limit  int
	Offset int
}

// UpsertPaper inserts or replaces a paper row. Chunks are managed separately
// via ReplaceChunks.
func (s *Store) UpsertPaper(ctx context.Context, p types.Paper) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.ID == "" {
		return fmt.Errorf("paper id is required")
	}

	authors, err := json.Marshal(p.Authors)
	if err != nil {
		return fmt.Errorf("failed to marshal authors: %w", err)
	}
	tags, err := json.Marshal(p.Tags)
	if err != nil {
		return fmt.Errorf("failed to marshal tags: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO papers (id, title, authors, abstract, tags, vote_count)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			authors = excluded.authors,
			abstract = excluded.abstract,
			tags = excluded.tags`,
		p.ID, p.Title, string(authors), p.Abstract, string(tags), p.VoteCount)
	if err != nil {
		return fmt.Errorf("failed to upsert paper: %w", err)
	}

	logging.StoreDebug("upserted paper %s", p.ID)
	return nil
}

func scanPaper(scan func(dest ...any) error) (types.Paper, error) {
	var p types.Paper
	var authors, tags string
	var createdAt sql.NullTime
	var deletedAt sql.NullTime

	if err := scan(&p.ID, &p.Title, &authors, &p.Abstract, &tags, &p.VoteCount, &createdAt, &deletedAt); err != nil {
		return p, err
	}
	if err := json.Unmarshal([]byte(authors), &p.Authors); err != nil {
		p.Authors = nil
	}
	if err := json.Unmarshal([]byte(tags), &p.Tags); err != nil {
		p.Tags = nil
	}
	if createdAt.Valid {
		p.CreatedAt = createdAt.Time
	}
	if deletedAt.Valid {
		t := deletedAt.Time
		p.DeletedAt = &t
	}
	return p, nil
}

const paperColumns = "id, title, authors, abstract, tags, vote_count, created_at, deleted_at"

// GetPaper fetches one paper by ID. Returns sql.ErrNoRows for unknown or
// deleted papers.
func (s *Store) GetPaper(ctx context.Context, id string) (types.Paper, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		"SELECT "+paperColumns+" FROM papers WHERE id = ? AND deleted_at IS NULL", id)
	return scanPaper(row.Scan)
}

// ListPapers returns papers matching the options, newest first by default.
func (s *Store) ListPapers(ctx context.Context, opts ListOptions) ([]types.Paper, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := "SELECT " + paperColumns + " FROM papers WHERE deleted_at IS NULL"
	args := []any{}

	if opts.Tag != "" {
		// Tags are stored as a JSON array of strings.
		query += " AND tags LIKE ?"
		args = append(args, `%"`+opts.Tag+`"%`)
	}

	switch opts.SortBy {
	case "vote_count":
		query += " ORDER BY vote_count DESC, created_at DESC"
	default:
		query += " ORDER BY created_at DESC"
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	query += " LIMIT ? OFFSET ?"
	args = append(args, limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list papers: %w", err)
	}
	defer rows.Close()

	var papers []types.Paper
	for rows.Next() {
		p, err := scanPaper(rows.Scan)
		if err != nil {
			return nil, err
		}
		papers = append(papers, p)
	}
	return papers, rows.Err()
}

// DeletePaper soft-deletes a paper.
func (s *Store) DeletePaper(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		"UPDATE papers SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL",
		time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to delete paper: %w", err)
	}
	return nil
}

// KeywordSearch returns live papers whose title, abstract, or author list
// contains the query, most recent first.
func (s *Store) KeywordSearch(ctx context.Context, query string, limit int, paperID string) ([]types.Paper, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if strings.TrimSpace(query) == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}

	pattern := "%" + strings.TrimSpace(query) + "%"
	sqlQuery := "SELECT " + paperColumns + ` FROM papers
		WHERE deleted_at IS NULL
		AND (title LIKE ? COLLATE NOCASE OR abstract LIKE ? COLLATE NOCASE OR authors LIKE ? COLLATE NOCASE)`
	args := []any{pattern, pattern, pattern}

	if paperID != "" {
		sqlQuery += " AND id = ?"
		args = append(args, paperID)
	}
	sqlQuery += " ORDER BY created_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("keyword search failed: %w", err)
	}
	defer rows.Close()

	var papers []types.Paper
	for rows.Next() {
		p, err := scanPaper(rows.Scan)
		if err != nil {
			return nil, err
		}
		papers = append(papers, p)
	}
	return papers, rows.Err()
}

// =============================================================================
// VOTES
// =============================================================================

// AddVote increments a paper's vote count.
func (s *Store) AddVote(ctx context.Context, paperID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		"UPDATE papers SET vote_count = vote_count + 1 WHERE id = ? AND deleted_at IS NULL", paperID)
	if err != nil {
		return fmt.Errorf("failed to add vote: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// PopularPapers returns live papers ordered by vote count.
func (s *Store) PopularPapers(ctx context.Context, limit int) ([]types.Paper, error) {
	return s.ListPapers(ctx, ListOptions{SortBy: "vote_count", Limit: limit})
}
