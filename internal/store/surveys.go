package store

import (
	"context"
	"fmt"

	"cosci/internal/types"
)

// =============================================================================
// SURVEY RESPONSES
// =============================================================================

// SaveSurveyResponses records one survey submission for a paper.
func (s *Store) SaveSurveyResponses(ctx context.Context, sessionID, paperID string, responses []types.SurveyResponse) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sessionID == "" || paperID == "" {
		return fmt.Errorf("session id and paper id are required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, r := range responses {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO survey_responses (session_id, paper_id, question_id, answer) VALUES (?, ?, ?, ?)",
			sessionID, paperID, r.QuestionID, r.Answer); err != nil {
			return fmt.Errorf("failed to insert survey response: %w", err)
		}
	}

	return tx.Commit()
}

// GetSurveyResponses returns a session's responses for one paper.
func (s *Store) GetSurveyResponses(ctx context.Context, sessionID, paperID string) ([]types.SurveyResponse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT question_id, answer FROM survey_responses WHERE session_id = ? AND paper_id = ? ORDER BY id",
		sessionID, paperID)
	if err != nil {
		return nil, fmt.Errorf("failed to get survey responses: %w", err)
	}
	defer rows.Close()

	var responses []types.SurveyResponse
	for rows.Next() {
		var r types.SurveyResponse
		if err := rows.Scan(&r.QuestionID, &r.Answer); err != nil {
			return nil, err
		}
		responses = append(responses, r)
	}
	return responses, rows.Err()
}

// RecentSurveyedPaperIDs returns the distinct papers a session surveyed,
// most recent first.
func (s *Store) RecentSurveyedPaperIDs(ctx context.Context, sessionID string, limit int) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 5
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT paper_id FROM survey_responses
		WHERE session_id = ?
		GROUP BY paper_id
		ORDER BY MAX(created_at) DESC, MAX(id) DESC
		LIMIT ?`,
		sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get surveyed papers: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
