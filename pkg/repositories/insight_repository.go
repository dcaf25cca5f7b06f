package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/edelae/frepi/pkg/database"
	"github.com/edelae/frepi/pkg/models"
)

// InsightRepository provides data access for analysis insights.
type InsightRepository interface {
	// CreateBatch inserts many insights in one round trip.
	CreateBatch(ctx context.Context, insights []*models.AnalysisInsight) error

	// ListBySession returns a session's insights ordered by display priority.
	ListBySession(ctx context.Context, sessionID uuid.UUID) ([]*models.AnalysisInsight, error)

	// DeleteBySession removes all insights for a session. Re-running analysis
	// replaces prior insights rather than appending duplicates.
	DeleteBySession(ctx context.Context, sessionID uuid.UUID) (int64, error)
}

type insightRepository struct {
	db *database.DB
}

// NewInsightRepository creates a new InsightRepository.
func NewInsightRepository(db *database.DB) InsightRepository {
	return &insightRepository{db: db}
}

var _ InsightRepository = (*insightRepository)(nil)

func (r *insightRepository) CreateBatch(ctx context.Context, insights []*models.AnalysisInsight) error {
	if len(insights) == 0 {
		return nil
	}

	query := `
		INSERT INTO analysis_insights (
			id, session_id, insight_type, category, title, description,
			data, confidence_score, display_priority, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	batch := &pgx.Batch{}
	for _, insight := range insights {
		if insight.ID == uuid.Nil {
			insight.ID = uuid.New()
		}
		if insight.CreatedAt.IsZero() {
			insight.CreatedAt = time.Now()
		}

		dataJSON, err := json.Marshal(insight.Data)
		if err != nil {
			return fmt.Errorf("marshal insight data: %w", err)
		}

		batch.Queue(query,
			insight.ID, insight.SessionID, string(insight.InsightType),
			insight.Category, insight.Title, insight.Description,
			dataJSON, insight.ConfidenceScore, insight.DisplayPriority,
			insight.CreatedAt,
		)
	}

	br := r.db.SendBatch(ctx, batch)
	defer br.Close()

	for range insights {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("batch insert insights: %w", err)
		}
	}

	return nil
}

func (r *insightRepository) ListBySession(ctx context.Context, sessionID uuid.UUID) ([]*models.AnalysisInsight, error) {
	query := `
		SELECT id, session_id, insight_type, category, title, description,
		       data, confidence_score, display_priority, created_at
		FROM analysis_insights
		WHERE session_id = $1
		ORDER BY display_priority ASC, created_at ASC`

	rows, err := r.db.Query(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list insights: %w", err)
	}
	defer rows.Close()

	insights := make([]*models.AnalysisInsight, 0)
	for rows.Next() {
		var insight models.AnalysisInsight
		var insightType string
		var dataJSON []byte

		err := rows.Scan(
			&insight.ID, &insight.SessionID, &insightType,
			&insight.Category, &insight.Title, &insight.Description,
			&dataJSON, &insight.ConfidenceScore, &insight.DisplayPriority,
			&insight.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan insight: %w", err)
		}

		insight.InsightType = models.InsightType(insightType)
		if len(dataJSON) > 0 {
			_ = json.Unmarshal(dataJSON, &insight.Data)
		}

		insights = append(insights, &insight)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate insights: %w", err)
	}

	return insights, nil
}

func (r *insightRepository) DeleteBySession(ctx context.Context, sessionID uuid.UUID) (int64, error) {
	result, err := r.db.Exec(ctx,
		`DELETE FROM analysis_insights WHERE session_id = $1`, sessionID)
	if err != nil {
		return 0, fmt.Errorf("delete insights: %w", err)
	}
	return result.RowsAffected(), nil
}
