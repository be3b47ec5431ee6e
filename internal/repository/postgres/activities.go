package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/govvens/visitor-tracking/internal/core/domain"
	"github.com/govvens/visitor-tracking/internal/core/port"
	"github.com/govvens/visitor-tracking/internal/repository"
)

const activitiesTable = "tracking.activities"

var activityColumns = []string{
	"id",
	"session_id",
	"event_type",
	"url",
	"path",
	"view_name",
	"handler",
	"method",
	"status_code",
	"response_time_ms",
	"client_ip",
	"user_agent",
	"country",
	"referrer",
	"query_params",
	"payload",
	"metadata",
	"created_at",
}

// ActivityRepository implements port.ActivityRepository backed by PostgreSQL.
type ActivityRepository struct {
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewActivityRepository constructs a repository backed by any executor that satisfies pgExecutor.
func NewActivityRepository(exec pgExecutor) *ActivityRepository {
	return &ActivityRepository{
		exec:    exec,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

// Create appends an activity row and fills its generated identifier.
func (r *ActivityRepository) Create(ctx context.Context, activity *domain.Activity) error {
	queryParams, err := marshalJSON(activity.QueryParams)
	if err != nil {
		return err
	}
	payload, err := marshalJSON(activity.Payload)
	if err != nil {
		return err
	}
	metadata, err := marshalJSON(activity.Metadata)
	if err != nil {
		return err
	}

	stmt, args, err := r.builder.Insert(activitiesTable).
		Columns(activityColumns[1:]...).
		Values(
			activity.SessionID,
			string(activity.EventType),
			activity.URL,
			activity.Path,
			activity.ViewName,
			activity.Handler,
			activity.Method,
			activity.StatusCode,
			activity.ResponseTimeMS,
			activity.ClientIP,
			activity.UserAgent,
			activity.Country,
			activity.Referrer,
			queryParams,
			payload,
			metadata,
			activity.CreatedAt,
		).
		Suffix("RETURNING id").
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert activity sql: %w", err)
	}

	if err := r.exec.QueryRow(ctx, stmt, args...).Scan(&activity.ID); err != nil {
		return fmt.Errorf("insert activity: %w", err)
	}
	return nil
}

// GetByID fetches one activity.
func (r *ActivityRepository) GetByID(ctx context.Context, id int64) (*domain.Activity, error) {
	stmt, args, err := r.builder.
		Select(activityColumns...).
		From(activitiesTable).
		Where(squirrel.Eq{"id": id}).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select activity sql: %w", err)
	}

	activity, err := scanActivity(r.exec.QueryRow(ctx, stmt, args...))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("scan activity: %w", err)
	}
	return activity, nil
}

// Delete removes one activity.
func (r *ActivityRepository) Delete(ctx context.Context, id int64) error {
	stmt, args, err := r.builder.Delete(activitiesTable).
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build delete activity sql: %w", err)
	}

	tag, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("delete activity: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// List returns a page of activities matching filter plus the total match count.
func (r *ActivityRepository) List(ctx context.Context, filter domain.ActivityFilter) ([]domain.Activity, int64, error) {
	where := activityWhere(filter)

	countStmt, countArgs, err := r.builder.Select("COUNT(*)").From(activitiesTable).Where(where).ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build count activities sql: %w", err)
	}

	var total int64
	if err := r.exec.QueryRow(ctx, countStmt, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count activities: %w", err)
	}

	order := "created_at DESC"
	if filter.SortAsc {
		order = "created_at ASC"
	}

	query := r.builder.Select(activityColumns...).From(activitiesTable).Where(where).OrderBy(order)
	if filter.Limit > 0 {
		query = query.Limit(uint64(filter.Limit))
	}
	if filter.Offset > 0 {
		query = query.Offset(uint64(filter.Offset))
	}

	stmt, args, err := query.ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build list activities sql: %w", err)
	}

	rows, err := r.exec.Query(ctx, stmt, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query activities: %w", err)
	}
	defer rows.Close()

	activities := make([]domain.Activity, 0)
	for rows.Next() {
		activity, err := scanActivity(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan activity: %w", err)
		}
		activities = append(activities, *activity)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate activities: %w", err)
	}

	return activities, total, nil
}

// Stats aggregates activity counters, optionally scoped to one session.
func (r *ActivityRepository) Stats(ctx context.Context, sessionID *int64) (*domain.ActivityStats, error) {
	scope := squirrel.And{}
	if sessionID != nil {
		scope = append(scope, squirrel.Eq{"session_id": *sessionID})
	}

	stmt, args, err := r.builder.
		Select("COUNT(*)", "COALESCE(AVG(response_time_ms), 0)::float8").
		From(activitiesTable).
		Where(scope).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build activity totals sql: %w", err)
	}

	stats := &domain.ActivityStats{}
	if err := r.exec.QueryRow(ctx, stmt, args...).Scan(&stats.Total, &stats.AvgResponseTimeMS); err != nil {
		return nil, fmt.Errorf("scan activity totals: %w", err)
	}

	stmt, args, err = r.builder.
		Select("event_type", "COUNT(*) AS n").
		From(activitiesTable).
		Where(scope).
		GroupBy("event_type").
		OrderBy("n DESC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build event type breakdown sql: %w", err)
	}
	if stats.ByEventType, err = queryBuckets(ctx, r.exec, stmt, args); err != nil {
		return nil, fmt.Errorf("activity event type breakdown: %w", err)
	}

	stmt, args, err = r.builder.
		Select("status_code::text", "COUNT(*) AS n").
		From(activitiesTable).
		Where(scope).
		GroupBy("status_code").
		OrderBy("n DESC").
		Limit(20).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build status code breakdown sql: %w", err)
	}
	if stats.ByStatusCode, err = queryBuckets(ctx, r.exec, stmt, args); err != nil {
		return nil, fmt.Errorf("activity status code breakdown: %w", err)
	}

	return stats, nil
}

func activityWhere(filter domain.ActivityFilter) squirrel.And {
	where := squirrel.And{}

	if search := strings.TrimSpace(filter.Search); search != "" {
		pattern := "%" + search + "%"
		where = append(where, squirrel.Or{
			squirrel.ILike{"path": pattern},
			squirrel.ILike{"url": pattern},
		})
	}
	if filter.EventType != "" {
		where = append(where, squirrel.Eq{"event_type": string(filter.EventType)})
	}
	if filter.StatusCode != nil {
		where = append(where, squirrel.Eq{"status_code": *filter.StatusCode})
	}
	if filter.SessionID != nil {
		where = append(where, squirrel.Eq{"session_id": *filter.SessionID})
	}
	if filter.DateFrom != nil {
		where = append(where, squirrel.GtOrEq{"created_at": *filter.DateFrom})
	}

	return where
}

func scanActivity(row pgx.Row) (*domain.Activity, error) {
	var (
		activity    domain.Activity
		eventType   string
		queryParams []byte
		payload     []byte
		metadata    []byte
	)

	if err := row.Scan(
		&activity.ID,
		&activity.SessionID,
		&eventType,
		&activity.URL,
		&activity.Path,
		&activity.ViewName,
		&activity.Handler,
		&activity.Method,
		&activity.StatusCode,
		&activity.ResponseTimeMS,
		&activity.ClientIP,
		&activity.UserAgent,
		&activity.Country,
		&activity.Referrer,
		&queryParams,
		&payload,
		&metadata,
		&activity.CreatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}

	activity.EventType = domain.EventType(eventType)

	var err error
	if activity.QueryParams, err = unmarshalMap(queryParams); err != nil {
		return nil, err
	}
	if activity.Payload, err = unmarshalAny(payload); err != nil {
		return nil, err
	}
	if activity.Metadata, err = unmarshalMap(metadata); err != nil {
		return nil, err
	}

	return &activity, nil
}

var _ port.ActivityRepository = (*ActivityRepository)(nil)
