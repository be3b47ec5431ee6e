package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/govvens/visitor-tracking/internal/core/domain"
	"github.com/govvens/visitor-tracking/internal/core/port"
	"github.com/govvens/visitor-tracking/internal/repository"
)

const sessionsTable = "tracking.sessions"

var sessionColumns = []string{
	"id",
	"session_key",
	"visitor_id",
	"session_fingerprint",
	"user_agent_hash",
	"user_id",
	"is_authenticated",
	"ip_address",
	"user_agent",
	"client_language",
	"client_timezone",
	"device_type",
	"browser",
	"browser_version",
	"os",
	"country",
	"region",
	"city",
	"latitude",
	"longitude",
	"isp",
	"referrer",
	"entry_url",
	"exit_url",
	"utm_source",
	"utm_medium",
	"utm_campaign",
	"utm_term",
	"is_bot",
	"bot_score",
	"metadata",
	"started_at",
	"last_activity_at",
	"ended_at",
}

// SessionRepository implements port.SessionRepository backed by PostgreSQL.
type SessionRepository struct {
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewSessionRepository constructs a repository backed by any executor that satisfies pgExecutor.
func NewSessionRepository(exec pgExecutor) *SessionRepository {
	return &SessionRepository{
		exec:    exec,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

// WithTx returns a repository instance that executes statements within the supplied transaction.
func (r *SessionRepository) WithTx(tx pgx.Tx) *SessionRepository {
	if tx == nil {
		return r
	}
	return &SessionRepository{exec: tx, builder: r.builder}
}

// Create inserts a session and fills its generated identifier.
func (r *SessionRepository) Create(ctx context.Context, session *domain.Session) error {
	metadata, err := marshalJSON(session.Metadata)
	if err != nil {
		return err
	}

	stmt, args, err := r.builder.Insert(sessionsTable).
		Columns(sessionColumns[1:]...).
		Values(
			session.SessionKey,
			session.VisitorID,
			session.Fingerprint,
			session.UserAgentHash,
			session.UserID,
			session.IsAuthenticated,
			session.IPAddress,
			session.UserAgent,
			session.ClientLanguage,
			session.ClientTimezone,
			string(session.DeviceType),
			session.Browser,
			session.BrowserVersion,
			session.OS,
			session.Country,
			session.Region,
			session.City,
			session.Latitude,
			session.Longitude,
			session.ISP,
			session.Referrer,
			session.EntryURL,
			session.ExitURL,
			session.UTMSource,
			session.UTMMedium,
			session.UTMCampaign,
			session.UTMTerm,
			session.IsBot,
			session.BotScore,
			metadata,
			session.StartedAt,
			session.LastActivityAt,
			session.EndedAt,
		).
		Suffix("RETURNING id").
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert session sql: %w", err)
	}

	if err := r.exec.QueryRow(ctx, stmt, args...).Scan(&session.ID); err != nil {
		if isUniqueViolation(err) {
			return repository.ErrConflict
		}
		return fmt.Errorf("insert session: %w", err)
	}

	return nil
}

// GetByKey fetches a session by its web-session key.
func (r *SessionRepository) GetByKey(ctx context.Context, sessionKey string) (*domain.Session, error) {
	return r.getOne(ctx, squirrel.Eq{"session_key": sessionKey})
}

// GetByID fetches a session by its identifier.
func (r *SessionRepository) GetByID(ctx context.Context, id int64) (*domain.Session, error) {
	return r.getOne(ctx, squirrel.Eq{"id": id})
}

func (r *SessionRepository) getOne(ctx context.Context, where squirrel.Eq) (*domain.Session, error) {
	stmt, args, err := r.builder.
		Select(sessionColumns...).
		From(sessionsTable).
		Where(where).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select session sql: %w", err)
	}

	session, err := scanSession(r.exec.QueryRow(ctx, stmt, args...))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("scan session: %w", err)
	}
	return session, nil
}

// Update writes the dirty fields of changes and refreshes last_activity_at.
func (r *SessionRepository) Update(ctx context.Context, id int64, changes domain.SessionChanges, at time.Time) error {
	query := r.builder.Update(sessionsTable)
	query = setString(query, "visitor_id", changes.VisitorID)
	query = setString(query, "session_fingerprint", changes.Fingerprint)
	query = setString(query, "user_agent_hash", changes.UserAgentHash)
	if changes.UserID != nil {
		query = query.Set("user_id", *changes.UserID)
	}
	if changes.IsAuthenticated != nil {
		query = query.Set("is_authenticated", *changes.IsAuthenticated)
	}
	query = setString(query, "ip_address", changes.IPAddress)
	query = setString(query, "user_agent", changes.UserAgent)
	query = setString(query, "client_language", changes.ClientLanguage)
	query = setString(query, "client_timezone", changes.ClientTimezone)
	if changes.DeviceType != nil {
		query = query.Set("device_type", string(*changes.DeviceType))
	}
	query = setString(query, "browser", changes.Browser)
	query = setString(query, "browser_version", changes.BrowserVersion)
	query = setString(query, "os", changes.OS)
	query = setString(query, "country", changes.Country)
	query = setString(query, "region", changes.Region)
	query = setString(query, "city", changes.City)
	if changes.Latitude != nil {
		query = query.Set("latitude", *changes.Latitude)
	}
	if changes.Longitude != nil {
		query = query.Set("longitude", *changes.Longitude)
	}
	query = setString(query, "isp", changes.ISP)
	query = setString(query, "referrer", changes.Referrer)
	query = setString(query, "entry_url", changes.EntryURL)
	query = setString(query, "exit_url", changes.ExitURL)
	query = setString(query, "utm_source", changes.UTMSource)
	query = setString(query, "utm_medium", changes.UTMMedium)
	query = setString(query, "utm_campaign", changes.UTMCampaign)
	query = setString(query, "utm_term", changes.UTMTerm)
	if changes.IsBot != nil {
		query = query.Set("is_bot", *changes.IsBot)
	}
	if changes.BotScore != nil {
		query = query.Set("bot_score", *changes.BotScore)
	}

	stmt, args, err := query.
		Set("last_activity_at", at).
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update session sql: %w", err)
	}

	tag, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// MarkBot flags the session as automated traffic without touching any other column.
func (r *SessionRepository) MarkBot(ctx context.Context, id int64) error {
	stmt, args, err := r.builder.Update(sessionsTable).
		Set("is_bot", true).
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build mark bot sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, stmt, args...); err != nil {
		return fmt.Errorf("mark session bot: %w", err)
	}
	return nil
}

// Close sets ended_at on an open session. It reports false when the session was already closed.
func (r *SessionRepository) Close(ctx context.Context, id int64, at time.Time) (bool, error) {
	stmt, args, err := r.builder.Update(sessionsTable).
		Set("ended_at", at).
		Where(squirrel.Eq{"id": id}).
		Where("ended_at IS NULL").
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build close session sql: %w", err)
	}

	tag, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return false, fmt.Errorf("close session: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Delete removes the session and, by cascade, its activities.
func (r *SessionRepository) Delete(ctx context.Context, id int64) error {
	stmt, args, err := r.builder.Delete(sessionsTable).
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build delete session sql: %w", err)
	}

	tag, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// List returns a page of sessions matching filter plus the total match count.
func (r *SessionRepository) List(ctx context.Context, filter domain.SessionFilter) ([]domain.Session, int64, error) {
	where := sessionWhere(filter)

	countStmt, countArgs, err := r.builder.Select("COUNT(*)").From(sessionsTable).Where(where).ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build count sessions sql: %w", err)
	}

	var total int64
	if err := r.exec.QueryRow(ctx, countStmt, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count sessions: %w", err)
	}

	order := "started_at DESC"
	if filter.SortAsc {
		order = "started_at ASC"
	}

	query := r.builder.Select(sessionColumns...).From(sessionsTable).Where(where).OrderBy(order)
	if filter.Limit > 0 {
		query = query.Limit(uint64(filter.Limit))
	}
	if filter.Offset > 0 {
		query = query.Offset(uint64(filter.Offset))
	}

	stmt, args, err := query.ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build list sessions sql: %w", err)
	}

	rows, err := r.exec.Query(ctx, stmt, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	sessions := make([]domain.Session, 0)
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, *session)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate sessions: %w", err)
	}

	return sessions, total, nil
}

// Stats aggregates the dashboard counters.
func (r *SessionRepository) Stats(ctx context.Context) (*domain.SessionStats, error) {
	stats := &domain.SessionStats{}

	row := r.exec.QueryRow(ctx, `SELECT
		COUNT(*),
		COUNT(*) FILTER (WHERE is_authenticated),
		COUNT(*) FILTER (WHERE NOT is_authenticated),
		COUNT(*) FILTER (WHERE is_bot)
	FROM tracking.sessions`)
	if err := row.Scan(&stats.Total, &stats.Authenticated, &stats.Anonymous, &stats.Bots); err != nil {
		return nil, fmt.Errorf("scan session totals: %w", err)
	}

	devices, err := r.buckets(ctx, r.builder.
		Select("device_type", "COUNT(*) AS n").
		From(sessionsTable).
		GroupBy("device_type").
		OrderBy("n DESC"))
	if err != nil {
		return nil, fmt.Errorf("session device breakdown: %w", err)
	}
	stats.Devices = devices

	countries, err := r.buckets(ctx, r.builder.
		Select("country", "COUNT(*) AS n").
		From(sessionsTable).
		Where(squirrel.NotEq{"country": ""}).
		GroupBy("country").
		OrderBy("n DESC").
		Limit(10))
	if err != nil {
		return nil, fmt.Errorf("session country breakdown: %w", err)
	}
	stats.TopCountries = countries

	return stats, nil
}

func (r *SessionRepository) buckets(ctx context.Context, query squirrel.SelectBuilder) ([]domain.CountBucket, error) {
	stmt, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build bucket sql: %w", err)
	}
	return queryBuckets(ctx, r.exec, stmt, args)
}

func queryBuckets(ctx context.Context, exec pgExecutor, stmt string, args []any) ([]domain.CountBucket, error) {
	rows, err := exec.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query buckets: %w", err)
	}
	defer rows.Close()

	buckets := make([]domain.CountBucket, 0)
	for rows.Next() {
		var bucket domain.CountBucket
		if err := rows.Scan(&bucket.Key, &bucket.Count); err != nil {
			return nil, fmt.Errorf("scan bucket: %w", err)
		}
		buckets = append(buckets, bucket)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate buckets: %w", err)
	}
	return buckets, nil
}

func sessionWhere(filter domain.SessionFilter) squirrel.And {
	where := squirrel.And{}

	if search := strings.TrimSpace(filter.Search); search != "" {
		pattern := "%" + search + "%"
		where = append(where, squirrel.Or{
			squirrel.ILike{"session_key": pattern},
			squirrel.ILike{"visitor_id": pattern},
			squirrel.ILike{"ip_address": pattern},
		})
	}

	switch filter.Kind {
	case "authenticated":
		where = append(where, squirrel.Eq{"is_authenticated": true})
	case "anonymous":
		where = append(where, squirrel.Eq{"is_authenticated": false})
	case "bot":
		where = append(where, squirrel.Eq{"is_bot": true})
	}

	if filter.DateFrom != nil {
		where = append(where, squirrel.GtOrEq{"started_at": *filter.DateFrom})
	}

	return where
}

func setString(query squirrel.UpdateBuilder, column string, value *string) squirrel.UpdateBuilder {
	if value == nil {
		return query
	}
	return query.Set(column, *value)
}

func scanSession(row pgx.Row) (*domain.Session, error) {
	var (
		session    domain.Session
		userID     sql.NullInt64
		deviceType string
		metadata   []byte
		endedAt    sql.NullTime
	)

	if err := row.Scan(
		&session.ID,
		&session.SessionKey,
		&session.VisitorID,
		&session.Fingerprint,
		&session.UserAgentHash,
		&userID,
		&session.IsAuthenticated,
		&session.IPAddress,
		&session.UserAgent,
		&session.ClientLanguage,
		&session.ClientTimezone,
		&deviceType,
		&session.Browser,
		&session.BrowserVersion,
		&session.OS,
		&session.Country,
		&session.Region,
		&session.City,
		&session.Latitude,
		&session.Longitude,
		&session.ISP,
		&session.Referrer,
		&session.EntryURL,
		&session.ExitURL,
		&session.UTMSource,
		&session.UTMMedium,
		&session.UTMCampaign,
		&session.UTMTerm,
		&session.IsBot,
		&session.BotScore,
		&metadata,
		&session.StartedAt,
		&session.LastActivityAt,
		&endedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}

	session.DeviceType = domain.DeviceType(deviceType)
	if userID.Valid {
		id := userID.Int64
		session.UserID = &id
	}
	if endedAt.Valid {
		ended := endedAt.Time
		session.EndedAt = &ended
	}
	meta, err := unmarshalMap(metadata)
	if err != nil {
		return nil, err
	}
	session.Metadata = meta

	return &session, nil
}

var _ port.SessionRepository = (*SessionRepository)(nil)
