package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/jobradar/internal/model"
)

// Pool abstracts the subset of pgxpool.Pool the store uses, so tests can
// substitute pgxmock.
type Pool interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// Hot-path statements, prepared on each new connection.
const (
	sqlPostExists = `SELECT COUNT(1) FROM posts WHERE url = $1`
	sqlInsertPost = `INSERT INTO posts (id, url, title, body, posted_raw, subreddit, ingested_at)
	 VALUES ($1, $2, $3, $4, $5, $6, $7)`
	sqlRecordAttempt = `UPDATE posts SET attempts = attempts + 1, last_attempt = $1, failed = $2, failure_reason = $3 WHERE id = $4`
	sqlInsertVerdict = `INSERT INTO verdicts (id, post_id, worth_checking, confidence, job_type,
		compensation_mentioned, remote_friendly, experience_level,
		red_flags, key_highlights, recommendation, model, analyzed_at)
	 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`
)

var preparedStatements = map[string]string{
	"post_exists":    sqlPostExists,
	"insert_post":    sqlInsertPost,
	"record_attempt": sqlRecordAttempt,
	"insert_verdict": sqlInsertVerdict,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	// Apply pool sizing from config with sensible defaults.
	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	// Prepare frequently-used statements on each new connection.
	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS posts (
	id             TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	url            TEXT NOT NULL UNIQUE,
	title          TEXT NOT NULL,
	body           TEXT NOT NULL DEFAULT '',
	posted_raw     TEXT NOT NULL DEFAULT '',
	subreddit      TEXT NOT NULL DEFAULT '',
	ingested_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	attempts       INTEGER NOT NULL DEFAULT 0,
	last_attempt   TIMESTAMPTZ,
	failed         BOOLEAN NOT NULL DEFAULT false,
	failure_reason TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS verdicts (
	id                     TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	post_id                TEXT NOT NULL REFERENCES posts(id) ON DELETE CASCADE,
	worth_checking         BOOLEAN NOT NULL DEFAULT false,
	confidence             DOUBLE PRECISION NOT NULL DEFAULT 0,
	job_type               TEXT NOT NULL DEFAULT 'unspecified',
	compensation_mentioned BOOLEAN NOT NULL DEFAULT false,
	remote_friendly        BOOLEAN NOT NULL DEFAULT false,
	experience_level       TEXT NOT NULL DEFAULT 'unspecified',
	red_flags              JSONB NOT NULL DEFAULT '[]',
	key_highlights         JSONB NOT NULL DEFAULT '[]',
	recommendation         TEXT NOT NULL DEFAULT '',
	model                  TEXT NOT NULL DEFAULT '',
	analyzed_at            TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_posts_ingested_at ON posts(ingested_at);
CREATE INDEX IF NOT EXISTS idx_posts_retry ON posts(attempts, last_attempt);
CREATE INDEX IF NOT EXISTS idx_verdicts_post_id ON verdicts(post_id);
CREATE INDEX IF NOT EXISTS idx_verdicts_analyzed_at ON verdicts(analyzed_at DESC);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) Exists(ctx context.Context, url string) (bool, error) {
	var n int
	if err := s.pool.QueryRow(ctx, sqlPostExists, url).Scan(&n); err != nil {
		return false, eris.Wrap(err, "postgres: exists")
	}
	return n > 0, nil
}

func (s *PostgresStore) Insert(ctx context.Context, raw model.RawPost) (*model.Post, error) {
	p := &model.Post{
		ID:         uuid.New().String(),
		URL:        raw.URL,
		Title:      raw.Title,
		Body:       raw.Body,
		PostedRaw:  raw.PostedRaw,
		Subreddit:  raw.Subreddit,
		IngestedAt: time.Now().UTC(),
	}

	_, err := s.pool.Exec(ctx, sqlInsertPost,
		p.ID, p.URL, p.Title, p.Body, p.PostedRaw, p.Subreddit, p.IngestedAt,
	)
	if err != nil {
		if isPgUniqueViolation(err) {
			return nil, ErrDuplicateURL
		}
		return nil, eris.Wrap(err, "postgres: insert post")
	}
	return p, nil
}

func (s *PostgresStore) RecordAttempt(ctx context.Context, postID string, failed bool, reason string) error {
	tag, err := s.pool.Exec(ctx, sqlRecordAttempt,
		time.Now().UTC(), failed, reason, postID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: record attempt %s", postID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("post not found: %s", postID)
	}
	return nil
}

func (s *PostgresStore) SaveVerdict(ctx context.Context, v *model.Verdict) error {
	if v.ID == "" {
		v.ID = uuid.New().String()
	}
	if v.AnalyzedAt.IsZero() {
		v.AnalyzedAt = time.Now().UTC()
	}

	flagsJSON, err := json.Marshal(v.RedFlags)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal red flags")
	}
	highlightsJSON, err := json.Marshal(v.KeyHighlights)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal highlights")
	}

	_, err = s.pool.Exec(ctx, sqlInsertVerdict,
		v.ID, v.PostID, v.WorthChecking, v.Confidence, string(v.JobType),
		v.CompensationMentioned, v.RemoteFriendly, string(v.ExperienceLevel),
		flagsJSON, highlightsJSON, v.Recommendation, v.Model, v.AnalyzedAt,
	)
	return eris.Wrapf(err, "postgres: save verdict for post %s", v.PostID)
}

const pgPostColumns = `id, url, title, body, posted_raw, subreddit, ingested_at, attempts, last_attempt, failed, failure_reason`

func (s *PostgresStore) Unclassified(ctx context.Context, limit int) ([]model.Post, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+pgPostColumns+` FROM posts p
		 WHERE NOT EXISTS (SELECT 1 FROM verdicts v WHERE v.post_id = p.id)
		   AND p.failed = false
		 ORDER BY p.ingested_at DESC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: unclassified")
	}
	defer rows.Close()
	return collectPgPosts(rows, "postgres: unclassified")
}

func (s *PostgresStore) RetryEligible(ctx context.Context, maxAttempts int, coolDown time.Duration) ([]model.Post, error) {
	cutoff := time.Now().UTC().Add(-coolDown)
	rows, err := s.pool.Query(ctx,
		`SELECT `+pgPostColumns+` FROM posts p
		 WHERE NOT EXISTS (SELECT 1 FROM verdicts v WHERE v.post_id = p.id)
		   AND p.attempts < $1
		   AND p.last_attempt IS NOT NULL
		   AND p.last_attempt < $2
		 ORDER BY p.attempts ASC, p.last_attempt ASC`,
		maxAttempts, cutoff,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: retry eligible")
	}
	defer rows.Close()
	return collectPgPosts(rows, "postgres: retry eligible")
}

func (s *PostgresStore) Query(ctx context.Context, f model.Filters) ([]model.AnalyzedPost, error) {
	f = f.Normalize()
	now := time.Now().UTC()
	since := now.Add(-time.Duration(f.HoursBack) * time.Hour)

	query := `
	SELECT p.id, p.url, p.title, p.body, p.posted_raw, p.subreddit,
	       p.ingested_at, p.attempts, p.last_attempt, p.failed, p.failure_reason,
	       v.id, v.worth_checking, v.confidence, v.job_type, v.compensation_mentioned,
	       v.remote_friendly, v.experience_level, v.red_flags, v.key_highlights,
	       v.recommendation, v.model, v.analyzed_at
	FROM posts p
	JOIN verdicts v ON v.post_id = p.id
	WHERE p.ingested_at > $1
	  AND v.analyzed_at = (SELECT MAX(v2.analyzed_at) FROM verdicts v2 WHERE v2.post_id = p.id)`
	args := []any{since}
	argIdx := 2

	if f.WorthCheckingOnly {
		query += ` AND v.worth_checking = true`
	}
	if f.MinConfidence > 0 {
		query += fmt.Sprintf(` AND v.confidence >= $%d`, argIdx)
		args = append(args, f.MinConfidence)
		argIdx++
	}
	if f.RemoteOnly {
		query += ` AND v.remote_friendly = true`
	}
	if f.CompensationOnly {
		query += ` AND v.compensation_mentioned = true`
	}
	if f.ExperienceLevel != "" {
		query += fmt.Sprintf(` AND v.experience_level = $%d`, argIdx)
		args = append(args, string(f.ExperienceLevel))
		argIdx++
	}
	if f.JobType != "" {
		query += fmt.Sprintf(` AND v.job_type = $%d`, argIdx)
		args = append(args, string(f.JobType))
		argIdx++
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query verdicts")
	}
	defer rows.Close()

	var results []model.AnalyzedPost
	for rows.Next() {
		ap, err := scanPgAnalyzedPost(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, *ap)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: query verdicts iterate")
	}

	results = filterSearch(results, f.SearchTerms)
	rankResults(results, now)
	return paginate(results, f.Offset, f.Limit), nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*model.AnalyzedPost, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+pgPostColumns+` FROM posts WHERE id = $1`, id)
	p, err := scanPgPost(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get post %s", id)
	}

	v, err := s.latestVerdict(ctx, id)
	if err != nil {
		return nil, err
	}
	return analyzedAt(p, v, time.Now().UTC()), nil
}

func (s *PostgresStore) latestVerdict(ctx context.Context, postID string) (*model.Verdict, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, post_id, worth_checking, confidence, job_type, compensation_mentioned,
		        remote_friendly, experience_level, red_flags, key_highlights,
		        recommendation, model, analyzed_at
		 FROM verdicts WHERE post_id = $1 ORDER BY analyzed_at DESC LIMIT 1`,
		postID,
	)
	v, err := scanPgVerdict(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: latest verdict for post %s", postID)
	}
	return v, nil
}

func (s *PostgresStore) PurgeOlderThan(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-retention)
	tag, err := s.pool.Exec(ctx, `DELETE FROM posts WHERE ingested_at < $1`, cutoff)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: purge posts")
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) Stats(ctx context.Context) (*model.Stats, error) {
	var st model.Stats
	var err error

	if st.TotalPosts, err = s.countRow(ctx, `SELECT COUNT(1) FROM posts`); err != nil {
		return nil, err
	}
	if st.AnalyzedPosts, err = s.countRow(ctx, `SELECT COUNT(DISTINCT post_id) FROM verdicts`); err != nil {
		return nil, err
	}
	if st.WorthChecking, err = s.countRow(ctx, `SELECT COUNT(DISTINCT post_id) FROM verdicts WHERE worth_checking = true`); err != nil {
		return nil, err
	}
	since := time.Now().UTC().Add(-24 * time.Hour)
	if st.PostsLast24h, err = s.countRow(ctx, `SELECT COUNT(1) FROM posts WHERE ingested_at > $1`, since); err != nil {
		return nil, err
	}
	if st.FailedAnalysis, err = s.countRow(ctx, `SELECT COUNT(1) FROM posts WHERE failed = true`); err != nil {
		return nil, err
	}

	if st.TotalPosts > 0 {
		st.AnalysisRate = float64(st.AnalyzedPosts) / float64(st.TotalPosts) * 100
	}
	if st.AnalyzedPosts > 0 {
		st.WorthCheckingRate = float64(st.WorthChecking) / float64(st.AnalyzedPosts) * 100
	}
	return &st, nil
}

func (s *PostgresStore) countRow(ctx context.Context, query string, args ...any) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&n); err != nil {
		return 0, eris.Wrap(err, "postgres: count")
	}
	return n, nil
}

// helpers

// 23505 is the SQLSTATE for unique_violation.
func isPgUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func scanPgPost(row pgx.Row) (*model.Post, error) {
	var p model.Post
	var lastAttempt *time.Time

	err := row.Scan(&p.ID, &p.URL, &p.Title, &p.Body, &p.PostedRaw, &p.Subreddit,
		&p.IngestedAt, &p.Attempts, &lastAttempt, &p.Failed, &p.FailureReason)
	if err != nil {
		return nil, err
	}
	p.LastAttemptAt = lastAttempt
	return &p, nil
}

func scanPgVerdict(row pgx.Row) (*model.Verdict, error) {
	var v model.Verdict
	var flagsJSON, highlightsJSON []byte

	err := row.Scan(&v.ID, &v.PostID, &v.WorthChecking, &v.Confidence, &v.JobType,
		&v.CompensationMentioned, &v.RemoteFriendly, &v.ExperienceLevel,
		&flagsJSON, &highlightsJSON, &v.Recommendation, &v.Model, &v.AnalyzedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(flagsJSON, &v.RedFlags); err != nil {
		return nil, eris.Wrap(err, "unmarshal red flags")
	}
	if err := json.Unmarshal(highlightsJSON, &v.KeyHighlights); err != nil {
		return nil, eris.Wrap(err, "unmarshal highlights")
	}
	return &v, nil
}

func scanPgAnalyzedPost(rows pgx.Rows) (*model.AnalyzedPost, error) {
	var ap model.AnalyzedPost
	var v model.Verdict
	var lastAttempt *time.Time
	var flagsJSON, highlightsJSON []byte

	err := rows.Scan(
		&ap.ID, &ap.URL, &ap.Title, &ap.Body, &ap.PostedRaw, &ap.Subreddit,
		&ap.IngestedAt, &ap.Attempts, &lastAttempt, &ap.Failed, &ap.FailureReason,
		&v.ID, &v.WorthChecking, &v.Confidence, &v.JobType, &v.CompensationMentioned,
		&v.RemoteFriendly, &v.ExperienceLevel, &flagsJSON, &highlightsJSON,
		&v.Recommendation, &v.Model, &v.AnalyzedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "scan analyzed post")
	}
	ap.LastAttemptAt = lastAttempt
	if err := json.Unmarshal(flagsJSON, &v.RedFlags); err != nil {
		return nil, eris.Wrap(err, "unmarshal red flags")
	}
	if err := json.Unmarshal(highlightsJSON, &v.KeyHighlights); err != nil {
		return nil, eris.Wrap(err, "unmarshal highlights")
	}
	v.PostID = ap.ID
	ap.Verdict = &v
	return &ap, nil
}

func collectPgPosts(rows pgx.Rows, op string) ([]model.Post, error) {
	var posts []model.Post
	for rows.Next() {
		p, err := scanPgPost(rows)
		if err != nil {
			return nil, eris.Wrap(err, op)
		}
		posts = append(posts, *p)
	}
	return posts, eris.Wrap(rows.Err(), op)
}
