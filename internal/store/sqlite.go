package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	sqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/sells-group/jobradar/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL
// mode. Connections are capped at one so the session pragmas hold for
// every statement; SQLite serializes writers anyway.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS posts (
	id             TEXT PRIMARY KEY,
	url            TEXT NOT NULL UNIQUE,
	title          TEXT NOT NULL,
	body           TEXT NOT NULL DEFAULT '',
	posted_raw     TEXT NOT NULL DEFAULT '',
	subreddit      TEXT NOT NULL DEFAULT '',
	ingested_at    DATETIME NOT NULL,
	attempts       INTEGER NOT NULL DEFAULT 0,
	last_attempt   DATETIME,
	failed         INTEGER NOT NULL DEFAULT 0,
	failure_reason TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS verdicts (
	id                     TEXT PRIMARY KEY,
	post_id                TEXT NOT NULL REFERENCES posts(id) ON DELETE CASCADE,
	worth_checking         INTEGER NOT NULL DEFAULT 0,
	confidence             REAL NOT NULL DEFAULT 0,
	job_type               TEXT NOT NULL DEFAULT 'unspecified',
	compensation_mentioned INTEGER NOT NULL DEFAULT 0,
	remote_friendly        INTEGER NOT NULL DEFAULT 0,
	experience_level       TEXT NOT NULL DEFAULT 'unspecified',
	red_flags              TEXT NOT NULL DEFAULT '[]',
	key_highlights         TEXT NOT NULL DEFAULT '[]',
	recommendation         TEXT NOT NULL DEFAULT '',
	model                  TEXT NOT NULL DEFAULT '',
	analyzed_at            DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_posts_ingested_at ON posts(ingested_at);
CREATE INDEX IF NOT EXISTS idx_posts_retry ON posts(attempts, last_attempt);
CREATE INDEX IF NOT EXISTS idx_verdicts_post_id ON verdicts(post_id);
CREATE INDEX IF NOT EXISTS idx_verdicts_analyzed_at ON verdicts(analyzed_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const sqlitePostColumns = `id, url, title, body, posted_raw, subreddit, ingested_at, attempts, last_attempt, failed, failure_reason`

func (s *SQLiteStore) Exists(ctx context.Context, url string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM posts WHERE url = ?`, url).Scan(&n)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: exists")
	}
	return n > 0, nil
}

func (s *SQLiteStore) Insert(ctx context.Context, raw model.RawPost) (*model.Post, error) {
	p := &model.Post{
		ID:         uuid.New().String(),
		URL:        raw.URL,
		Title:      raw.Title,
		Body:       raw.Body,
		PostedRaw:  raw.PostedRaw,
		Subreddit:  raw.Subreddit,
		IngestedAt: time.Now().UTC(),
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO posts (id, url, title, body, posted_raw, subreddit, ingested_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.URL, p.Title, p.Body, p.PostedRaw, p.Subreddit, p.IngestedAt,
	)
	if err != nil {
		if isSQLiteUniqueViolation(err) {
			return nil, ErrDuplicateURL
		}
		return nil, eris.Wrap(err, "sqlite: insert post")
	}
	return p, nil
}

func (s *SQLiteStore) RecordAttempt(ctx context.Context, postID string, failed bool, reason string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE posts SET attempts = attempts + 1, last_attempt = ?, failed = ?, failure_reason = ? WHERE id = ?`,
		time.Now().UTC(), failed, reason, postID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: record attempt %s", postID)
	}
	return checkRowsAffected(res, "post", postID)
}

func (s *SQLiteStore) SaveVerdict(ctx context.Context, v *model.Verdict) error {
	if v.ID == "" {
		v.ID = uuid.New().String()
	}
	if v.AnalyzedAt.IsZero() {
		v.AnalyzedAt = time.Now().UTC()
	}

	flagsJSON, err := json.Marshal(v.RedFlags)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal red flags")
	}
	highlightsJSON, err := json.Marshal(v.KeyHighlights)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal highlights")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO verdicts (id, post_id, worth_checking, confidence, job_type,
			compensation_mentioned, remote_friendly, experience_level,
			red_flags, key_highlights, recommendation, model, analyzed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.ID, v.PostID, v.WorthChecking, v.Confidence, string(v.JobType),
		v.CompensationMentioned, v.RemoteFriendly, string(v.ExperienceLevel),
		string(flagsJSON), string(highlightsJSON), v.Recommendation, v.Model, v.AnalyzedAt,
	)
	return eris.Wrapf(err, "sqlite: save verdict for post %s", v.PostID)
}

func (s *SQLiteStore) Unclassified(ctx context.Context, limit int) ([]model.Post, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqlitePostColumns+` FROM posts p
		 WHERE NOT EXISTS (SELECT 1 FROM verdicts v WHERE v.post_id = p.id)
		   AND p.failed = 0
		 ORDER BY p.ingested_at DESC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: unclassified")
	}
	defer rows.Close()
	return collectPosts(rows, "sqlite: unclassified")
}

func (s *SQLiteStore) RetryEligible(ctx context.Context, maxAttempts int, coolDown time.Duration) ([]model.Post, error) {
	cutoff := time.Now().UTC().Add(-coolDown)
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqlitePostColumns+` FROM posts p
		 WHERE NOT EXISTS (SELECT 1 FROM verdicts v WHERE v.post_id = p.id)
		   AND p.attempts < ?
		   AND p.last_attempt IS NOT NULL
		   AND p.last_attempt < ?
		 ORDER BY p.attempts ASC, p.last_attempt ASC`,
		maxAttempts, cutoff,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: retry eligible")
	}
	defer rows.Close()
	return collectPosts(rows, "sqlite: retry eligible")
}

func (s *SQLiteStore) Query(ctx context.Context, f model.Filters) ([]model.AnalyzedPost, error) {
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
	WHERE p.ingested_at > ?
	  AND v.analyzed_at = (SELECT MAX(v2.analyzed_at) FROM verdicts v2 WHERE v2.post_id = p.id)`
	args := []any{since}

	if f.WorthCheckingOnly {
		query += ` AND v.worth_checking = 1`
	}
	if f.MinConfidence > 0 {
		query += ` AND v.confidence >= ?`
		args = append(args, f.MinConfidence)
	}
	if f.RemoteOnly {
		query += ` AND v.remote_friendly = 1`
	}
	if f.CompensationOnly {
		query += ` AND v.compensation_mentioned = 1`
	}
	if f.ExperienceLevel != "" {
		query += ` AND v.experience_level = ?`
		args = append(args, string(f.ExperienceLevel))
	}
	if f.JobType != "" {
		query += ` AND v.job_type = ?`
		args = append(args, string(f.JobType))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query verdicts")
	}
	defer rows.Close()

	var results []model.AnalyzedPost
	for rows.Next() {
		ap, err := scanAnalyzedPost(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, *ap)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: query verdicts iterate")
	}

	results = filterSearch(results, f.SearchTerms)
	rankResults(results, now)
	return paginate(results, f.Offset, f.Limit), nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*model.AnalyzedPost, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqlitePostColumns+` FROM posts WHERE id = ?`, id)
	p, err := scanPost(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get post %s", id)
	}

	v, err := s.latestVerdict(ctx, id)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	return analyzedAt(p, v, now), nil
}

func (s *SQLiteStore) latestVerdict(ctx context.Context, postID string) (*model.Verdict, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, post_id, worth_checking, confidence, job_type, compensation_mentioned,
		        remote_friendly, experience_level, red_flags, key_highlights,
		        recommendation, model, analyzed_at
		 FROM verdicts WHERE post_id = ? ORDER BY analyzed_at DESC LIMIT 1`,
		postID,
	)
	v, err := scanVerdict(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: latest verdict for post %s", postID)
	}
	return v, nil
}

func (s *SQLiteStore) PurgeOlderThan(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-retention)

	// Verdicts cascade via the FK, but delete explicitly so the purge does
	// not depend on the foreign_keys pragma surviving a reconnect.
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM verdicts WHERE post_id IN (SELECT id FROM posts WHERE ingested_at < ?)`,
		cutoff,
	); err != nil {
		return 0, eris.Wrap(err, "sqlite: purge verdicts")
	}

	res, err := s.db.ExecContext(ctx, `DELETE FROM posts WHERE ingested_at < ?`, cutoff)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: purge posts")
	}
	n, err := res.RowsAffected()
	return n, eris.Wrap(err, "sqlite: purge rows affected")
}

func (s *SQLiteStore) Stats(ctx context.Context) (*model.Stats, error) {
	var st model.Stats
	var err error

	if st.TotalPosts, err = s.countRow(ctx, `SELECT COUNT(1) FROM posts`); err != nil {
		return nil, err
	}
	if st.AnalyzedPosts, err = s.countRow(ctx, `SELECT COUNT(DISTINCT post_id) FROM verdicts`); err != nil {
		return nil, err
	}
	if st.WorthChecking, err = s.countRow(ctx, `SELECT COUNT(DISTINCT post_id) FROM verdicts WHERE worth_checking = 1`); err != nil {
		return nil, err
	}
	since := time.Now().UTC().Add(-24 * time.Hour)
	if st.PostsLast24h, err = s.countRow(ctx, `SELECT COUNT(1) FROM posts WHERE ingested_at > ?`, since); err != nil {
		return nil, err
	}
	if st.FailedAnalysis, err = s.countRow(ctx, `SELECT COUNT(1) FROM posts WHERE failed = 1`); err != nil {
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

func (s *SQLiteStore) countRow(ctx context.Context, query string, args ...any) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, eris.Wrap(err, "sqlite: count")
	}
	return n, nil
}

// helpers

func isSQLiteUniqueViolation(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		code := se.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return false
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanPost(row scannable) (*model.Post, error) {
	var p model.Post
	var lastAttempt sql.NullTime

	err := row.Scan(&p.ID, &p.URL, &p.Title, &p.Body, &p.PostedRaw, &p.Subreddit,
		&p.IngestedAt, &p.Attempts, &lastAttempt, &p.Failed, &p.FailureReason)
	if err != nil {
		return nil, err
	}
	if lastAttempt.Valid {
		t := lastAttempt.Time
		p.LastAttemptAt = &t
	}
	return &p, nil
}

func scanVerdict(row scannable) (*model.Verdict, error) {
	var v model.Verdict
	var flagsJSON, highlightsJSON string

	err := row.Scan(&v.ID, &v.PostID, &v.WorthChecking, &v.Confidence, &v.JobType,
		&v.CompensationMentioned, &v.RemoteFriendly, &v.ExperienceLevel,
		&flagsJSON, &highlightsJSON, &v.Recommendation, &v.Model, &v.AnalyzedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(flagsJSON), &v.RedFlags); err != nil {
		return nil, eris.Wrap(err, "unmarshal red flags")
	}
	if err := json.Unmarshal([]byte(highlightsJSON), &v.KeyHighlights); err != nil {
		return nil, eris.Wrap(err, "unmarshal highlights")
	}
	return &v, nil
}

func scanAnalyzedPost(rows *sql.Rows) (*model.AnalyzedPost, error) {
	var ap model.AnalyzedPost
	var v model.Verdict
	var lastAttempt sql.NullTime
	var flagsJSON, highlightsJSON string

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
	if lastAttempt.Valid {
		t := lastAttempt.Time
		ap.LastAttemptAt = &t
	}
	if err := json.Unmarshal([]byte(flagsJSON), &v.RedFlags); err != nil {
		return nil, eris.Wrap(err, "unmarshal red flags")
	}
	if err := json.Unmarshal([]byte(highlightsJSON), &v.KeyHighlights); err != nil {
		return nil, eris.Wrap(err, "unmarshal highlights")
	}
	v.PostID = ap.ID
	ap.Verdict = &v
	return &ap, nil
}

func collectPosts(rows *sql.Rows, op string) ([]model.Post, error) {
	var posts []model.Post
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, eris.Wrap(err, op)
		}
		posts = append(posts, *p)
	}
	return posts, eris.Wrap(rows.Err(), op)
}
