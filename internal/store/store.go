// Package store keeps the timeline between runs in a SQLite database: held
// posts, gaps with their per-account coverage, and the tracked range.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/ppiankov/threadline/internal/daterange"
	"github.com/ppiankov/threadline/internal/source"
	"github.com/ppiankov/threadline/internal/timeline"
)

type Store struct {
	db *sql.DB
}

// storedRange is the column form of a daterange.Range.
type storedRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("path is required")
	}

	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	ctx := context.Background()
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) ready() error {
	if s == nil || s.db == nil {
		return errors.New("store is not initialized")
	}
	return nil
}

// SavePosts upserts posts keyed by source and identifier. It returns the
// number of rows written.
func (s *Store) SavePosts(ctx context.Context, posts []source.Post, fetchedAt time.Time) (int, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	if fetchedAt.IsZero() {
		return 0, errors.New("fetched_at is required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}

	written := 0
	for _, p := range posts {
		if err := validatePost(p); err != nil {
			_ = tx.Rollback()
			return 0, err
		}
		author, err := json.Marshal(p.Author)
		if err != nil {
			_ = tx.Rollback()
			return 0, fmt.Errorf("encode author: %w", err)
		}
		var repostedBy sql.NullString
		if p.RepostedBy != nil {
			raw, err := json.Marshal(p.RepostedBy)
			if err != nil {
				_ = tx.Rollback()
				return 0, fmt.Errorf("encode reposted_by: %w", err)
			}
			repostedBy = sql.NullString{String: string(raw), Valid: true}
		}
		attachments := p.Attachments
		if attachments == nil {
			attachments = []source.Attachment{}
		}
		attachmentsJSON, err := json.Marshal(attachments)
		if err != nil {
			_ = tx.Rollback()
			return 0, fmt.Errorf("encode attachments: %w", err)
		}
		var urlVal sql.NullString
		if strings.TrimSpace(p.URL) != "" {
			urlVal = sql.NullString{String: strings.TrimSpace(p.URL), Valid: true}
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO posts (
				source, identifier, channel, posted_at, author, reposted_by, content, url,
				attachments, liked, like_count, reposted, repost_count, cursor, fetched_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(source, identifier) DO UPDATE SET
				channel = excluded.channel,
				posted_at = excluded.posted_at,
				author = excluded.author,
				reposted_by = excluded.reposted_by,
				content = excluded.content,
				url = excluded.url,
				attachments = excluded.attachments,
				liked = excluded.liked,
				like_count = excluded.like_count,
				reposted = excluded.reposted,
				repost_count = excluded.repost_count,
				cursor = excluded.cursor,
				fetched_at = excluded.fetched_at
		`,
			string(p.Source),
			p.Identifier,
			p.Channel,
			formatTime(p.Date),
			string(author),
			repostedBy,
			p.Content,
			urlVal,
			string(attachmentsJSON),
			p.Status.Liked,
			p.Status.LikeCount,
			p.Status.Reposted,
			p.Status.RepostCount,
			p.Cursor,
			formatTime(fetchedAt),
		)
		if err != nil {
			_ = tx.Rollback()
			return 0, fmt.Errorf("save post %s: %w", p.Key(), err)
		}
		written++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit posts: %w", err)
	}
	return written, nil
}

func validatePost(p source.Post) error {
	if strings.TrimSpace(string(p.Source)) == "" {
		return errors.New("source is required")
	}
	if strings.TrimSpace(p.Identifier) == "" {
		return errors.New("identifier is required")
	}
	if p.Date.IsZero() {
		return errors.New("posted_at is required")
	}
	return nil
}

// LoadPosts returns held posts newest first. A non-positive limit returns
// every post.
func (s *Store) LoadPosts(ctx context.Context, limit int) ([]source.Post, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}

	query := `
		SELECT source, identifier, channel, posted_at, author, reposted_by, content, url,
			attachments, liked, like_count, reposted, repost_count, cursor
		FROM posts
		ORDER BY posted_at DESC, source, identifier`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("load posts: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var posts []source.Post
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		posts = append(posts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate posts: %w", err)
	}
	return posts, nil
}

// SaveGaps replaces every stored gap and the tracked range in one
// transaction. A nil span clears it.
func (s *Store) SaveGaps(ctx context.Context, gaps []timeline.GapState, span *daterange.Range) error {
	if err := s.ready(); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM gaps"); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("clear gaps: %w", err)
	}
	for _, g := range gaps {
		serviceIDs := g.ServiceIDs
		if serviceIDs == nil {
			serviceIDs = []source.AccountID{}
		}
		idsJSON, err := json.Marshal(serviceIDs)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("encode service ids: %w", err)
		}
		loaded := make(map[source.AccountID][]storedRange, len(g.Loaded))
		for id, ranges := range g.Loaded {
			for _, r := range ranges {
				loaded[id] = append(loaded[id], storedRange{Start: r.Start, End: r.End})
			}
		}
		loadedJSON, err := json.Marshal(loaded)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("encode loaded ranges: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO gaps (id, range_start, range_end, service_ids, loaded, read_status)
			VALUES (?, ?, ?, ?, ?, ?)
		`,
			g.ID.String(),
			formatTime(g.Range.Start),
			formatTime(g.Range.End),
			string(idsJSON),
			string(loadedJSON),
			int(g.ReadStatus),
		)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("save gap %s: %w", g.ID, err)
		}
	}

	if span == nil {
		err = deleteMeta(ctx, tx, metaSpanStart, metaSpanEnd)
	} else {
		err = setMeta(ctx, tx, metaSpanStart, formatTime(span.Start))
		if err == nil {
			err = setMeta(ctx, tx, metaSpanEnd, formatTime(span.End))
		}
	}
	if err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit gaps: %w", err)
	}
	return nil
}

// LoadGaps returns the stored gaps oldest first and the tracked range, nil
// when none was saved.
func (s *Store) LoadGaps(ctx context.Context) ([]timeline.GapState, *daterange.Range, error) {
	if err := s.ready(); err != nil {
		return nil, nil, err
	}

	gaps, err := queryGaps(ctx, s.db)
	if err != nil {
		return nil, nil, err
	}

	span, err := readSpan(ctx, s.db)
	if err != nil {
		return nil, nil, err
	}
	return gaps, span, nil
}

func queryGaps(ctx context.Context, q execQuerier) ([]timeline.GapState, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, range_start, range_end, service_ids, loaded, read_status
		FROM gaps
		ORDER BY range_start, range_end, id
	`)
	if err != nil {
		return nil, fmt.Errorf("load gaps: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var gaps []timeline.GapState
	for rows.Next() {
		g, err := scanGap(rows)
		if err != nil {
			return nil, err
		}
		gaps = append(gaps, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate gaps: %w", err)
	}
	return gaps, nil
}

func readSpan(ctx context.Context, q execQuerier) (*daterange.Range, error) {
	startStr, okStart, err := getMeta(ctx, q, metaSpanStart)
	if err != nil {
		return nil, err
	}
	endStr, okEnd, err := getMeta(ctx, q, metaSpanEnd)
	if err != nil {
		return nil, err
	}
	if !okStart || !okEnd {
		return nil, nil
	}
	start, err := parseTime(startStr)
	if err != nil {
		return nil, fmt.Errorf("parse span start: %w", err)
	}
	end, err := parseTime(endStr)
	if err != nil {
		return nil, fmt.Errorf("parse span end: %w", err)
	}
	r := daterange.New(start, end)
	return &r, nil
}

// PruneOld deletes posts dated more than retainDays before now and the
// loaded gaps that ended before that cutoff. Gaps that still miss coverage
// are kept whatever their age. The tracked range is moved up to the cutoff,
// or to the oldest unresolved gap below it. Returns the number of posts
// removed.
func (s *Store) PruneOld(ctx context.Context, retainDays int, now time.Time) (int64, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	if retainDays <= 0 {
		return 0, nil
	}
	if now.IsZero() {
		return 0, errors.New("now is required")
	}

	cutoffAt := now.AddDate(0, 0, -retainDays)
	cutoff := formatTime(cutoffAt)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin prune transaction: %w", err)
	}

	res, err := tx.ExecContext(ctx, "DELETE FROM posts WHERE posted_at < ?", cutoff)
	if err != nil {
		_ = tx.Rollback()
		return 0, fmt.Errorf("prune old posts: %w", err)
	}

	gaps, err := queryGaps(ctx, tx)
	if err != nil {
		_ = tx.Rollback()
		return 0, err
	}
	oldestKept := cutoffAt
	for _, g := range gaps {
		if timeline.RestoreGap(g, false).LoadingStatus() != timeline.StatusLoaded {
			if g.Range.Start.Before(oldestKept) {
				oldestKept = g.Range.Start
			}
			continue
		}
		if !g.Range.End.Before(cutoffAt) {
			continue
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM gaps WHERE id = ?", g.ID.String()); err != nil {
			_ = tx.Rollback()
			return 0, fmt.Errorf("prune gap %s: %w", g.ID, err)
		}
	}

	if err := trimSpan(ctx, tx, oldestKept); err != nil {
		_ = tx.Rollback()
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit prune: %w", err)
	}

	n, _ := res.RowsAffected()
	return n, nil
}

// trimSpan moves the start of the tracked range up to start. A range that
// would end up empty is cleared.
func trimSpan(ctx context.Context, tx *sql.Tx, start time.Time) error {
	span, err := readSpan(ctx, tx)
	if err != nil || span == nil || !span.Start.Before(start) {
		return err
	}
	if !start.Before(span.End) {
		return deleteMeta(ctx, tx, metaSpanStart, metaSpanEnd)
	}
	return setMeta(ctx, tx, metaSpanStart, formatTime(start))
}

// SourceStats holds aggregated counts for one network channel.
type SourceStats struct {
	Source   string
	Channel  string
	Total    int
	Liked    int
	Reposts  int
	LastSeen time.Time
}

// GetSourceStats returns per-channel aggregates for posts since the given time.
func (s *Store) GetSourceStats(ctx context.Context, since time.Time) ([]SourceStats, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT source, channel,
			COUNT(*) AS total,
			SUM(CASE WHEN liked = 1 THEN 1 ELSE 0 END) AS liked,
			SUM(CASE WHEN reposted_by IS NOT NULL THEN 1 ELSE 0 END) AS reposts,
			MAX(posted_at) AS last_seen
		FROM posts
		WHERE posted_at >= ?
		GROUP BY source, channel
		ORDER BY source, channel
	`, formatTime(since))
	if err != nil {
		return nil, fmt.Errorf("get source stats: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var stats []SourceStats
	for rows.Next() {
		var st SourceStats
		var lastSeen string
		if err := rows.Scan(&st.Source, &st.Channel, &st.Total, &st.Liked, &st.Reposts, &lastSeen); err != nil {
			return nil, fmt.Errorf("scan source stats: %w", err)
		}
		st.LastSeen, err = parseTime(lastSeen)
		if err != nil {
			return nil, fmt.Errorf("parse last_seen: %w", err)
		}
		stats = append(stats, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate source stats: %w", err)
	}

	return stats, nil
}

// Counts returns the number of stored posts and gaps.
func (s *Store) Counts(ctx context.Context) (posts, gaps int, err error) {
	if err := s.ready(); err != nil {
		return 0, 0, err
	}
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM posts").Scan(&posts); err != nil {
		return 0, 0, fmt.Errorf("count posts: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM gaps").Scan(&gaps); err != nil {
		return 0, 0, fmt.Errorf("count gaps: %w", err)
	}
	return posts, gaps, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPost(scanner rowScanner) (source.Post, error) {
	var (
		p                   source.Post
		src, postedAt       string
		author, attachments string
		repostedBy, urlVal  sql.NullString
	)

	if err := scanner.Scan(
		&src,
		&p.Identifier,
		&p.Channel,
		&postedAt,
		&author,
		&repostedBy,
		&p.Content,
		&urlVal,
		&attachments,
		&p.Status.Liked,
		&p.Status.LikeCount,
		&p.Status.Reposted,
		&p.Status.RepostCount,
		&p.Cursor,
	); err != nil {
		return source.Post{}, fmt.Errorf("scan post: %w", err)
	}
	p.Source = source.Platform(src)

	var err error
	if p.Date, err = parseTime(postedAt); err != nil {
		return source.Post{}, fmt.Errorf("parse posted_at: %w", err)
	}
	if err := json.Unmarshal([]byte(author), &p.Author); err != nil {
		return source.Post{}, fmt.Errorf("decode author: %w", err)
	}
	if repostedBy.Valid {
		p.RepostedBy = &source.Author{}
		if err := json.Unmarshal([]byte(repostedBy.String), p.RepostedBy); err != nil {
			return source.Post{}, fmt.Errorf("decode reposted_by: %w", err)
		}
	}
	if urlVal.Valid {
		p.URL = urlVal.String
	}
	if attachments != "" && attachments != "[]" {
		if err := json.Unmarshal([]byte(attachments), &p.Attachments); err != nil {
			return source.Post{}, fmt.Errorf("decode attachments: %w", err)
		}
	}
	return p, nil
}

func scanGap(scanner rowScanner) (timeline.GapState, error) {
	var (
		g                   timeline.GapState
		id, start, end      string
		idsJSON, loadedJSON string
		readStatus          int
	)
	if err := scanner.Scan(&id, &start, &end, &idsJSON, &loadedJSON, &readStatus); err != nil {
		return timeline.GapState{}, fmt.Errorf("scan gap: %w", err)
	}

	var err error
	if g.ID, err = uuid.Parse(id); err != nil {
		return timeline.GapState{}, fmt.Errorf("parse gap id: %w", err)
	}
	startAt, err := parseTime(start)
	if err != nil {
		return timeline.GapState{}, fmt.Errorf("parse range_start: %w", err)
	}
	endAt, err := parseTime(end)
	if err != nil {
		return timeline.GapState{}, fmt.Errorf("parse range_end: %w", err)
	}
	g.Range = daterange.New(startAt, endAt)
	g.ReadStatus = timeline.ReadStatus(readStatus)

	if err := json.Unmarshal([]byte(idsJSON), &g.ServiceIDs); err != nil {
		return timeline.GapState{}, fmt.Errorf("decode service ids: %w", err)
	}
	var loaded map[source.AccountID][]storedRange
	if err := json.Unmarshal([]byte(loadedJSON), &loaded); err != nil {
		return timeline.GapState{}, fmt.Errorf("decode loaded ranges: %w", err)
	}
	g.Loaded = make(map[source.AccountID][]daterange.Range, len(loaded))
	for account, ranges := range loaded {
		for _, r := range ranges {
			g.Loaded[account] = append(g.Loaded[account], daterange.New(r.Start, r.End))
		}
	}
	return g, nil
}

// timeLayout has a fixed width so stored timestamps sort as strings.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	if ts, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return ts, nil
	}
	return time.Parse(time.RFC3339, value)
}
