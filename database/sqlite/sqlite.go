package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aquilax/shareit/forum"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schema string

// SQLite stores the forum in a single database file. Timestamps are kept as
// unix microseconds. The pool holds one connection, so write transactions
// never interleave.
type SQLite struct {
	db    *sqlx.DB
	clock forum.Clock
}

type Option func(*SQLite)

// WithClock sets the clock used to stamp new posts and comments.
func WithClock(c forum.Clock) Option {
	return func(m *SQLite) {
		m.clock = c
	}
}

func New(opts ...Option) *SQLite {
	m := &SQLite{clock: forum.SystemClock}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *SQLite) Open(database, DSN string) error {
	var err error
	m.db, err = sqlx.Open(database, DSN)
	if err != nil {
		return forum.Unavailable(err)
	}
	m.db.SetMaxOpenConns(1)
	m.db.SetConnMaxLifetime(0)
	if _, err = m.db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return forum.Unavailable(err)
	}
	for _, stmt := range strings.Split(schema, ";\n") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err = m.db.Exec(stmt); err != nil {
			return forum.Unavailable(fmt.Errorf("applying schema: %w", err))
		}
	}
	return nil
}

func (m *SQLite) Close() error {
	if m.db == nil {
		return nil
	}
	return m.db.Close()
}

func (m *SQLite) now() int64 {
	return forum.Timestamp(m.clock()).UnixMicro()
}

func fromMicro(us int64) time.Time {
	return time.UnixMicro(us).UTC()
}

func (m *SQLite) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := m.db.BeginTxx(ctx, nil)
	if err != nil {
		return forum.Unavailable(err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return forum.Unavailable(err)
	}
	return forum.Unavailable(tx.Commit())
}

func exists(ctx context.Context, q sqlx.QueryerContext, query string, args ...interface{}) (bool, error) {
	var n int
	if err := sqlx.GetContext(ctx, q, &n, query, args...); err != nil {
		return false, err
	}
	return n > 0, nil
}

func notFound(err error, kind string, id interface{}) error {
	if errors.Is(err, sql.ErrNoRows) {
		return forum.NotFound(kind, id)
	}
	return forum.Unavailable(err)
}

func (m *SQLite) FindUserByUsername(ctx context.Context, username string) (*forum.User, error) {
	var u forum.User
	err := m.db.GetContext(ctx, &u, "SELECT user_id, username, email, password_hash, karma FROM users WHERE username = ?", username)
	if err != nil {
		return nil, notFound(err, "user", username)
	}
	return &u, nil
}

func (m *SQLite) GetUser(ctx context.Context, id forum.UserID) (*forum.User, error) {
	var u forum.User
	err := m.db.GetContext(ctx, &u, "SELECT user_id, username, email, password_hash, karma FROM users WHERE user_id = ?", id)
	if err != nil {
		return nil, notFound(err, "user", id)
	}
	return &u, nil
}

func (m *SQLite) CreateUser(ctx context.Context, username, email, passwordHash string) (forum.UserID, error) {
	var id int64
	err := m.withTx(ctx, func(tx *sqlx.Tx) error {
		taken, err := exists(ctx, tx, "SELECT count(*) FROM users WHERE username = ?", username)
		if err != nil {
			return err
		}
		if taken {
			return fmt.Errorf("%w: %s", forum.ErrDuplicateUser, username)
		}
		res, err := tx.NamedExecContext(ctx, `INSERT INTO users (
				username,
				email,
				password_hash,
				karma
			) VALUES (
				:username,
				:email,
				:password_hash,
				0
			)`,
			map[string]interface{}{
				"username":      username,
				"email":         email,
				"password_hash": passwordHash,
			})
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	return id, err
}

func (m *SQLite) CreateSubforum(ctx context.Context, name, description string) (forum.SubforumID, error) {
	var id int64
	err := m.withTx(ctx, func(tx *sqlx.Tx) error {
		taken, err := exists(ctx, tx, "SELECT count(*) FROM subforums WHERE name = ?", name)
		if err != nil {
			return err
		}
		if taken {
			return fmt.Errorf("%w: %s", forum.ErrDuplicateSubforum, name)
		}
		res, err := tx.ExecContext(ctx, "INSERT INTO subforums (name, description) VALUES (?, ?)", name, description)
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	return id, err
}

func (m *SQLite) ListSubforums(ctx context.Context) ([]forum.Subforum, error) {
	sl := []forum.Subforum{}
	err := m.db.SelectContext(ctx, &sl, "SELECT subforum_id, name, description FROM subforums ORDER BY subforum_id")
	return sl, forum.Unavailable(err)
}

func (m *SQLite) FindSubforumByName(ctx context.Context, name string) (*forum.Subforum, error) {
	var s forum.Subforum
	err := m.db.GetContext(ctx, &s, "SELECT subforum_id, name, description FROM subforums WHERE name = ?", name)
	if err != nil {
		return nil, notFound(err, "subforum", name)
	}
	return &s, nil
}

func (m *SQLite) Subscribe(ctx context.Context, userID forum.UserID, subforumID forum.SubforumID) error {
	return m.withTx(ctx, func(tx *sqlx.Tx) error {
		if ok, err := exists(ctx, tx, "SELECT count(*) FROM users WHERE user_id = ?", userID); err != nil || !ok {
			return orNotFound(err, "user", userID)
		}
		if ok, err := exists(ctx, tx, "SELECT count(*) FROM subforums WHERE subforum_id = ?", subforumID); err != nil || !ok {
			return orNotFound(err, "subforum", subforumID)
		}
		_, err := tx.ExecContext(ctx, "INSERT INTO subscriptions (user_id, subforum_id) VALUES (?, ?) ON CONFLICT DO NOTHING", userID, subforumID)
		return err
	})
}

func (m *SQLite) ListSubscriptions(ctx context.Context, userID forum.UserID) ([]forum.Subforum, error) {
	if ok, err := exists(ctx, m.db, "SELECT count(*) FROM users WHERE user_id = ?", userID); err != nil || !ok {
		return nil, forum.Unavailable(orNotFound(err, "user", userID))
	}
	sl := []forum.Subforum{}
	err := m.db.SelectContext(ctx, &sl, `SELECT s.subforum_id, s.name, s.description
		FROM subforums s
		JOIN subscriptions ss ON ss.subforum_id = s.subforum_id
		WHERE ss.user_id = ?
		ORDER BY s.subforum_id`, userID)
	return sl, forum.Unavailable(err)
}

// orNotFound returns err when the lookup failed and a not found error when
// it succeeded but matched nothing.
func orNotFound(err error, kind string, id interface{}) error {
	if err != nil {
		return err
	}
	return forum.NotFound(kind, id)
}

type postRow struct {
	ID             forum.PostID     `db:"post_id"`
	AuthorID       forum.UserID     `db:"user_id"`
	SubforumID     forum.SubforumID `db:"subforum_id"`
	Title          string           `db:"title"`
	Body           forum.Text       `db:"content_text"`
	Upvotes        int              `db:"upvotes"`
	CreatedAt      int64            `db:"created_at"`
	AuthorUsername string           `db:"username"`
	SubforumName   string           `db:"subforum_name"`
	UserVote       forum.Vote       `db:"user_vote"`
}

func (r postRow) view() forum.PostView {
	return forum.PostView{
		ID:             r.ID,
		AuthorID:       r.AuthorID,
		AuthorUsername: r.AuthorUsername,
		SubforumID:     r.SubforumID,
		SubforumName:   r.SubforumName,
		Title:          r.Title,
		Body:           r.Body.String(),
		Upvotes:        r.Upvotes,
		UserVote:       r.UserVote,
		CreatedAt:      fromMicro(r.CreatedAt),
	}
}

const selectPosts = `SELECT p.post_id, p.user_id, p.subforum_id, p.title, p.content_text, p.upvotes, p.created_at,
		u.username, s.name AS subforum_name, COALESCE(pv.vote_type, 0) AS user_vote
	FROM posts p
	JOIN users u ON p.user_id = u.user_id
	JOIN subforums s ON p.subforum_id = s.subforum_id
	LEFT JOIN post_votes pv ON p.post_id = pv.post_id AND pv.user_id = ?`

func (m *SQLite) ListPosts(ctx context.Context, filter forum.PostFilter) ([]forum.PostView, error) {
	query := selectPosts
	args := []interface{}{filter.RequesterID}
	if filter.SubforumName != "" {
		if _, err := m.FindSubforumByName(ctx, filter.SubforumName); err != nil {
			return nil, err
		}
		query += " WHERE s.name = ?"
		args = append(args, filter.SubforumName)
	}
	query += " ORDER BY p.created_at DESC, p.post_id DESC"

	var rows []postRow
	if err := m.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, forum.Unavailable(err)
	}
	result := make([]forum.PostView, 0, len(rows))
	for _, r := range rows {
		result = append(result, r.view())
	}
	return result, nil
}

func (m *SQLite) GetPost(ctx context.Context, id forum.PostID, requesterID forum.UserID) (*forum.PostView, error) {
	var r postRow
	if err := m.db.GetContext(ctx, &r, selectPosts+" WHERE p.post_id = ?", requesterID, id); err != nil {
		return nil, notFound(err, "post", id)
	}
	v := r.view()
	return &v, nil
}

func (m *SQLite) CreatePost(ctx context.Context, np forum.NewPost) (forum.PostID, error) {
	var id int64
	err := m.withTx(ctx, func(tx *sqlx.Tx) error {
		if ok, err := exists(ctx, tx, "SELECT count(*) FROM users WHERE user_id = ?", np.AuthorID); err != nil || !ok {
			return orNotFound(err, "user", np.AuthorID)
		}
		if ok, err := exists(ctx, tx, "SELECT count(*) FROM subforums WHERE subforum_id = ?", np.SubforumID); err != nil || !ok {
			return orNotFound(err, "subforum", np.SubforumID)
		}
		res, err := tx.NamedExecContext(ctx, `INSERT INTO posts (
				user_id,
				subforum_id,
				title,
				content_text,
				upvotes,
				created_at
			) VALUES (
				:user_id,
				:subforum_id,
				:title,
				:content_text,
				0,
				:created_at
			)`,
			map[string]interface{}{
				"user_id":      np.AuthorID,
				"subforum_id":  np.SubforumID,
				"title":        np.Title,
				"content_text": np.Body,
				"created_at":   m.now(),
			})
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	return id, err
}

type commentRow struct {
	ID             forum.CommentID  `db:"comment_id"`
	PostID         forum.PostID     `db:"post_id"`
	AuthorID       forum.UserID     `db:"user_id"`
	AuthorUsername string           `db:"username"`
	Body           forum.Text       `db:"content"`
	ParentID       *forum.CommentID `db:"parent_comment_id"`
	CreatedAt      int64            `db:"created_at"`
}

func (m *SQLite) ListComments(ctx context.Context, postID forum.PostID) ([]forum.CommentView, error) {
	if ok, err := exists(ctx, m.db, "SELECT count(*) FROM posts WHERE post_id = ?", postID); err != nil || !ok {
		return nil, forum.Unavailable(orNotFound(err, "post", postID))
	}
	var rows []commentRow
	err := m.db.SelectContext(ctx, &rows, `SELECT c.comment_id, c.post_id, c.user_id, u.username, c.content, c.parent_comment_id, c.created_at
		FROM comments c
		JOIN users u ON c.user_id = u.user_id
		WHERE c.post_id = ?
		ORDER BY c.created_at ASC, c.comment_id ASC`, postID)
	if err != nil {
		return nil, forum.Unavailable(err)
	}
	result := make([]forum.CommentView, 0, len(rows))
	for _, r := range rows {
		result = append(result, forum.CommentView{
			ID:             r.ID,
			PostID:         r.PostID,
			AuthorID:       r.AuthorID,
			AuthorUsername: r.AuthorUsername,
			Body:           r.Body.String(),
			ParentID:       r.ParentID,
			CreatedAt:      fromMicro(r.CreatedAt),
		})
	}
	return result, nil
}

func (m *SQLite) CreateComment(ctx context.Context, nc forum.NewComment) (forum.CommentID, error) {
	var id int64
	err := m.withTx(ctx, func(tx *sqlx.Tx) error {
		if ok, err := exists(ctx, tx, "SELECT count(*) FROM posts WHERE post_id = ?", nc.PostID); err != nil || !ok {
			return orNotFound(err, "post", nc.PostID)
		}
		if ok, err := exists(ctx, tx, "SELECT count(*) FROM users WHERE user_id = ?", nc.AuthorID); err != nil || !ok {
			return orNotFound(err, "user", nc.AuthorID)
		}
		if nc.ParentID != nil {
			var parentPostID forum.PostID
			err := tx.GetContext(ctx, &parentPostID, "SELECT post_id FROM comments WHERE comment_id = ?", *nc.ParentID)
			if errors.Is(err, sql.ErrNoRows) {
				return forum.NotFound("comment", *nc.ParentID)
			}
			if err != nil {
				return err
			}
			if parentPostID != nc.PostID {
				return fmt.Errorf("%w: comment %d", forum.ErrInvalidParent, *nc.ParentID)
			}
		}
		res, err := tx.ExecContext(ctx, `INSERT INTO comments (post_id, user_id, content, parent_comment_id, created_at)
			VALUES (?, ?, ?, ?, ?)`, nc.PostID, nc.AuthorID, nc.Body, nc.ParentID, m.now())
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	return id, err
}

func (m *SQLite) CastVote(ctx context.Context, userID forum.UserID, postID forum.PostID, value forum.Vote) error {
	if err := forum.CheckVote(value); err != nil {
		return err
	}
	return m.withTx(ctx, func(tx *sqlx.Tx) error {
		if ok, err := exists(ctx, tx, "SELECT count(*) FROM users WHERE user_id = ?", userID); err != nil || !ok {
			return orNotFound(err, "user", userID)
		}
		if ok, err := exists(ctx, tx, "SELECT count(*) FROM posts WHERE post_id = ?", postID); err != nil || !ok {
			return orNotFound(err, "post", postID)
		}
		prev := forum.None
		err := tx.GetContext(ctx, &prev, "SELECT vote_type FROM post_votes WHERE user_id = ? AND post_id = ?", userID, postID)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		delta := prev.Delta(value)
		if delta == 0 {
			return nil
		}
		if value == forum.None {
			_, err = tx.ExecContext(ctx, "DELETE FROM post_votes WHERE user_id = ? AND post_id = ?", userID, postID)
		} else {
			_, err = tx.ExecContext(ctx, `INSERT INTO post_votes (user_id, post_id, vote_type) VALUES (?, ?, ?)
				ON CONFLICT (user_id, post_id) DO UPDATE SET vote_type = excluded.vote_type`, userID, postID, value)
		}
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, "UPDATE posts SET upvotes = upvotes + ? WHERE post_id = ?", delta, postID)
		return err
	})
}

func (m *SQLite) ListVotes(ctx context.Context, postID forum.PostID) ([]forum.VoteRecord, error) {
	if ok, err := exists(ctx, m.db, "SELECT count(*) FROM posts WHERE post_id = ?", postID); err != nil || !ok {
		return nil, forum.Unavailable(orNotFound(err, "post", postID))
	}
	vl := []forum.VoteRecord{}
	err := m.db.SelectContext(ctx, &vl, "SELECT user_id, post_id, vote_type FROM post_votes WHERE post_id = ? ORDER BY user_id", postID)
	return vl, forum.Unavailable(err)
}
