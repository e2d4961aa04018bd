package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/aquilax/shareit/forum"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

//go:embed schema.sql
var schema string

// Postgres writes through the shareit_* stored functions in schema.sql and
// reads with plain joins. Each function call runs in its own implicit
// transaction.
type Postgres struct {
	db *sqlx.DB
}

func New() *Postgres {
	return &Postgres{}
}

// NewFromDB wraps an already opened handle. The schema is not applied.
func NewFromDB(db *sqlx.DB) *Postgres {
	return &Postgres{db: db}
}

func (m *Postgres) Open(database, DSN string) error {
	var err error
	m.db, err = sqlx.Open(database, DSN)
	if err != nil {
		return forum.Unavailable(err)
	}
	if err = m.db.Ping(); err != nil {
		return forum.Unavailable(err)
	}
	if _, err = m.db.Exec(schema); err != nil {
		return forum.Unavailable(fmt.Errorf("applying schema: %w", err))
	}
	return nil
}

func (m *Postgres) Close() error {
	if m.db == nil {
		return nil
	}
	return m.db.Close()
}

// mapError translates the SQLSTATEs raised by the stored functions into the
// forum error kinds.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23505":
			switch pqErr.Constraint {
			case "users_username_key":
				return fmt.Errorf("%w: %s", forum.ErrDuplicateUser, pqErr.Detail)
			case "subforums_name_key":
				return fmt.Errorf("%w: %s", forum.ErrDuplicateSubforum, pqErr.Detail)
			}
		case "P0002", "23503":
			return fmt.Errorf("%w: %s", forum.ErrNotFound, pqErr.Message)
		case "SF001":
			return fmt.Errorf("%w: %s", forum.ErrInvalidParent, pqErr.Message)
		case "SF002":
			return fmt.Errorf("%w: %s", forum.ErrInvalidVoteValue, pqErr.Message)
		}
	}
	return forum.Unavailable(err)
}

func notFound(err error, kind string, id interface{}) error {
	if errors.Is(err, sql.ErrNoRows) {
		return forum.NotFound(kind, id)
	}
	return mapError(err)
}

func (m *Postgres) FindUserByUsername(ctx context.Context, username string) (*forum.User, error) {
	var u forum.User
	err := m.db.GetContext(ctx, &u, "SELECT user_id, username, email, password_hash, karma FROM users WHERE username = $1", username)
	if err != nil {
		return nil, notFound(err, "user", username)
	}
	return &u, nil
}

func (m *Postgres) GetUser(ctx context.Context, id forum.UserID) (*forum.User, error) {
	var u forum.User
	err := m.db.GetContext(ctx, &u, "SELECT user_id, username, email, password_hash, karma FROM users WHERE user_id = $1", id)
	if err != nil {
		return nil, notFound(err, "user", id)
	}
	return &u, nil
}

func (m *Postgres) CreateUser(ctx context.Context, username, email, passwordHash string) (forum.UserID, error) {
	var id forum.UserID
	err := m.db.GetContext(ctx, &id, "SELECT shareit_add_user($1, $2, $3)", username, email, passwordHash)
	return id, mapError(err)
}

func (m *Postgres) CreateSubforum(ctx context.Context, name, description string) (forum.SubforumID, error) {
	var id forum.SubforumID
	err := m.db.GetContext(ctx, &id, "INSERT INTO subforums (name, description) VALUES ($1, $2) RETURNING subforum_id", name, description)
	return id, mapError(err)
}

func (m *Postgres) ListSubforums(ctx context.Context) ([]forum.Subforum, error) {
	sl := []forum.Subforum{}
	err := m.db.SelectContext(ctx, &sl, "SELECT subforum_id, name, description FROM subforums ORDER BY subforum_id")
	return sl, mapError(err)
}

func (m *Postgres) FindSubforumByName(ctx context.Context, name string) (*forum.Subforum, error) {
	var s forum.Subforum
	err := m.db.GetContext(ctx, &s, "SELECT subforum_id, name, description FROM subforums WHERE name = $1", name)
	if err != nil {
		return nil, notFound(err, "subforum", name)
	}
	return &s, nil
}

func (m *Postgres) Subscribe(ctx context.Context, userID forum.UserID, subforumID forum.SubforumID) error {
	_, err := m.db.ExecContext(ctx, "SELECT shareit_subscribe_user($1, $2)", userID, subforumID)
	return mapError(err)
}

func (m *Postgres) ListSubscriptions(ctx context.Context, userID forum.UserID) ([]forum.Subforum, error) {
	if _, err := m.GetUser(ctx, userID); err != nil {
		return nil, err
	}
	sl := []forum.Subforum{}
	err := m.db.SelectContext(ctx, &sl, `SELECT s.subforum_id, s.name, s.description
		FROM subforums s
		JOIN subscriptions ss ON ss.subforum_id = s.subforum_id
		WHERE ss.user_id = $1
		ORDER BY s.subforum_id`, userID)
	return sl, mapError(err)
}

type postRow struct {
	ID             forum.PostID     `db:"post_id"`
	AuthorID       forum.UserID     `db:"user_id"`
	SubforumID     forum.SubforumID `db:"subforum_id"`
	Title          string           `db:"title"`
	Body           forum.Text       `db:"content_text"`
	Upvotes        int              `db:"upvotes"`
	CreatedAt      time.Time        `db:"created_at"`
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
		CreatedAt:      forum.Timestamp(r.CreatedAt),
	}
}

const selectPosts = `SELECT p.post_id, p.user_id, p.subforum_id, p.title, p.content_text, p.upvotes, p.created_at,
		u.username, s.name AS subforum_name, COALESCE(pv.vote_type, 0) AS user_vote
	FROM posts p
	JOIN users u ON p.user_id = u.user_id
	JOIN subforums s ON p.subforum_id = s.subforum_id
	LEFT JOIN post_votes pv ON p.post_id = pv.post_id AND pv.user_id = $1`

func (m *Postgres) ListPosts(ctx context.Context, filter forum.PostFilter) ([]forum.PostView, error) {
	query := selectPosts
	args := []interface{}{filter.RequesterID}
	if filter.SubforumName != "" {
		if _, err := m.FindSubforumByName(ctx, filter.SubforumName); err != nil {
			return nil, err
		}
		query += " WHERE s.name = $2"
		args = append(args, filter.SubforumName)
	}
	query += " ORDER BY p.created_at DESC, p.post_id DESC"

	var rows []postRow
	if err := m.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, mapError(err)
	}
	result := make([]forum.PostView, 0, len(rows))
	for _, r := range rows {
		result = append(result, r.view())
	}
	return result, nil
}

func (m *Postgres) GetPost(ctx context.Context, id forum.PostID, requesterID forum.UserID) (*forum.PostView, error) {
	var r postRow
	if err := m.db.GetContext(ctx, &r, selectPosts+" WHERE p.post_id = $2", requesterID, id); err != nil {
		return nil, notFound(err, "post", id)
	}
	v := r.view()
	return &v, nil
}

func (m *Postgres) CreatePost(ctx context.Context, np forum.NewPost) (forum.PostID, error) {
	var id forum.PostID
	err := m.db.GetContext(ctx, &id, "SELECT shareit_create_post($1, $2, $3, $4)", np.AuthorID, np.SubforumID, np.Title, np.Body)
	return id, mapError(err)
}

type commentRow struct {
	ID             forum.CommentID  `db:"comment_id"`
	PostID         forum.PostID     `db:"post_id"`
	AuthorID       forum.UserID     `db:"user_id"`
	AuthorUsername string           `db:"username"`
	Body           forum.Text       `db:"content"`
	ParentID       *forum.CommentID `db:"parent_comment_id"`
	CreatedAt      time.Time        `db:"created_at"`
}

func (m *Postgres) ListComments(ctx context.Context, postID forum.PostID) ([]forum.CommentView, error) {
	var found bool
	if err := m.db.GetContext(ctx, &found, "SELECT EXISTS (SELECT 1 FROM posts WHERE post_id = $1)", postID); err != nil {
		return nil, mapError(err)
	}
	if !found {
		return nil, forum.NotFound("post", postID)
	}
	var rows []commentRow
	err := m.db.SelectContext(ctx, &rows, `SELECT c.comment_id, c.post_id, c.user_id, u.username, c.content, c.parent_comment_id, c.created_at
		FROM comments c
		JOIN users u ON c.user_id = u.user_id
		WHERE c.post_id = $1
		ORDER BY c.created_at ASC, c.comment_id ASC`, postID)
	if err != nil {
		return nil, mapError(err)
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
			CreatedAt:      forum.Timestamp(r.CreatedAt),
		})
	}
	return result, nil
}

func (m *Postgres) CreateComment(ctx context.Context, nc forum.NewComment) (forum.CommentID, error) {
	var id forum.CommentID
	err := m.db.GetContext(ctx, &id, "SELECT shareit_create_comment($1, $2, $3, $4)", nc.PostID, nc.AuthorID, nc.Body, nc.ParentID)
	return id, mapError(err)
}

func (m *Postgres) CastVote(ctx context.Context, userID forum.UserID, postID forum.PostID, value forum.Vote) error {
	if err := forum.CheckVote(value); err != nil {
		return err
	}
	_, err := m.db.ExecContext(ctx, "SELECT shareit_vote_post($1, $2, $3)", userID, postID, int(value))
	return mapError(err)
}

func (m *Postgres) ListVotes(ctx context.Context, postID forum.PostID) ([]forum.VoteRecord, error) {
	var found bool
	if err := m.db.GetContext(ctx, &found, "SELECT EXISTS (SELECT 1 FROM posts WHERE post_id = $1)", postID); err != nil {
		return nil, mapError(err)
	}
	if !found {
		return nil, forum.NotFound("post", postID)
	}
	vl := []forum.VoteRecord{}
	err := m.db.SelectContext(ctx, &vl, "SELECT user_id, post_id, vote_type FROM post_votes WHERE post_id = $1 ORDER BY user_id", postID)
	return vl, mapError(err)
}
