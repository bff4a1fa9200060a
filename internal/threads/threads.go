// Package threads implements the per-concert discussion board: posts,
// comments under posts, and like toggles where the like count is always
// recomputed from the membership set inside the same transaction.
package threads

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/concertify/concertify/internal/apperr"
	"github.com/concertify/concertify/internal/join"
	"github.com/concertify/concertify/internal/live"
	"github.com/concertify/concertify/internal/models"
)

type Service struct {
	conn     *sql.DB
	bus      *live.Manager
	resolver *join.Resolver
	log      zerolog.Logger
	now      func() time.Time
}

func NewService(conn *sql.DB, bus *live.Manager, resolver *join.Resolver, logger zerolog.Logger) *Service {
	return &Service{
		conn:     conn,
		bus:      bus,
		resolver: resolver,
		log:      logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// PostToThread publishes a post on a concert's board. Blank content is
// rejected before anything touches the store.
func (s *Service) PostToThread(ctx context.Context, concertID, authorUsername, content string) (models.Post, error) {
	if strings.TrimSpace(content) == "" {
		return models.Post{}, apperr.Validation("post content is empty")
	}

	post := models.Post{
		ID:             uuid.NewString(),
		ConcertID:      concertID,
		AuthorUsername: authorUsername,
		Content:        content,
		LikedBy:        []string{},
		CreatedAt:      s.now(),
	}
	_, err := s.conn.ExecContext(ctx,
		`INSERT INTO posts (id, concert_id, author_username, content, like_count, created_at)
		 VALUES (?, ?, ?, ?, 0, ?)`,
		post.ID, post.ConcertID, post.AuthorUsername, post.Content, post.CreatedAt)
	if err != nil {
		return models.Post{}, fmt.Errorf("insert post: %w", err)
	}

	s.bus.Publish(live.Event{Collection: live.CollectionPosts, Scope: concertID})
	return post, nil
}

// AddComment appends a comment under an existing post.
func (s *Service) AddComment(ctx context.Context, postID, authorUsername, content string) (models.Comment, error) {
	if strings.TrimSpace(content) == "" {
		return models.Comment{}, apperr.Validation("comment content is empty")
	}

	var exists bool
	err := s.conn.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM posts WHERE id = ?)`, postID).Scan(&exists)
	if err != nil {
		return models.Comment{}, fmt.Errorf("check post %s: %w", postID, err)
	}
	if !exists {
		return models.Comment{}, apperr.NotFound("post " + postID)
	}

	comment := models.Comment{
		ID:             uuid.NewString(),
		PostID:         postID,
		AuthorUsername: authorUsername,
		Content:        content,
		LikedBy:        []string{},
		CreatedAt:      s.now(),
	}
	_, err = s.conn.ExecContext(ctx,
		`INSERT INTO comments (id, post_id, author_username, content, like_count, created_at)
		 VALUES (?, ?, ?, ?, 0, ?)`,
		comment.ID, comment.PostID, comment.AuthorUsername, comment.Content, comment.CreatedAt)
	if err != nil {
		return models.Comment{}, fmt.Errorf("insert comment: %w", err)
	}

	s.bus.Publish(live.Event{Collection: live.CollectionComments, Scope: postID})
	return comment, nil
}

// ToggleLikePost flips username's like on a post and returns whether the
// post is liked afterwards. Membership and counter move together in one
// transaction, so the counter always equals the size of the liker set.
func (s *Service) ToggleLikePost(ctx context.Context, postID, username string) (bool, error) {
	var concertID string
	liked, err := s.toggle(ctx, toggleSpec{
		ownerTable:  "posts",
		likesTable:  "post_likes",
		ownerColumn: "post_id",
		ownerID:     postID,
		username:    username,
		extraScan: func(tx *sql.Tx) error {
			return tx.QueryRowContext(ctx, `SELECT concert_id FROM posts WHERE id = ?`, postID).
				Scan(&concertID)
		},
	})
	if err != nil {
		return false, err
	}
	s.bus.Publish(live.Event{Collection: live.CollectionPosts, Scope: concertID})
	return liked, nil
}

// ToggleLikeComment flips username's like on a comment.
func (s *Service) ToggleLikeComment(ctx context.Context, commentID, username string) (bool, error) {
	var postID string
	liked, err := s.toggle(ctx, toggleSpec{
		ownerTable:  "comments",
		likesTable:  "comment_likes",
		ownerColumn: "comment_id",
		ownerID:     commentID,
		username:    username,
		extraScan: func(tx *sql.Tx) error {
			return tx.QueryRowContext(ctx, `SELECT post_id FROM comments WHERE id = ?`, commentID).
				Scan(&postID)
		},
	})
	if err != nil {
		return false, err
	}
	s.bus.Publish(live.Event{Collection: live.CollectionComments, Scope: postID})
	return liked, nil
}

type toggleSpec struct {
	ownerTable  string
	likesTable  string
	ownerColumn string
	ownerID     string
	username    string
	extraScan   func(tx *sql.Tx) error
}

func (s *Service) toggle(ctx context.Context, spec toggleSpec) (bool, error) {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin like toggle: %w", err)
	}
	defer tx.Rollback()

	if err := spec.extraScan(tx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, apperr.NotFound(spec.ownerTable[:len(spec.ownerTable)-1] + " " + spec.ownerID)
		}
		return false, err
	}

	var liked bool
	err = tx.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE %s = ? AND user_id = ?)`,
			spec.likesTable, spec.ownerColumn),
		spec.ownerID, spec.username).Scan(&liked)
	if err != nil {
		return false, err
	}

	if liked {
		_, err = tx.ExecContext(ctx,
			fmt.Sprintf(`DELETE FROM %s WHERE %s = ? AND user_id = ?`,
				spec.likesTable, spec.ownerColumn),
			spec.ownerID, spec.username)
	} else {
		_, err = tx.ExecContext(ctx,
			fmt.Sprintf(`INSERT OR IGNORE INTO %s (%s, user_id) VALUES (?, ?)`,
				spec.likesTable, spec.ownerColumn),
			spec.ownerID, spec.username)
	}
	if err != nil {
		return false, err
	}

	// The counter is derived, never incremented, so it cannot drift from
	// the membership set.
	_, err = tx.ExecContext(ctx,
		fmt.Sprintf(`UPDATE %s SET like_count = (SELECT COUNT(*) FROM %s WHERE %s = ?) WHERE id = ?`,
			spec.ownerTable, spec.likesTable, spec.ownerColumn),
		spec.ownerID, spec.ownerID)
	if err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit like toggle: %w", err)
	}
	return !liked, nil
}

// Posts returns a concert's board newest-first, decorated with liker sets
// and author avatars.
func (s *Service) Posts(ctx context.Context, concertID string) ([]models.Post, error) {
	items, err := s.fetchPosts(ctx, live.Query{Collection: live.CollectionPosts, Scope: concertID})
	if err != nil {
		return nil, err
	}
	out := make([]models.Post, len(items))
	for i, it := range items {
		out[i] = it.(models.Post)
	}
	return out, nil
}

// Comments returns a post's comments oldest-first.
func (s *Service) Comments(ctx context.Context, postID string) ([]models.Comment, error) {
	items, err := s.fetchComments(ctx, live.Query{Collection: live.CollectionComments, Scope: postID})
	if err != nil {
		return nil, err
	}
	out := make([]models.Comment, len(items))
	for i, it := range items {
		out[i] = it.(models.Comment)
	}
	return out, nil
}

// RegisterFetchers wires the board collections into the live-query manager:
// "posts" scoped by concert id (newest first) and "comments" scoped by post
// id (oldest first).
func (s *Service) RegisterFetchers(m *live.Manager) {
	m.RegisterFetcher(live.CollectionPosts, s.fetchPosts)
	m.RegisterFetcher(live.CollectionComments, s.fetchComments)
}

func (s *Service) fetchPosts(ctx context.Context, q live.Query) ([]any, error) {
	if q.Scope == "" {
		return nil, apperr.Validation("posts query requires a concert scope")
	}

	rows, err := s.conn.QueryContext(ctx,
		`SELECT id, concert_id, author_username, content, like_count, created_at
		 FROM posts WHERE concert_id = ?
		 ORDER BY created_at DESC, id DESC`, q.Scope)
	if err != nil {
		return nil, fmt.Errorf("query posts for %s: %w", q.Scope, err)
	}
	defer rows.Close()

	posts := make([]models.Post, 0, 16)
	for rows.Next() {
		var p models.Post
		if err := rows.Scan(&p.ID, &p.ConcertID, &p.AuthorUsername, &p.Content,
			&p.LikeCount, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.LikedBy = []string{}
		posts = append(posts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := s.loadLikers(ctx, "post_likes", "post_id", func(id string) *[]string {
		for i := range posts {
			if posts[i].ID == id {
				return &posts[i].LikedBy
			}
		}
		return nil
	}, postIDs(posts)); err != nil {
		return nil, err
	}

	s.decoratePosts(ctx, posts)

	items := make([]any, len(posts))
	for i, p := range posts {
		items[i] = p
	}
	return items, nil
}

func (s *Service) fetchComments(ctx context.Context, q live.Query) ([]any, error) {
	if q.Scope == "" {
		return nil, apperr.Validation("comments query requires a post scope")
	}

	rows, err := s.conn.QueryContext(ctx,
		`SELECT id, post_id, author_username, content, like_count, created_at
		 FROM comments WHERE post_id = ?
		 ORDER BY created_at ASC, id ASC`, q.Scope)
	if err != nil {
		return nil, fmt.Errorf("query comments for %s: %w", q.Scope, err)
	}
	defer rows.Close()

	comments := make([]models.Comment, 0, 16)
	for rows.Next() {
		var c models.Comment
		if err := rows.Scan(&c.ID, &c.PostID, &c.AuthorUsername, &c.Content,
			&c.LikeCount, &c.CreatedAt); err != nil {
			return nil, err
		}
		c.LikedBy = []string{}
		comments = append(comments, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := s.loadLikers(ctx, "comment_likes", "comment_id", func(id string) *[]string {
		for i := range comments {
			if comments[i].ID == id {
				return &comments[i].LikedBy
			}
		}
		return nil
	}, commentIDs(comments)); err != nil {
		return nil, err
	}

	s.decorateComments(ctx, comments)

	items := make([]any, len(comments))
	for i, c := range comments {
		items[i] = c
	}
	return items, nil
}

// loadLikers fills the liked-by sets for a batch of posts or comments in
// one query, in like insertion order.
func (s *Service) loadLikers(ctx context.Context, table, column string, target func(id string) *[]string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := s.conn.QueryContext(ctx,
		fmt.Sprintf(`SELECT %s, user_id FROM %s WHERE %s IN (%s) ORDER BY rowid ASC`,
			column, table, column, placeholders), args...)
	if err != nil {
		return fmt.Errorf("query %s: %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var ownerID, userID string
		if err := rows.Scan(&ownerID, &userID); err != nil {
			return err
		}
		if set := target(ownerID); set != nil {
			*set = append(*set, userID)
		}
	}
	return rows.Err()
}

func (s *Service) decoratePosts(ctx context.Context, posts []models.Post) {
	names := make([]string, len(posts))
	for i, p := range posts {
		names[i] = p.AuthorUsername
	}
	images := s.resolver.ProfileImages(ctx, names)
	for i := range posts {
		posts[i].AuthorImageURL = images[i]
	}
}

func (s *Service) decorateComments(ctx context.Context, comments []models.Comment) {
	names := make([]string, len(comments))
	for i, c := range comments {
		names[i] = c.AuthorUsername
	}
	images := s.resolver.ProfileImages(ctx, names)
	for i := range comments {
		comments[i].AuthorImageURL = images[i]
	}
}

func postIDs(posts []models.Post) []string {
	ids := make([]string, len(posts))
	for i, p := range posts {
		ids[i] = p.ID
	}
	return ids
}

func commentIDs(comments []models.Comment) []string {
	ids := make([]string, len(comments))
	for i, c := range comments {
		ids[i] = c.ID
	}
	return ids
}
