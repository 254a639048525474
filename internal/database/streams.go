package database

import (
	"database/sql"
	"strings"
	"time"
)

// ArticleFilter describes a stream query. UserID is mandatory; every
// other field narrows the result. Zero values mean "no constraint".
type ArticleFilter struct {
	UserID    int
	FeedID    int
	GroupName string

	// Read/starred constraints via joined user_articles; absent row
	// counts as unread and unstarred.
	ReadState *bool
	StarState *bool

	// Date window: NewerThan <= date < OlderThan
	NewerThan time.Time
	OlderThan time.Time

	Ascending bool
	Limit     int

	// Continuation cursor: resume strictly after (ContinueDate, ContinueID)
	// in the query's direction.
	ContinueDate time.Time
	ContinueID   int
}

// ArticleRef is a stream item: the ordering key pair of an article.
type ArticleRef struct {
	ID   int
	Date time.Time
}

// FindArticleRefs resolves a stream query to article (id, date) pairs.
// Every returned row belongs to a feed owned by filter.UserID.
func (db *DB) FindArticleRefs(filter ArticleFilter) ([]ArticleRef, error) {
	var sb strings.Builder
	var args []interface{}

	sb.WriteString(`SELECT a.id, a.date
		FROM articles a
		JOIN feeds f ON a.feed_id = f.id
		LEFT JOIN user_articles ua ON ua.article_id = a.id AND ua.user_id = ?
		WHERE f.user_id = ?`)
	args = append(args, filter.UserID, filter.UserID)

	if filter.FeedID != 0 {
		sb.WriteString(` AND a.feed_id = ?`)
		args = append(args, filter.FeedID)
	}
	if filter.GroupName != "" {
		sb.WriteString(` AND f.group_id = (SELECT id FROM feed_groups WHERE user_id = ? AND name = ?)`)
		args = append(args, filter.UserID, filter.GroupName)
	}
	if filter.ReadState != nil {
		sb.WriteString(` AND COALESCE(ua.is_read, 0) = ?`)
		args = append(args, *filter.ReadState)
	}
	if filter.StarState != nil {
		sb.WriteString(` AND COALESCE(ua.is_starred, 0) = ?`)
		args = append(args, *filter.StarState)
	}
	if !filter.NewerThan.IsZero() {
		sb.WriteString(` AND a.date >= ?`)
		args = append(args, filter.NewerThan)
	}
	if !filter.OlderThan.IsZero() {
		sb.WriteString(` AND a.date < ?`)
		args = append(args, filter.OlderThan)
	}

	if !filter.ContinueDate.IsZero() {
		if filter.Ascending {
			sb.WriteString(` AND (a.date > ? OR (a.date = ? AND a.id > ?))`)
		} else {
			sb.WriteString(` AND (a.date < ? OR (a.date = ? AND a.id < ?))`)
		}
		args = append(args, filter.ContinueDate, filter.ContinueDate, filter.ContinueID)
	}

	if filter.Ascending {
		sb.WriteString(` ORDER BY a.date ASC, a.id ASC`)
	} else {
		sb.WriteString(` ORDER BY a.date DESC, a.id DESC`)
	}

	if filter.Limit > 0 {
		sb.WriteString(` LIMIT ?`)
		args = append(args, filter.Limit)
	}

	rows, err := db.Query(sb.String(), args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var refs []ArticleRef
	for rows.Next() {
		var ref ArticleRef
		if err := rows.Scan(&ref.ID, &ref.Date); err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

// FilterOwnedArticleIDs returns the subset of articleIDs that belong to
// a feed owned by the user. Order is not preserved.
func (db *DB) FilterOwnedArticleIDs(userID int, articleIDs []int) ([]int, error) {
	if len(articleIDs) == 0 {
		return nil, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(articleIDs)), ", ")
	query := `SELECT a.id FROM articles a
			  JOIN feeds f ON a.feed_id = f.id
			  WHERE f.user_id = ? AND a.id IN (` + placeholders + `)`

	args := make([]interface{}, 0, len(articleIDs)+1)
	args = append(args, userID)
	for _, id := range articleIDs {
		args = append(args, id)
	}

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var owned []int
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		owned = append(owned, id)
	}
	return owned, rows.Err()
}

// BulkSetState upserts one user_articles row per article in a single
// transaction. A nil flag leaves that column untouched on existing rows
// and defaults it to false on new ones.
func (db *DB) BulkSetState(userID int, articleIDs []int, isRead, isStarred *bool) error {
	if len(articleIDs) == 0 {
		return nil
	}

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var setClauses []string
	if isRead != nil {
		setClauses = append(setClauses, "is_read = excluded.is_read")
	}
	if isStarred != nil {
		setClauses = append(setClauses, "is_starred = excluded.is_starred")
	}
	if len(setClauses) == 0 {
		return tx.Commit()
	}

	query := `INSERT INTO user_articles (user_id, article_id, is_read, is_starred)
			  VALUES (?, ?, ?, ?)
			  ON CONFLICT(user_id, article_id) DO UPDATE SET ` + strings.Join(setClauses, ", ")

	stmt, err := tx.Prepare(query)
	if err != nil {
		return err
	}
	defer func() { _ = stmt.Close() }()

	read := isRead != nil && *isRead
	starred := isStarred != nil && *isStarred

	for _, articleID := range articleIDs {
		if _, err := stmt.Exec(userID, articleID, read, starred); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// GetUserArticleStatus reads the per-user state row for one article.
// Returns a default row (unread, unstarred) when none exists.
func (db *DB) GetUserArticleStatus(userID, articleID int) (*UserArticle, error) {
	ua := &UserArticle{UserID: userID, ArticleID: articleID}
	query := `SELECT is_read, is_starred FROM user_articles WHERE user_id = ? AND article_id = ?`
	err := db.QueryRow(query, userID, articleID).Scan(&ua.IsRead, &ua.IsStarred)
	if err == sql.ErrNoRows {
		return ua, nil
	}
	if err != nil {
		return nil, err
	}
	return ua, nil
}
