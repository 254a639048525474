package database

import (
	"database/sql"
	"time"
)

const articleColumns = `id, feed_id, identifier, name, COALESCE(author, ''), date,
	COALESCE(raw_content, ''), COALESCE(content, ''), COALESCE(icon_url, ''), icon_data,
	COALESCE(icon_content_type, ''), COALESCE(media_url, ''), COALESCE(media_type, ''),
	COALESCE(duration, 0), COALESCE(thumbnail_url, ''), COALESCE(score, 0),
	COALESCE(external_id, ''), created_at`

func scanArticle(scan func(dest ...interface{}) error) (*Article, error) {
	var article Article
	err := scan(&article.ID, &article.FeedID, &article.Identifier, &article.Name,
		&article.Author, &article.Date, &article.RawContent, &article.Content,
		&article.IconURL, &article.IconData, &article.IconContentType,
		&article.MediaURL, &article.MediaType, &article.Duration,
		&article.ThumbnailURL, &article.Score, &article.ExternalID, &article.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &article, nil
}

// GetOrInsertArticle inserts the article if no row exists for its
// (feed, identifier) pair. Returns true when a new row was created.
// On conflict the existing row's ID is loaded into the article.
func (db *DB) GetOrInsertArticle(article *Article) (bool, error) {
	if article.CreatedAt.IsZero() {
		article.CreatedAt = time.Now()
	}
	// Continuation cursors carry whole seconds; dates are stored at the
	// same precision so resumed pages never skip same-second articles.
	article.Date = article.Date.Truncate(time.Second)

	query := `INSERT OR IGNORE INTO articles
			  (feed_id, identifier, name, author, date, raw_content, content,
			   icon_url, icon_data, icon_content_type, media_url, media_type,
			   duration, thumbnail_url, score, external_id, created_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	result, err := db.Exec(query, article.FeedID, article.Identifier, article.Name,
		article.Author, article.Date, article.RawContent, article.Content,
		article.IconURL, article.IconData, article.IconContentType,
		article.MediaURL, article.MediaType, article.Duration,
		article.ThumbnailURL, article.Score, article.ExternalID, article.CreatedAt)
	if err != nil {
		return false, err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}

	if affected > 0 {
		id, err := result.LastInsertId()
		if err != nil {
			return false, err
		}
		article.ID = int(id)
		return true, nil
	}

	// Row already existed, fetch its ID
	err = db.QueryRow(`SELECT id FROM articles WHERE feed_id = ? AND identifier = ?`,
		article.FeedID, article.Identifier).Scan(&article.ID)
	return false, err
}

// UpdateArticleFields rewrites the content-bearing fields of an existing
// article. Used by force_update runs and ReloadArticle.
func (db *DB) UpdateArticleFields(article *Article) error {
	article.Date = article.Date.Truncate(time.Second)
	query := `UPDATE articles SET name = ?, author = ?, date = ?, raw_content = ?,
			  content = ?, icon_url = ?, icon_data = ?, icon_content_type = ?,
			  media_url = ?, media_type = ?, duration = ?, thumbnail_url = ?,
			  score = ?, external_id = ?
			  WHERE id = ?`

	_, err := db.Exec(query, article.Name, article.Author, article.Date,
		article.RawContent, article.Content, article.IconURL, article.IconData,
		article.IconContentType, article.MediaURL, article.MediaType,
		article.Duration, article.ThumbnailURL, article.Score, article.ExternalID,
		article.ID)
	return err
}

func (db *DB) GetArticle(id int) (*Article, error) {
	query := `SELECT ` + articleColumns + ` FROM articles WHERE id = ?`
	row := db.QueryRow(query, id)
	article, err := scanArticle(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return article, err
}

func (db *DB) GetFeedArticles(feedID int) ([]Article, error) {
	query := `SELECT ` + articleColumns + ` FROM articles WHERE feed_id = ? ORDER BY date DESC`

	rows, err := db.Query(query, feedID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var articles []Article
	for rows.Next() {
		article, err := scanArticle(rows.Scan)
		if err != nil {
			return nil, err
		}
		articles = append(articles, *article)
	}
	return articles, rows.Err()
}

// HasRecentArticleTitle reports whether the feed already stored an
// article with this exact title since the given time. Backs the
// skip_duplicates rule; served by the (feed_id, name, created_at) index.
func (db *DB) HasRecentArticleTitle(feedID int, title string, since time.Time) (bool, error) {
	var exists bool
	query := `SELECT EXISTS(SELECT 1 FROM articles
			  WHERE feed_id = ? AND name = ? AND created_at >= ?)`
	err := db.QueryRow(query, feedID, title, since).Scan(&exists)
	return exists, err
}

// CountArticlesCreatedSince counts articles added to the feed since the
// given instant. Used for daily-limit pacing (since = UTC midnight).
func (db *DB) CountArticlesCreatedSince(feedID int, since time.Time) (int, error) {
	var count int
	err := db.QueryRow(`SELECT COUNT(*) FROM articles WHERE feed_id = ? AND created_at >= ?`,
		feedID, since).Scan(&count)
	return count, err
}

// ArticleIsStarred reports whether the feed's article with this
// identifier exists and is starred by at least one user. Starred
// articles are exempt from the content-age skip, mirroring the
// retention delete.
func (db *DB) ArticleIsStarred(feedID int, identifier string) (bool, error) {
	var starred bool
	query := `SELECT EXISTS(SELECT 1 FROM articles a
			  JOIN user_articles ua ON ua.article_id = a.id
			  WHERE a.feed_id = ? AND a.identifier = ? AND ua.is_starred = 1)`
	err := db.QueryRow(query, feedID, identifier).Scan(&starred)
	return starred, err
}

// DeleteArticlesOlderThan removes articles published before the cutoff,
// keeping any article starred by at least one user.
func (db *DB) DeleteArticlesOlderThan(cutoff time.Time) (int64, error) {
	query := `DELETE FROM articles
			  WHERE date < ?
			  AND id NOT IN (SELECT article_id FROM user_articles WHERE is_starred = 1)`

	result, err := db.Exec(query, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
