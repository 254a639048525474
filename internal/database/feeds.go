package database

import (
	"database/sql"
	"time"
)

const feedColumns = `id, user_id, name, aggregator_id, identifier, daily_limit, enabled,
	COALESCE(icon, ''), COALESCE(group_id, 0), COALESCE(options, '{}'),
	skip_duplicates, use_current_timestamp, generate_title_image, add_source_footer,
	COALESCE(ignore_title_contains, ''), COALESCE(ignore_content_contains, ''),
	COALESCE(exclude_selectors, ''), COALESCE(regex_replacements, ''),
	COALESCE(wait_for_selector, ''), created_at, last_run_at`

func scanFeed(scan func(dest ...interface{}) error) (*Feed, error) {
	var feed Feed
	var groupID int
	var lastRun sql.NullTime

	err := scan(&feed.ID, &feed.UserID, &feed.Name, &feed.AggregatorID, &feed.Identifier,
		&feed.DailyLimit, &feed.Enabled, &feed.Icon, &groupID, &feed.Options,
		&feed.SkipDuplicates, &feed.UseCurrentTimestamp, &feed.GenerateTitleImage,
		&feed.AddSourceFooter, &feed.IgnoreTitleContains, &feed.IgnoreContentContains,
		&feed.ExcludeSelectors, &feed.RegexReplacements, &feed.WaitForSelector,
		&feed.CreatedAt, &lastRun)
	if err != nil {
		return nil, err
	}

	feed.GroupID = groupID
	if lastRun.Valid {
		feed.LastRunAt = lastRun.Time
	}
	return &feed, nil
}

func (db *DB) AddFeed(feed *Feed) error {
	if feed.CreatedAt.IsZero() {
		feed.CreatedAt = time.Now()
	}
	if feed.Options == "" {
		feed.Options = "{}"
	}

	var groupID interface{}
	if feed.GroupID != 0 {
		groupID = feed.GroupID
	}

	query := `INSERT INTO feeds (user_id, name, aggregator_id, identifier, daily_limit, enabled,
			  icon, group_id, options, skip_duplicates, use_current_timestamp,
			  generate_title_image, add_source_footer, ignore_title_contains,
			  ignore_content_contains, exclude_selectors, regex_replacements,
			  wait_for_selector, created_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	result, err := db.Exec(query, feed.UserID, feed.Name, feed.AggregatorID, feed.Identifier,
		feed.DailyLimit, feed.Enabled, feed.Icon, groupID, feed.Options,
		feed.SkipDuplicates, feed.UseCurrentTimestamp, feed.GenerateTitleImage,
		feed.AddSourceFooter, feed.IgnoreTitleContains, feed.IgnoreContentContains,
		feed.ExcludeSelectors, feed.RegexReplacements, feed.WaitForSelector, feed.CreatedAt)
	if err != nil {
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	feed.ID = int(id)
	return nil
}

func (db *DB) UpdateFeed(feed *Feed) error {
	var groupID interface{}
	if feed.GroupID != 0 {
		groupID = feed.GroupID
	}

	query := `UPDATE feeds SET name = ?, aggregator_id = ?, identifier = ?, daily_limit = ?,
			  enabled = ?, icon = ?, group_id = ?, options = ?, skip_duplicates = ?,
			  use_current_timestamp = ?, generate_title_image = ?, add_source_footer = ?,
			  ignore_title_contains = ?, ignore_content_contains = ?, exclude_selectors = ?,
			  regex_replacements = ?, wait_for_selector = ?
			  WHERE id = ?`

	_, err := db.Exec(query, feed.Name, feed.AggregatorID, feed.Identifier, feed.DailyLimit,
		feed.Enabled, feed.Icon, groupID, feed.Options, feed.SkipDuplicates,
		feed.UseCurrentTimestamp, feed.GenerateTitleImage, feed.AddSourceFooter,
		feed.IgnoreTitleContains, feed.IgnoreContentContains, feed.ExcludeSelectors,
		feed.RegexReplacements, feed.WaitForSelector, feed.ID)
	return err
}

func (db *DB) GetFeed(id int) (*Feed, error) {
	query := `SELECT ` + feedColumns + ` FROM feeds WHERE id = ?`
	row := db.QueryRow(query, id)
	feed, err := scanFeed(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return feed, err
}

func (db *DB) GetUserFeeds(userID int) ([]Feed, error) {
	query := `SELECT ` + feedColumns + ` FROM feeds WHERE user_id = ? ORDER BY name`
	return db.queryFeeds(query, userID)
}

func (db *DB) GetUserFeedByIdentifier(userID int, aggregatorID, identifier string) (*Feed, error) {
	query := `SELECT ` + feedColumns + ` FROM feeds
			  WHERE user_id = ? AND aggregator_id = ? AND identifier = ? LIMIT 1`
	row := db.QueryRow(query, userID, aggregatorID, identifier)
	feed, err := scanFeed(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return feed, err
}

func (db *DB) GetEnabledFeeds() ([]Feed, error) {
	query := `SELECT ` + feedColumns + ` FROM feeds WHERE enabled = 1 ORDER BY id`
	return db.queryFeeds(query)
}

func (db *DB) queryFeeds(query string, args ...interface{}) ([]Feed, error) {
	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var feeds []Feed
	for rows.Next() {
		feed, err := scanFeed(rows.Scan)
		if err != nil {
			return nil, err
		}
		feeds = append(feeds, *feed)
	}
	return feeds, rows.Err()
}

func (db *DB) SetFeedEnabled(feedID int, enabled bool) error {
	_, err := db.Exec(`UPDATE feeds SET enabled = ? WHERE id = ?`, enabled, feedID)
	return err
}

func (db *DB) SetFeedGroup(feedID, groupID int) error {
	var group interface{}
	if groupID != 0 {
		group = groupID
	}
	_, err := db.Exec(`UPDATE feeds SET group_id = ? WHERE id = ?`, group, feedID)
	return err
}

func (db *DB) RenameFeed(feedID int, name string) error {
	_, err := db.Exec(`UPDATE feeds SET name = ? WHERE id = ?`, name, feedID)
	return err
}

func (db *DB) UpdateFeedLastRun(feedID int, lastRun time.Time) error {
	_, err := db.Exec(`UPDATE feeds SET last_run_at = ? WHERE id = ?`, lastRun, feedID)
	return err
}

func (db *DB) DeleteFeed(id int) error {
	_, err := db.Exec(`DELETE FROM feeds WHERE id = ?`, id)
	return err
}

// Feed group methods

func (db *DB) GetOrCreateGroup(userID int, name string) (*FeedGroup, error) {
	if _, err := db.Exec(`INSERT OR IGNORE INTO feed_groups (user_id, name) VALUES (?, ?)`,
		userID, name); err != nil {
		return nil, err
	}

	var group FeedGroup
	err := db.QueryRow(`SELECT id, user_id, name FROM feed_groups WHERE user_id = ? AND name = ?`,
		userID, name).Scan(&group.ID, &group.UserID, &group.Name)
	if err != nil {
		return nil, err
	}
	return &group, nil
}

func (db *DB) GetUserGroups(userID int) ([]FeedGroup, error) {
	rows, err := db.Query(`SELECT id, user_id, name FROM feed_groups WHERE user_id = ? ORDER BY name`,
		userID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var groups []FeedGroup
	for rows.Next() {
		var group FeedGroup
		if err := rows.Scan(&group.ID, &group.UserID, &group.Name); err != nil {
			return nil, err
		}
		groups = append(groups, group)
	}
	return groups, rows.Err()
}

func (db *DB) GetGroup(groupID int) (*FeedGroup, error) {
	var group FeedGroup
	err := db.QueryRow(`SELECT id, user_id, name FROM feed_groups WHERE id = ?`,
		groupID).Scan(&group.ID, &group.UserID, &group.Name)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &group, nil
}
