package database

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

type Database interface {
	// User methods
	CreateUser(user *User) error
	GetUserByEmail(email string) (*User, error)
	GetUserByID(userID int) (*User, error)

	// Feed methods
	AddFeed(feed *Feed) error
	UpdateFeed(feed *Feed) error
	GetFeed(id int) (*Feed, error)
	GetUserFeeds(userID int) ([]Feed, error)
	GetUserFeedByIdentifier(userID int, aggregatorID, identifier string) (*Feed, error)
	GetEnabledFeeds() ([]Feed, error)
	SetFeedEnabled(feedID int, enabled bool) error
	SetFeedGroup(feedID, groupID int) error
	RenameFeed(feedID int, name string) error
	UpdateFeedLastRun(feedID int, lastRun time.Time) error
	DeleteFeed(id int) error

	// Feed group methods
	GetOrCreateGroup(userID int, name string) (*FeedGroup, error)
	GetUserGroups(userID int) ([]FeedGroup, error)
	GetGroup(groupID int) (*FeedGroup, error)

	// Article methods
	GetOrInsertArticle(article *Article) (bool, error)
	UpdateArticleFields(article *Article) error
	GetArticle(id int) (*Article, error)
	GetFeedArticles(feedID int) ([]Article, error)
	HasRecentArticleTitle(feedID int, title string, since time.Time) (bool, error)
	CountArticlesCreatedSince(feedID int, since time.Time) (int, error)
	ArticleIsStarred(feedID int, identifier string) (bool, error)
	DeleteArticlesOlderThan(cutoff time.Time) (int64, error)

	// Stream methods
	FindArticleRefs(filter ArticleFilter) ([]ArticleRef, error)
	FilterOwnedArticleIDs(userID int, articleIDs []int) ([]int, error)
	BulkSetState(userID int, articleIDs []int, isRead, isStarred *bool) error
	GetUserArticleStatus(userID, articleID int) (*UserArticle, error)

	// Auth token methods
	CreateAuthToken(token *AuthToken) error
	GetAuthToken(token string) (*AuthToken, error)
	DeleteExpiredTokens() error

	// Task methods
	RecordTask(task *Task) error
	GetTask(id string) (*Task, error)
	DeleteTasksBefore(cutoff time.Time) (int64, error)

	Close() error
}

type DB struct {
	*sql.DB
}

type User struct {
	ID           int       `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

type FeedGroup struct {
	ID     int    `json:"id"`
	UserID int    `json:"user_id"`
	Name   string `json:"name"`
}

type Feed struct {
	ID           int    `json:"id"`
	UserID       int    `json:"user_id"`
	Name         string `json:"name"`
	AggregatorID string `json:"aggregator_id"`
	Identifier   string `json:"identifier"`
	DailyLimit   int    `json:"daily_limit"`
	Enabled      bool   `json:"enabled"`
	Icon         string `json:"icon"`
	GroupID      int    `json:"group_id"` // 0 = ungrouped

	// Per-feed aggregator options, serialized as JSON
	Options string `json:"options"`

	SkipDuplicates      bool `json:"skip_duplicates"`
	UseCurrentTimestamp bool `json:"use_current_timestamp"`
	GenerateTitleImage  bool `json:"generate_title_image"`
	AddSourceFooter     bool `json:"add_source_footer"`

	// Newline-separated lists
	IgnoreTitleContains   string `json:"ignore_title_contains"`
	IgnoreContentContains string `json:"ignore_content_contains"`
	ExcludeSelectors      string `json:"exclude_selectors"`
	RegexReplacements     string `json:"regex_replacements"`

	WaitForSelector string `json:"wait_for_selector"`

	CreatedAt time.Time `json:"created_at"`
	LastRunAt time.Time `json:"last_run_at"`
}

type Article struct {
	ID         int       `json:"id"`
	FeedID     int       `json:"feed_id"`
	Identifier string    `json:"identifier"`
	Name       string    `json:"name"`
	Author     string    `json:"author"`
	Date       time.Time `json:"date"`
	RawContent string    `json:"raw_content"`
	Content    string    `json:"content"`

	// Header image: either a URL or inline bytes with a content type
	IconURL         string `json:"icon_url"`
	IconData        []byte `json:"-"`
	IconContentType string `json:"icon_content_type"`

	MediaURL     string `json:"media_url"`
	MediaType    string `json:"media_type"`
	Duration     int    `json:"duration"`
	ThumbnailURL string `json:"thumbnail_url"`
	Score        int    `json:"score"`
	ExternalID   string `json:"external_id"`

	CreatedAt time.Time `json:"created_at"`

	// Joined per-user state, defaults false
	IsRead    bool `json:"is_read"`
	IsStarred bool `json:"is_starred"`
}

type UserArticle struct {
	UserID    int  `json:"user_id"`
	ArticleID int  `json:"article_id"`
	IsRead    bool `json:"is_read"`
	IsStarred bool `json:"is_starred"`
}

type AuthToken struct {
	Token     string    `json:"token"`
	UserID    int       `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"` // zero = never expires
}

type Task struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Status     string    `json:"status"` // 'success' or 'failure'
	Result     string    `json:"result"`
	Error      string    `json:"error"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

func InitDB(path string) (Database, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		return nil, err
	}

	// Single connection keeps SQLite writes serialized under the
	// scheduler's worker parallelism.
	db.SetMaxOpenConns(1)

	dbWrapper := &DB{db}
	if err := dbWrapper.createTables(); err != nil {
		return nil, err
	}

	return dbWrapper, nil
}

func (db *DB) createTables() error {
	usersTable := `
	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		email TEXT UNIQUE NOT NULL,
		name TEXT NOT NULL,
		password_hash TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);`

	feedGroupsTable := `
	CREATE TABLE IF NOT EXISTS feed_groups (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		name TEXT NOT NULL,
		UNIQUE (user_id, name),
		FOREIGN KEY (user_id) REFERENCES users (id) ON DELETE CASCADE
	);`

	feedsTable := `
	CREATE TABLE IF NOT EXISTS feeds (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		name TEXT NOT NULL,
		aggregator_id TEXT NOT NULL,
		identifier TEXT NOT NULL,
		daily_limit INTEGER DEFAULT 10,
		enabled BOOLEAN DEFAULT 1,
		icon TEXT,
		group_id INTEGER,
		options TEXT DEFAULT '{}',
		skip_duplicates BOOLEAN DEFAULT 0,
		use_current_timestamp BOOLEAN DEFAULT 1,
		generate_title_image BOOLEAN DEFAULT 0,
		add_source_footer BOOLEAN DEFAULT 0,
		ignore_title_contains TEXT DEFAULT '',
		ignore_content_contains TEXT DEFAULT '',
		exclude_selectors TEXT DEFAULT '',
		regex_replacements TEXT DEFAULT '',
		wait_for_selector TEXT DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		last_run_at DATETIME,
		FOREIGN KEY (user_id) REFERENCES users (id) ON DELETE CASCADE,
		FOREIGN KEY (group_id) REFERENCES feed_groups (id) ON DELETE SET NULL
	);`

	articlesTable := `
	CREATE TABLE IF NOT EXISTS articles (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		feed_id INTEGER NOT NULL,
		identifier TEXT NOT NULL,
		name TEXT NOT NULL,
		author TEXT,
		date DATETIME NOT NULL,
		raw_content TEXT,
		content TEXT,
		icon_url TEXT,
		icon_data BLOB,
		icon_content_type TEXT,
		media_url TEXT,
		media_type TEXT,
		duration INTEGER DEFAULT 0,
		thumbnail_url TEXT,
		score INTEGER DEFAULT 0,
		external_id TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE (feed_id, identifier),
		FOREIGN KEY (feed_id) REFERENCES feeds (id) ON DELETE CASCADE
	);`

	userArticlesTable := `
	CREATE TABLE IF NOT EXISTS user_articles (
		user_id INTEGER NOT NULL,
		article_id INTEGER NOT NULL,
		is_read BOOLEAN DEFAULT FALSE,
		is_starred BOOLEAN DEFAULT FALSE,
		PRIMARY KEY (user_id, article_id),
		FOREIGN KEY (user_id) REFERENCES users (id) ON DELETE CASCADE,
		FOREIGN KEY (article_id) REFERENCES articles (id) ON DELETE CASCADE
	);`

	authTokensTable := `
	CREATE TABLE IF NOT EXISTS auth_tokens (
		token TEXT PRIMARY KEY,
		user_id INTEGER NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		expires_at DATETIME,
		FOREIGN KEY (user_id) REFERENCES users (id) ON DELETE CASCADE
	);`

	tasksTable := `
	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		status TEXT NOT NULL,
		result TEXT,
		error TEXT,
		started_at DATETIME NOT NULL,
		finished_at DATETIME NOT NULL
	);`

	tables := []string{usersTable, feedGroupsTable, feedsTable, articlesTable,
		userArticlesTable, authTokensTable, tasksTable}

	for _, table := range tables {
		if _, err := db.Exec(table); err != nil {
			return err
		}
	}

	return db.createIndexes()
}

func (db *DB) createIndexes() error {
	indexes := []string{
		// Stream queries
		`CREATE INDEX IF NOT EXISTS idx_articles_feed_date ON articles (feed_id, date DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_articles_date ON articles (date)`,

		// Duplicate-title detection
		`CREATE INDEX IF NOT EXISTS idx_articles_feed_name_created ON articles (feed_id, name, created_at)`,

		// Read/starred joins
		`CREATE INDEX IF NOT EXISTS idx_user_articles_user_read ON user_articles (user_id, is_read)`,
		`CREATE INDEX IF NOT EXISTS idx_user_articles_article_user ON user_articles (article_id, user_id)`,

		// Ownership lookups
		`CREATE INDEX IF NOT EXISTS idx_feeds_user_id ON feeds (user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_feeds_group_id ON feeds (group_id)`,

		// Authentication
		`CREATE INDEX IF NOT EXISTS idx_auth_tokens_user_id ON auth_tokens (user_id)`,

		// Task housekeeping
		`CREATE INDEX IF NOT EXISTS idx_tasks_finished_at ON tasks (finished_at)`,
	}

	for _, index := range indexes {
		if _, err := db.Exec(index); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}

	return nil
}

func (db *DB) Close() error {
	return db.DB.Close()
}

// User methods

func (db *DB) CreateUser(user *User) error {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now()
	}

	query := `INSERT INTO users (email, name, password_hash, created_at) VALUES (?, ?, ?, ?)`
	result, err := db.Exec(query, user.Email, user.Name, user.PasswordHash, user.CreatedAt)
	if err != nil {
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	user.ID = int(id)
	return nil
}

func (db *DB) GetUserByEmail(email string) (*User, error) {
	query := `SELECT id, email, name, password_hash, created_at FROM users WHERE email = ?`

	var user User
	err := db.QueryRow(query, email).Scan(&user.ID, &user.Email, &user.Name,
		&user.PasswordHash, &user.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (db *DB) GetUserByID(userID int) (*User, error) {
	query := `SELECT id, email, name, password_hash, created_at FROM users WHERE id = ?`

	var user User
	err := db.QueryRow(query, userID).Scan(&user.ID, &user.Email, &user.Name,
		&user.PasswordHash, &user.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// Auth token methods

func (db *DB) CreateAuthToken(token *AuthToken) error {
	query := `INSERT INTO auth_tokens (token, user_id, created_at, expires_at) VALUES (?, ?, ?, ?)`

	var expires interface{}
	if !token.ExpiresAt.IsZero() {
		expires = token.ExpiresAt
	}
	_, err := db.Exec(query, token.Token, token.UserID, token.CreatedAt, expires)
	return err
}

func (db *DB) GetAuthToken(token string) (*AuthToken, error) {
	query := `SELECT token, user_id, created_at, expires_at FROM auth_tokens WHERE token = ?`

	var t AuthToken
	var expires sql.NullTime
	err := db.QueryRow(query, token).Scan(&t.Token, &t.UserID, &t.CreatedAt, &expires)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if expires.Valid {
		t.ExpiresAt = expires.Time
	}
	return &t, nil
}

func (db *DB) DeleteExpiredTokens() error {
	query := `DELETE FROM auth_tokens WHERE expires_at IS NOT NULL AND expires_at < ?`
	_, err := db.Exec(query, time.Now())
	return err
}

// Task methods

func (db *DB) RecordTask(task *Task) error {
	query := `INSERT OR REPLACE INTO tasks (id, name, status, result, error, started_at, finished_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err := db.Exec(query, task.ID, task.Name, task.Status, task.Result, task.Error,
		task.StartedAt, task.FinishedAt)
	return err
}

func (db *DB) GetTask(id string) (*Task, error) {
	query := `SELECT id, name, status, result, error, started_at, finished_at FROM tasks WHERE id = ?`

	var task Task
	var result, errMsg sql.NullString
	err := db.QueryRow(query, id).Scan(&task.ID, &task.Name, &task.Status,
		&result, &errMsg, &task.StartedAt, &task.FinishedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	task.Result = result.String
	task.Error = errMsg.String
	return &task, nil
}

func (db *DB) DeleteTasksBefore(cutoff time.Time) (int64, error) {
	result, err := db.Exec(`DELETE FROM tasks WHERE finished_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
