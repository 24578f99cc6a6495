package dao

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
)

var ErrNotFound = errors.New("not found")

// ErrDuplicateIdempotencyKey is returned by InsertMessage when the
// (app_key_id, idempotency_key) pair already exists. The unique index is
// the final arbiter for concurrent sends with the same key.
var ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

type DAO interface {
	CreateAppKey(key AppKey) error
	GetAppKeyByHash(hash string) (*AppKey, error)
	GetAppKeyById(id string) (*AppKey, error)
	ListAppKeys() ([]AppKey, error)
	UpdateAppKey(key *AppKey) error
	RevokeAppKey(id string) (bool, error)

	InsertMessage(m Message) error
	GetMessageByIdempotencyKey(appKeyId, idempotencyKey string) (*Message, error)
	GetMessageForAppKey(appKeyId, id string) (*Message, error)
	GetMessageById(id string) (*Message, error)
	ListMessages(appKeyId string, limit int, olderThan *time.Time) (messages []Message, hasMore bool, err error)
	FinalizeMessage(id string, status string, providerMessageId *string, providerResponse string) error
	ClaimOpened(id string) (bool, error)

	InsertEvent(e Event) error
	ListEvents(appKeyId, messageRecordId string, limit int) ([]Event, error)

	Close() error
}

func NewSQLite(path string) (DAO, error) {
	lite := &sqlite{path: path}
	err := lite.ensureSchema()
	return lite, err
}

type sqlite struct {
	mu   sync.Mutex
	db   *sqlx.DB
	path string
}

func (s *sqlite) CreateAppKey(key AppKey) error {
	q := `
	INSERT INTO app_key (id, name, key_hash, key_prefix,
	                     default_from_name, default_from_email, tags,
	                     webhook_url, webhook_secret, webhook_events,
	                     revoked_at, created_at)
	VALUES (:id, :name, :key_hash, :key_prefix,
	        :default_from_name, :default_from_email, :tags,
	        :webhook_url, :webhook_secret, :webhook_events,
	        :revoked_at, :created_at)
	`
	db, err := s.getDB()
	if err != nil {
		return err
	}
	if key.CreatedAt.IsZero() {
		key.CreatedAt = time.Now().In(time.UTC)
	}
	_, err = db.NamedExec(q, key)
	if err != nil {
		return fmt.Errorf("failed to insert app key, %w", err)
	}
	return nil
}

func (s *sqlite) GetAppKeyByHash(hash string) (*AppKey, error) {
	q := `SELECT * FROM app_key WHERE key_hash = ?`
	return s.getAppKey(q, hash)
}

func (s *sqlite) GetAppKeyById(id string) (*AppKey, error) {
	q := `SELECT * FROM app_key WHERE id = ?`
	return s.getAppKey(q, id)
}

func (s *sqlite) getAppKey(q string, arg interface{}) (*AppKey, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}
	var key AppKey
	err = db.Get(&key, q, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &key, err
}

func (s *sqlite) ListAppKeys() ([]AppKey, error) {
	q := `SELECT * FROM app_key ORDER BY created_at DESC`
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}
	var keys []AppKey
	err = db.Select(&keys, q)
	return keys, err
}

func (s *sqlite) UpdateAppKey(key *AppKey) error {
	q := `
	UPDATE app_key
	SET name               = :name,
	    default_from_name  = :default_from_name,
	    default_from_email = :default_from_email,
	    tags               = :tags,
	    webhook_url        = :webhook_url,
	    webhook_secret     = :webhook_secret,
	    webhook_events     = :webhook_events
	WHERE id = :id
	`
	db, err := s.getDB()
	if err != nil {
		return err
	}
	res, err := db.NamedExec(q, key)
	if err != nil {
		return fmt.Errorf("failed to update app key %s, %w", key.Id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// RevokeAppKey is a one-way transition, returns false if the key does not
// exist or was already revoked.
func (s *sqlite) RevokeAppKey(id string) (bool, error) {
	q := `
	UPDATE app_key
	SET revoked_at = ?
	WHERE id = ?
	  AND revoked_at IS NULL
	`
	db, err := s.getDB()
	if err != nil {
		return false, err
	}
	res, err := db.Exec(q, time.Now().In(time.UTC), id)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	return affected == 1, err
}

func (s *sqlite) InsertMessage(m Message) error {
	q := `
	INSERT INTO message (id, app_key_id, provider_message_id,
	                     to_addresses, cc_addresses, bcc_addresses,
	                     from_email, from_name,
	                     subject, template_id, tags,
	                     status, provider_response, idempotency_key,
	                     created_at)
	VALUES (:id, :app_key_id, :provider_message_id,
	        :to_addresses, :cc_addresses, :bcc_addresses,
	        :from_email, :from_name,
	        :subject, :template_id, :tags,
	        :status, :provider_response, :idempotency_key,
	        :created_at)
	`
	db, err := s.getDB()
	if err != nil {
		return err
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().In(time.UTC)
	}
	_, err = db.NamedExec(q, m)

	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) &&
		liteErr.ExtendedCode == sqlite3.ErrConstraintUnique &&
		strings.Contains(liteErr.Error(), "idempotency") {
		return ErrDuplicateIdempotencyKey
	}
	if err != nil {
		return fmt.Errorf("failed to insert message, %w", err)
	}
	return nil
}

func (s *sqlite) GetMessageByIdempotencyKey(appKeyId, idempotencyKey string) (*Message, error) {
	q := `
	SELECT * FROM message
	WHERE app_key_id = ?
	  AND idempotency_key = ?
	LIMIT 1
	`
	return s.getMessage(q, appKeyId, idempotencyKey)
}

// GetMessageForAppKey resolves either the internal id or the
// provider-assigned message id, scoped to the owning key.
func (s *sqlite) GetMessageForAppKey(appKeyId, id string) (*Message, error) {
	q := `
	SELECT * FROM message
	WHERE app_key_id = ?
	  AND (id = ? OR provider_message_id = ?)
	LIMIT 1
	`
	return s.getMessage(q, appKeyId, id, id)
}

// GetMessageById resolves the internal id only. Used by webhook routing,
// where the owning key is verified against the routing tag afterwards.
func (s *sqlite) GetMessageById(id string) (*Message, error) {
	q := `SELECT * FROM message WHERE id = ? LIMIT 1`
	return s.getMessage(q, id)
}

func (s *sqlite) getMessage(q string, args ...interface{}) (*Message, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}
	var m Message
	err = db.Get(&m, q, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &m, err
}

// ListMessages returns up to limit messages newest first. olderThan, when
// set, selects records created strictly before it. hasMore tells whether
// another page exists.
func (s *sqlite) ListMessages(appKeyId string, limit int, olderThan *time.Time) (messages []Message, hasMore bool, err error) {
	db, err := s.getDB()
	if err != nil {
		return nil, false, err
	}

	q := `
	SELECT * FROM message
	WHERE app_key_id = ?
	ORDER BY created_at DESC, id DESC
	LIMIT ?
	`
	args := []interface{}{appKeyId, limit + 1}
	if olderThan != nil {
		q = `
		SELECT * FROM message
		WHERE app_key_id = ?
		  AND created_at < ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
		`
		args = []interface{}{appKeyId, olderThan.In(time.UTC), limit + 1}
	}

	err = db.Select(&messages, q, args...)
	if err != nil {
		return nil, false, err
	}
	if len(messages) > limit {
		return messages[:limit], true, nil
	}
	return messages, false, nil
}

// FinalizeMessage records the provider call outcome. It only moves a
// pending message, the send pipeline writes it exactly once.
func (s *sqlite) FinalizeMessage(id string, status string, providerMessageId *string, providerResponse string) error {
	q := `
	UPDATE message
	SET status              = ?,
	    provider_message_id = ?,
	    provider_response   = ?
	WHERE id = ?
	  AND status = 'pending'
	`
	db, err := s.getDB()
	if err != nil {
		return err
	}
	res, err := db.Exec(q, status, providerMessageId, providerResponse, id)
	if err != nil {
		return fmt.Errorf("failed to finalize message %s, %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected != 1 {
		return fmt.Errorf("could not finalize message %s, %d rows affected", id, affected)
	}
	return nil
}

// ClaimOpened widens the message status to opened. Returns true only for
// the first claim, the conditional update makes the transition one-way
// and race-safe.
func (s *sqlite) ClaimOpened(id string) (bool, error) {
	q := `
	UPDATE message
	SET status = 'opened'
	WHERE id = ?
	  AND status <> 'opened'
	`
	db, err := s.getDB()
	if err != nil {
		return false, err
	}
	res, err := db.Exec(q, id)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	return affected == 1, err
}

func (s *sqlite) InsertEvent(e Event) error {
	q := `
	INSERT INTO event (id, app_key_id, message_record_id,
	                   provider_message_id, event_type, occurred_at,
	                   recipient_email, ip, user_agent,
	                   provider_payload, created_at)
	VALUES (:id, :app_key_id, :message_record_id,
	        :provider_message_id, :event_type, :occurred_at,
	        :recipient_email, :ip, :user_agent,
	        :provider_payload, :created_at)
	`
	db, err := s.getDB()
	if err != nil {
		return err
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().In(time.UTC)
	}
	_, err = db.NamedExec(q, e)
	if err != nil {
		return fmt.Errorf("failed to insert event, %w", err)
	}
	return nil
}

func (s *sqlite) ListEvents(appKeyId, messageRecordId string, limit int) ([]Event, error) {
	q := `
	SELECT * FROM event
	WHERE app_key_id = ?
	  AND message_record_id = ?
	ORDER BY created_at ASC, id ASC
	LIMIT ?
	`
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}
	var events []Event
	err = db.Select(&events, q, appKeyId, messageRecordId, limit)
	return events, err
}

func (s *sqlite) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *sqlite) tuneDatabase() error {
	q := `pragma journal_mode = WAL;
			pragma synchronous = normal;
			pragma temp_store = memory;
			pragma foreign_keys = on;`

	if s.db == nil {
		return errors.New("db must be instantiated")
	}
	_, err := s.db.Exec(q)
	return err
}

// getDB lazily connects and reconnects after a failed ping. The mutex
// keeps concurrent handlers from racing on the close/reassign.
func (s *sqlite) getDB() (*sqlx.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var err error
	for s.db == nil || s.db.Ping() != nil {

		if s.db != nil {
			_ = s.db.Close()
			s.db = nil
		}

		s.db, err = sqlx.Connect("sqlite3", s.path)
		if err != nil {
			return nil, fmt.Errorf("error while connecting, %w", err)
		}
		err = s.tuneDatabase()
		if err != nil {
			return nil, fmt.Errorf("error while tuning db instance, %w", err)
		}
	}

	return s.db, nil
}

func (s *sqlite) ensureSchema() error {

	db, err := s.getDB()
	if err != nil {
		return fmt.Errorf("could not get db, %w", err)
	}

	_, err = db.Exec(`
	CREATE TABLE IF NOT EXISTS app_key (
	    id         TEXT PRIMARY KEY,
	    name       TEXT NOT NULL,
	    key_hash   TEXT NOT NULL UNIQUE,
	    key_prefix TEXT NOT NULL,

	    default_from_name  TEXT,
	    default_from_email TEXT,
	    tags               TEXT,

	    webhook_url    TEXT,
	    webhook_secret TEXT,
	    webhook_events TEXT,

	    revoked_at DATETIME,
	    created_at DATETIME NOT NULL DEFAULT (strftime('%Y-%m-%d %H:%M:%f', 'now'))
	);

	CREATE TABLE IF NOT EXISTS message (
	    id         TEXT PRIMARY KEY,
	    app_key_id TEXT NOT NULL REFERENCES app_key (id),

	    provider_message_id TEXT,

	    to_addresses  TEXT NOT NULL,
	    cc_addresses  TEXT,
	    bcc_addresses TEXT,
	    from_email    TEXT NOT NULL,
	    from_name     TEXT,

	    subject     TEXT,
	    template_id INTEGER,
	    tags        TEXT,

	    status            TEXT NOT NULL DEFAULT 'pending', -- pending, queued, failed, opened
	    provider_response TEXT,

	    idempotency_key TEXT,
	    created_at      DATETIME NOT NULL DEFAULT (strftime('%Y-%m-%d %H:%M:%f', 'now'))
	);

	-- The exactly-once guarantee surface, see InsertMessage.
	CREATE UNIQUE INDEX IF NOT EXISTS uq_message_idempotency
	    ON message (app_key_id, idempotency_key)
	    WHERE idempotency_key IS NOT NULL;

	CREATE INDEX IF NOT EXISTS idx_message_app_key_created
	    ON message (app_key_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_message_provider_id
	    ON message (provider_message_id);

	CREATE TABLE IF NOT EXISTS event (
	    id                TEXT PRIMARY KEY,
	    app_key_id        TEXT NOT NULL REFERENCES app_key (id),
	    message_record_id TEXT NOT NULL REFERENCES message (id),

	    provider_message_id TEXT,
	    event_type          TEXT NOT NULL,
	    occurred_at         DATETIME,
	    recipient_email     TEXT,
	    ip                  TEXT,
	    user_agent          TEXT,

	    provider_payload TEXT NOT NULL,
	    created_at       DATETIME NOT NULL DEFAULT (strftime('%Y-%m-%d %H:%M:%f', 'now'))
	);

	CREATE INDEX IF NOT EXISTS idx_event_message
	    ON event (message_record_id);
	CREATE INDEX IF NOT EXISTS idx_event_app_key
	    ON event (app_key_id);
`)
	if err != nil {
		return fmt.Errorf("could not upsert schema, %w", err)
	}

	return err
}
