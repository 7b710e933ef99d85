package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"

	"event-notify-go/internal/models"

	_ "github.com/lib/pq"
)

//go:embed schema.sql
var schemaSQL string

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// RunMigrations creates tables if they don't exist and applies schema updates
func (s *PostgresStore) RunMigrations(ctx context.Context) error {
	// Create tables
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return err
	}

	// Apply migrations for existing tables
	migrations := []string{
		`ALTER TABLE push_subscriptions ADD COLUMN IF NOT EXISTS device_name VARCHAR(255);`,
		`ALTER TABLE notifications ADD COLUMN IF NOT EXISTS type VARCHAR(100) NOT NULL DEFAULT 'general';`,
		`ALTER TABLE notifications ADD COLUMN IF NOT EXISTS data JSONB;`,
	}

	for _, migration := range migrations {
		if _, err := s.db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	return nil
}

// Push subscription methods

func (s *PostgresStore) SavePushSubscription(ctx context.Context, userID int, endpoint, p256dh, auth, deviceName string) (models.PushSubscription, error) {
	var sub models.PushSubscription
	var deviceNameCol sql.NullString

	err := s.db.QueryRowContext(ctx,
		`INSERT INTO push_subscriptions (user_id, endpoint, p256dh, auth, device_name, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, NULLIF($5, ''), NOW(), NOW())
		 ON CONFLICT (user_id, endpoint)
		 DO UPDATE SET p256dh = EXCLUDED.p256dh, auth = EXCLUDED.auth,
		               device_name = COALESCE(EXCLUDED.device_name, push_subscriptions.device_name),
		               updated_at = NOW()
		 RETURNING id, user_id, endpoint, p256dh, auth, device_name, created_at, updated_at`,
		userID, endpoint, p256dh, auth, deviceName,
	).Scan(&sub.ID, &sub.UserID, &sub.Endpoint, &sub.P256dh, &sub.Auth, &deviceNameCol, &sub.CreatedAt, &sub.UpdatedAt)

	if err != nil {
		return models.PushSubscription{}, err
	}

	if deviceNameCol.Valid {
		sub.DeviceName = deviceNameCol.String
	}

	return sub, nil
}

func (s *PostgresStore) DeletePushSubscription(ctx context.Context, userID int, endpoint string) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM push_subscriptions WHERE user_id = $1 AND endpoint = $2`,
		userID, endpoint,
	)
	if err != nil {
		return false, err
	}

	rows, _ := result.RowsAffected()
	return rows > 0, nil
}

func (s *PostgresStore) DeleteAllPushSubscriptions(ctx context.Context, userID int) (int, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM push_subscriptions WHERE user_id = $1`,
		userID,
	)
	if err != nil {
		return 0, err
	}

	rows, _ := result.RowsAffected()
	return int(rows), nil
}

func (s *PostgresStore) GetPushSubscriptions(ctx context.Context, userID int) ([]models.PushSubscription, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, endpoint, p256dh, auth, device_name, created_at, updated_at
		 FROM push_subscriptions WHERE user_id = $1 ORDER BY created_at ASC`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanSubscriptions(rows)
}

func (s *PostgresStore) AllSubscriptionsInBatches(ctx context.Context, batchSize int, visit func([]models.PushSubscription) error) error {
	if batchSize <= 0 {
		batchSize = 100
	}

	lastID := 0
	for {
		rows, err := s.db.QueryContext(ctx,
			`SELECT id, user_id, endpoint, p256dh, auth, device_name, created_at, updated_at
			 FROM push_subscriptions WHERE id > $1 ORDER BY id ASC LIMIT $2`,
			lastID, batchSize,
		)
		if err != nil {
			return err
		}

		batch, err := scanSubscriptions(rows)
		rows.Close()
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}

		if err := visit(batch); err != nil {
			return err
		}

		lastID = batch[len(batch)-1].ID
		if len(batch) < batchSize {
			return nil
		}
	}
}

func scanSubscriptions(rows *sql.Rows) ([]models.PushSubscription, error) {
	var subs []models.PushSubscription
	for rows.Next() {
		var sub models.PushSubscription
		var deviceName sql.NullString

		if err := rows.Scan(&sub.ID, &sub.UserID, &sub.Endpoint, &sub.P256dh, &sub.Auth, &deviceName, &sub.CreatedAt, &sub.UpdatedAt); err != nil {
			continue
		}

		if deviceName.Valid {
			sub.DeviceName = deviceName.String
		}
		subs = append(subs, sub)
	}

	return subs, rows.Err()
}

// Notification methods

func (s *PostgresStore) CreateNotification(ctx context.Context, title, message string, senderID *int, receiverID int, notiType string, data models.NotificationData) (models.Notification, error) {
	var dataJSON []byte
	if len(data) > 0 {
		var err error
		dataJSON, err = json.Marshal(data)
		if err != nil {
			return models.Notification{}, err
		}
	}

	n := models.Notification{
		Title:      title,
		Message:    message,
		SenderID:   senderID,
		ReceiverID: receiverID,
		Type:       notiType,
		Data:       data,
	}

	err := s.db.QueryRowContext(ctx,
		`INSERT INTO notifications (title, message, sender_id, receiver_id, type, data, created_at)
		 VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, NOW())
		 RETURNING id, created_at`,
		title, message, senderID, receiverID, notiType, dataJSON,
	).Scan(&n.ID, &n.CreatedAt)

	if err != nil {
		return models.Notification{}, err
	}

	return n, nil
}

func (s *PostgresStore) GetNotificationsByUser(ctx context.Context, userID int) ([]models.Notification, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT n.id, n.title, n.message, n.sender_id, n.receiver_id, n.type, n.data, n.is_read, n.created_at,
		        sender.username, sender.email, sender.image, sender.role
		 FROM notifications n
		 LEFT JOIN users sender ON n.sender_id = sender.id
		 WHERE n.receiver_id = $1
		 ORDER BY n.created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var notis []models.Notification
	for rows.Next() {
		n, err := scanNotification(rows.Scan)
		if err != nil {
			continue
		}
		notis = append(notis, n)
	}

	return notis, rows.Err()
}

func (s *PostgresStore) MarkNotificationRead(ctx context.Context, id int) (models.Notification, error) {
	// Idempotent: re-marking an already-read row just returns it unchanged.
	row := s.db.QueryRowContext(ctx,
		`UPDATE notifications SET is_read = TRUE WHERE id = $1
		 RETURNING id, title, message, sender_id, receiver_id, type, data, is_read, created_at,
		           NULL::varchar, NULL::varchar, NULL::varchar, NULL::varchar`,
		id,
	)

	n, err := scanNotification(row.Scan)
	if err == sql.ErrNoRows {
		return models.Notification{}, ErrNotFound
	}
	if err != nil {
		return models.Notification{}, err
	}

	return n, nil
}

func (s *PostgresStore) MarkAllNotificationsRead(ctx context.Context, userID int) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE notifications SET is_read = TRUE WHERE receiver_id = $1 AND is_read = FALSE`,
		userID,
	)
	return err
}

func (s *PostgresStore) UnreadNotificationCount(ctx context.Context, userID int) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM notifications WHERE receiver_id = $1 AND is_read = FALSE`,
		userID,
	).Scan(&count)
	return count, err
}

func (s *PostgresStore) DeleteNotification(ctx context.Context, id int) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM notifications WHERE id = $1`, id)
	if err != nil {
		return false, err
	}

	rows, _ := result.RowsAffected()
	return rows > 0, nil
}

func scanNotification(scan func(...any) error) (models.Notification, error) {
	var n models.Notification
	var message sql.NullString
	var senderID sql.NullInt64
	var dataJSON []byte
	var senderUsername, senderEmail, senderImage, senderRole sql.NullString

	err := scan(&n.ID, &n.Title, &message, &senderID, &n.ReceiverID, &n.Type, &dataJSON, &n.IsRead, &n.CreatedAt,
		&senderUsername, &senderEmail, &senderImage, &senderRole)
	if err != nil {
		return models.Notification{}, err
	}

	if message.Valid {
		n.Message = message.String
	}
	if senderID.Valid {
		id := int(senderID.Int64)
		n.SenderID = &id
	}
	if len(dataJSON) > 0 {
		if err := json.Unmarshal(dataJSON, &n.Data); err != nil {
			n.Data = nil
		}
	}
	if senderUsername.Valid {
		n.SenderUsername = senderUsername.String
	}
	if senderEmail.Valid {
		n.SenderEmail = senderEmail.String
	}
	if senderImage.Valid {
		n.SenderImage = senderImage.String
	}
	if senderRole.Valid {
		n.SenderRole = senderRole.String
	}

	return n, nil
}

// User and event directory methods

func (s *PostgresStore) CreateUser(ctx context.Context, username, email, password, role string) (models.User, error) {
	passwordHash, err := models.HashPassword(password)
	if err != nil {
		return models.User{}, err
	}

	var user models.User
	err = s.db.QueryRowContext(ctx,
		`INSERT INTO users (username, email, password_hash, role, created_at)
		 VALUES ($1, $2, $3, $4, NOW())
		 RETURNING id, username, email, password_hash, role, image, created_at`,
		username, email, passwordHash, role,
	).Scan(&user.ID, &user.Username, &user.Email, &user.PasswordHash, &user.Role, &user.Image, &user.CreatedAt)

	if err != nil {
		return models.User{}, err
	}

	return user, nil
}

func (s *PostgresStore) GetUser(ctx context.Context, id int) (models.User, error) {
	var user models.User
	err := s.db.QueryRowContext(ctx,
		`SELECT id, username, email, password_hash, role, image, created_at FROM users WHERE id = $1`,
		id,
	).Scan(&user.ID, &user.Username, &user.Email, &user.PasswordHash, &user.Role, &user.Image, &user.CreatedAt)

	if err == sql.ErrNoRows {
		return models.User{}, ErrNotFound
	}
	if err != nil {
		return models.User{}, err
	}

	return user, nil
}

func (s *PostgresStore) GetUserByUsername(ctx context.Context, username string) (models.User, error) {
	var user models.User
	err := s.db.QueryRowContext(ctx,
		`SELECT id, username, email, password_hash, role, image, created_at FROM users WHERE username = $1`,
		username,
	).Scan(&user.ID, &user.Username, &user.Email, &user.PasswordHash, &user.Role, &user.Image, &user.CreatedAt)

	if err == sql.ErrNoRows {
		return models.User{}, ErrNotFound
	}
	if err != nil {
		return models.User{}, err
	}

	return user, nil
}

func (s *PostgresStore) GetAllUserIDs(ctx context.Context) ([]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM users ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			continue
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}

func (s *PostgresStore) GetEventParticipantIDs(ctx context.Context, eventID int) ([]int, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM events WHERE id = $1)`, eventID,
	).Scan(&exists)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrNotFound
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id FROM event_participants WHERE event_id = $1 AND status = 'accepted' ORDER BY user_id ASC`,
		eventID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			continue
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}
