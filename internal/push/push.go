package push

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/rs/zerolog"

	"github.com/concertify/concertify/internal/models"
)

// Notifier sends Web Push notifications to subscribed users.
type Notifier struct {
	db              *sql.DB
	vapidPublicKey  string
	vapidPrivateKey string
	log             zerolog.Logger
}

// Subscription represents a stored Web Push subscription.
type Subscription struct {
	Endpoint  string `json:"endpoint"`
	KeyP256dh string `json:"p256dh"`
	KeyAuth   string `json:"auth"`
}

// NewNotifier creates a push Notifier. Returns nil if VAPID keys are empty.
func NewNotifier(db *sql.DB, vapidPublicKey, vapidPrivateKey string, logger zerolog.Logger) *Notifier {
	if vapidPublicKey == "" || vapidPrivateKey == "" {
		return nil
	}
	return &Notifier{
		db:              db,
		vapidPublicKey:  vapidPublicKey,
		vapidPrivateKey: vapidPrivateKey,
		log:             logger,
	}
}

// VAPIDPublicKey returns the public VAPID key for the frontend.
func (n *Notifier) VAPIDPublicKey() string {
	return n.vapidPublicKey
}

// Subscribe stores a browser's push subscription for the user. Re-posting
// an endpoint reactivates it.
func (n *Notifier) Subscribe(userID string, sub Subscription) error {
	if n == nil {
		return nil
	}
	_, err := n.db.Exec(`
		INSERT INTO push_subscriptions (user_id, endpoint, p256dh, auth)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(endpoint) DO UPDATE SET
			user_id = excluded.user_id, p256dh = excluded.p256dh,
			auth = excluded.auth, revoked_at = NULL`,
		userID, sub.Endpoint, sub.KeyP256dh, sub.KeyAuth)
	if err != nil {
		return fmt.Errorf("store push subscription: %w", err)
	}
	return nil
}

// Unsubscribe revokes the subscription for an endpoint.
func (n *Notifier) Unsubscribe(endpoint string) error {
	if n == nil {
		return nil
	}
	_, err := n.db.Exec(
		"UPDATE push_subscriptions SET revoked_at = CURRENT_TIMESTAMP WHERE endpoint = ?", endpoint)
	if err != nil {
		return fmt.Errorf("revoke push subscription: %w", err)
	}
	return nil
}

// payload is the JSON structure sent inside the push notification.
type payload struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	URL   string `json:"url"`
}

// SendNewMessageNotification sends a push notification to all subscriptions of receiverID.
func (n *Notifier) SendNewMessageNotification(receiverID, senderUsername string) {
	if n == nil {
		return
	}
	p := payload{
		Title: "New message",
		Body:  "New message from " + senderUsername,
		URL:   "/",
	}
	n.sendToUser(receiverID, p)
}

// EmergencyReported alerts every checked-in attendee except the reporter.
func (n *Notifier) EmergencyReported(ctx context.Context, concert models.Concert, report models.EmergencyReport) {
	if n == nil {
		return
	}

	rows, err := n.db.QueryContext(ctx, `
		SELECT a.user_id FROM attendance a
		JOIN users u ON u.id = a.user_id
		WHERE a.concert_id = ? AND u.username != ?`,
		report.ConcertID, report.ReportingUsername)
	if err != nil {
		n.log.Error().Err(err).Str("concert_id", report.ConcertID).
			Msg("push: failed to query attendees")
		return
	}
	defer rows.Close()

	p := payload{
		Title: "Emergency at " + concert.Name,
		Body:  report.Type + " emergency reported, check the app for updates",
		URL:   "/concerts/" + concert.ID,
	}
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			continue
		}
		n.sendToUser(userID, p)
	}
}

func (n *Notifier) sendToUser(userID string, p payload) {
	rows, err := n.db.Query(
		"SELECT endpoint, p256dh, auth FROM push_subscriptions WHERE user_id = ? AND revoked_at IS NULL",
		userID,
	)
	if err != nil {
		n.log.Error().Err(err).Str("user_id", userID).Msg("push: failed to query subscriptions")
		return
	}
	defer rows.Close()

	data, _ := json.Marshal(p)

	var subs []Subscription
	for rows.Next() {
		var sub Subscription
		if err := rows.Scan(&sub.Endpoint, &sub.KeyP256dh, &sub.KeyAuth); err != nil {
			continue
		}
		subs = append(subs, sub)
	}
	rows.Close()

	if len(subs) == 0 {
		n.log.Debug().Str("user_id", userID).Msg("push: no active subscriptions")
		return
	}

	n.log.Info().Str("user_id", userID).Int("subscriptions", len(subs)).
		Msg("push: sending notification")
	for _, sub := range subs {
		go n.sendToSubscription(sub, data)
	}
}

func (n *Notifier) sendToSubscription(sub Subscription, data []byte) {
	s := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.KeyP256dh,
			Auth:   sub.KeyAuth,
		},
	}

	resp, err := webpush.SendNotification(data, s, &webpush.Options{
		VAPIDPublicKey:  n.vapidPublicKey,
		VAPIDPrivateKey: n.vapidPrivateKey,
		Subscriber:      "mailto:push@concertify.local",
		TTL:             86400,
	})
	if err != nil {
		n.log.Warn().Err(err).Str("endpoint", sub.Endpoint).Msg("push: send failed")
		return
	}
	defer resp.Body.Close()

	n.log.Debug().Str("endpoint", sub.Endpoint).Int("status", resp.StatusCode).Msg("push: sent")

	// 410 Gone or 404 means the subscription is expired — clean it up
	if resp.StatusCode == 410 || resp.StatusCode == 404 {
		n.db.Exec("DELETE FROM push_subscriptions WHERE endpoint = ?", sub.Endpoint)
		n.log.Info().Str("endpoint", sub.Endpoint).Int("status", resp.StatusCode).
			Msg("push: removed expired subscription")
	}
}
