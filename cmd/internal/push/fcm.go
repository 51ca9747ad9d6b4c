// Package push sends chat push notifications through Firebase Cloud Messaging,
// directly or through an asynq queue.
package push

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"jobchat/cmd/internal/chat"

	firebase "firebase.google.com/go"
	"firebase.google.com/go/messaging"
	"google.golang.org/api/option"
)

const (
	androidChannelID   = "messages"
	androidIcon        = "notification_icon"
	androidColor       = "#FF0000"
	androidClickAction = "FLUTTER_NOTIFICATION_CLICK"
)

// FCMConfig selects Firebase credentials. CredentialsJSON wins over CredentialsFile;
// with neither, Application Default Credentials are used.
type FCMConfig struct {
	ProjectID       string
	CredentialsFile string
	CredentialsJSON string
}

type messageSender interface {
	Send(ctx context.Context, m *messaging.Message) (string, error)
}

// FCMNotifier is a chat.Notifier backed by Firebase Cloud Messaging.
type FCMNotifier struct {
	log    *slog.Logger
	client messageSender
}

var _ chat.Notifier = (*FCMNotifier)(nil)

// NewFCMNotifier initializes the Firebase app and its messaging client.
func NewFCMNotifier(ctx context.Context, log *slog.Logger, cfg FCMConfig) (*FCMNotifier, error) {
	if log == nil {
		log = slog.Default()
	}

	var opts []option.ClientOption
	switch {
	case strings.TrimSpace(cfg.CredentialsJSON) != "":
		opts = append(opts, option.WithCredentialsJSON([]byte(cfg.CredentialsJSON)))
	case strings.TrimSpace(cfg.CredentialsFile) != "":
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	var fbCfg *firebase.Config
	if cfg.ProjectID != "" {
		fbCfg = &firebase.Config{ProjectID: cfg.ProjectID}
	}

	app, err := firebase.NewApp(ctx, fbCfg, opts...)
	if err != nil {
		return nil, fmt.Errorf("push: init firebase app: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("push: init messaging client: %w", err)
	}

	log.Info("push.fcm.ready", "project_id", cfg.ProjectID)
	return &FCMNotifier{log: log, client: client}, nil
}

// Notify sends n to its device token.
func (f *FCMNotifier) Notify(ctx context.Context, n chat.Notification) error {
	if strings.TrimSpace(n.Token) == "" {
		return errors.New("push: empty device token")
	}

	id, err := f.client.Send(ctx, buildMessage(n))
	if err != nil {
		if messaging.IsRegistrationTokenNotRegistered(err) {
			f.log.Warn("push.fcm.token_unregistered", "message_id", n.Data["message_id"])
		}
		return fmt.Errorf("push: fcm send: %w", err)
	}

	f.log.Info("push.fcm.sent", "fcm_id", id, "message_id", n.Data["message_id"], "booking_id", n.Data["booking_id"])
	return nil
}

func buildMessage(n chat.Notification) *messaging.Message {
	badge := 1
	return &messaging.Message{
		Token: n.Token,
		Notification: &messaging.Notification{
			Title: n.Title,
			Body:  n.Body,
		},
		Data: n.Data,
		APNS: &messaging.APNSConfig{
			Payload: &messaging.APNSPayload{
				Aps: &messaging.Aps{
					ContentAvailable: true,
					Sound:            "default",
					Badge:            &badge,
				},
			},
		},
		Android: &messaging.AndroidConfig{
			Priority: "high",
			Notification: &messaging.AndroidNotification{
				ChannelID:   androidChannelID,
				Sound:       "default",
				Icon:        androidIcon,
				Color:       androidColor,
				ClickAction: androidClickAction,
			},
		},
	}
}
