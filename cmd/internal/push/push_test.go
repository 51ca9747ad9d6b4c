package push

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"jobchat/cmd/internal/chat"

	"firebase.google.com/go/messaging"
	"github.com/hibiken/asynq"
)

type fakeSender struct {
	got *messaging.Message
	err error
}

func (f *fakeSender) Send(_ context.Context, m *messaging.Message) (string, error) {
	f.got = m
	if f.err != nil {
		return "", f.err
	}
	return "projects/x/messages/1", nil
}

type recordingNotifier struct {
	got []chat.Notification
	err error
}

func (r *recordingNotifier) Notify(_ context.Context, n chat.Notification) error {
	r.got = append(r.got, n)
	return r.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sampleNotification() chat.Notification {
	return chat.Notification{
		Token: "device-token",
		Title: "New message from Ann",
		Body:  "Running late",
		Data: map[string]string{
			"type":       "new_message",
			"message_id": "01JMSG",
			"booking_id": "B1",
		},
	}
}

func TestBuildMessage_PlatformOptions(t *testing.T) {
	t.Parallel()

	m := buildMessage(sampleNotification())

	if m.Token != "device-token" {
		t.Fatalf("token=%q", m.Token)
	}
	if m.Notification == nil || m.Notification.Title != "New message from Ann" || m.Notification.Body != "Running late" {
		t.Fatalf("notification=%#v", m.Notification)
	}
	if m.Data["booking_id"] != "B1" {
		t.Fatalf("data=%v", m.Data)
	}
	aps := m.APNS.Payload.Aps
	if !aps.ContentAvailable || aps.Sound != "default" || aps.Badge == nil || *aps.Badge != 1 {
		t.Fatalf("aps=%#v", aps)
	}
	if m.Android.Priority != "high" || m.Android.Notification.ChannelID != "messages" {
		t.Fatalf("android=%#v", m.Android)
	}
}

func TestFCMNotifier_Notify(t *testing.T) {
	t.Parallel()

	s := &fakeSender{}
	n := &FCMNotifier{log: testLogger(), client: s}

	if err := n.Notify(context.Background(), sampleNotification()); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if s.got == nil || s.got.Token != "device-token" {
		t.Fatalf("sender did not receive message: %#v", s.got)
	}

	s.err = errors.New("unavailable")
	if err := n.Notify(context.Background(), sampleNotification()); err == nil {
		t.Fatalf("expected provider error to surface")
	}

	empty := sampleNotification()
	empty.Token = ""
	if err := n.Notify(context.Background(), empty); err == nil {
		t.Fatalf("expected error for empty token")
	}
}

func TestWorker_HandleNotify(t *testing.T) {
	t.Parallel()

	rec := &recordingNotifier{}
	w := &Worker{log: testLogger(), notifier: rec}

	task, err := newNotifyTask(sampleNotification())
	if err != nil {
		t.Fatalf("newNotifyTask: %v", err)
	}
	if task.Type() != TaskTypeNotify {
		t.Fatalf("task type=%q", task.Type())
	}

	if err := w.HandleNotify(context.Background(), task); err != nil {
		t.Fatalf("HandleNotify: %v", err)
	}
	if len(rec.got) != 1 || rec.got[0].Token != "device-token" || rec.got[0].Data["message_id"] != "01JMSG" {
		t.Fatalf("notifier got %#v", rec.got)
	}
}

func TestWorker_HandleNotify_BadPayloadSkipsRetry(t *testing.T) {
	t.Parallel()

	w := &Worker{log: testLogger(), notifier: &recordingNotifier{}}
	err := w.HandleNotify(context.Background(), asynq.NewTask(TaskTypeNotify, []byte("{not json")))
	if !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("expected SkipRetry, got %v", err)
	}
}
