package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	syncer "pantryat/backend/sync"
	"pantryat/internal/config"
	"pantryat/internal/notification"
	"pantryat/internal/utils"
)

func newNotifier(conf *config.Config, logger zerolog.Logger) *notification.Manager {
	return notification.New(notification.Config{
		Enabled: conf.IsNotificationEnabled(),
		OS:      conf.IsOSNotificationEnabled(),
		LogPath: conf.GetNotificationLogPath(),
	}, logger)
}

// droppedNotification describes a queued change the daemon gave up on.
func droppedNotification(op syncer.PendingOperation, err error) notification.Notification {
	subject := op.ID
	var item struct {
		Name string `json:"name"`
	}
	if json.Unmarshal(op.Payload, &item) == nil && item.Name != "" {
		subject = item.Name
	}
	msg := fmt.Sprintf("Gave up on %s of %s after %d attempts", op.Action, subject, op.AttemptCount)
	if err != nil {
		msg += ": " + err.Error()
	}
	return notification.Notification{Type: notification.SyncDropped, Title: "pantryat sync", Message: msg}
}

// newNotificationCmd creates the 'notification' subcommand
func newNotificationCmd(stdout io.Writer, cfg *Config) *cobra.Command {
	notificationCmd := &cobra.Command{
		Use:   "notification",
		Short: "Daemon notifications",
		Long:  "Test notification delivery and read the log of notifications sent by the daemon.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	notificationCmd.AddCommand(&cobra.Command{
		Use:   "test",
		Short: "Send a test notification",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, cfg, stdout, doNotificationTest)
		},
	})

	logCmd := &cobra.Command{
		Use:   "log",
		Short: "Show sent notifications",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, cfg, stdout, doNotificationLog)
		},
	}
	logCmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Empty the notification log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, cfg, stdout, func(ctx context.Context, a *app) error {
				if err := notification.ClearLog(a.conf.GetNotificationLogPath()); err != nil {
					return err
				}
				if a.jsonOutput() {
					return writeJSON(a.stdout, map[string]string{"result": ResultActionCompleted})
				}
				_, _ = fmt.Fprintln(a.stdout, "Notification log cleared")
				a.done(ResultActionCompleted)
				return nil
			})
		},
	})
	notificationCmd.AddCommand(logCmd)
	return notificationCmd
}

func doNotificationTest(ctx context.Context, a *app) error {
	if !a.conf.IsNotificationEnabled() {
		return utils.WrapWithSuggestion(errors.New("notifications are disabled"),
			"Set notification.enabled: true in your config file")
	}
	n := newNotifier(a.conf, a.log)
	defer func() { _ = n.Close() }()

	err := n.Send(notification.Notification{
		Type:    notification.Test,
		Title:   "pantryat",
		Message: "Notifications are working",
	})
	if err != nil {
		return fmt.Errorf("sending test notification: %w", err)
	}
	if a.jsonOutput() {
		return writeJSON(a.stdout, map[string]any{"channels": n.Len(), "result": ResultActionCompleted})
	}
	_, _ = fmt.Fprintf(a.stdout, "Test notification sent to %d channels\n", n.Len())
	a.done(ResultActionCompleted)
	return nil
}

func doNotificationLog(ctx context.Context, a *app) error {
	lines, err := notification.ReadLog(a.conf.GetNotificationLogPath())
	if err != nil {
		return fmt.Errorf("reading notification log: %w", err)
	}
	if a.jsonOutput() {
		if lines == nil {
			lines = []string{}
		}
		return writeJSON(a.stdout, map[string]any{"entries": lines, "result": ResultInfoOnly})
	}
	if len(lines) == 0 {
		_, _ = fmt.Fprintln(a.stdout, "No notifications")
	}
	for _, l := range lines {
		_, _ = fmt.Fprintln(a.stdout, l)
	}
	a.done(ResultInfoOnly)
	return nil
}
