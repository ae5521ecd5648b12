package api

import (
	"context"

	"github.com/rickgao/taskstream/internal/model"
)

// Notification endpoint paths.
const (
	PathUnreadIDs          = "/notifications/unread-ids"
	PathLatestAll          = "/notifications/latest-all"
	PathNotificationStream = "/sse/notifications"
)

// UnreadNotificationIDs returns the IDs of the current user's unread notifications.
func (c *Client) UnreadNotificationIDs(ctx context.Context) (model.NotificationSnapshot, error) {
	var resp model.NotificationSnapshot
	if err := c.get(ctx, PathUnreadIDs, nil, &resp); err != nil {
		return model.NotificationSnapshot{}, err
	}
	if resp.Count == 0 {
		resp.Count = len(resp.IDs)
	}
	return resp, nil
}

// LatestNotifications returns every unread notification with its details.
func (c *Client) LatestNotifications(ctx context.Context) ([]model.Notification, error) {
	var resp model.LatestNotifications
	if err := c.get(ctx, PathLatestAll, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Notifications, nil
}
