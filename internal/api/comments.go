package api

import (
	"context"
	"fmt"

	"github.com/rickgao/taskstream/internal/model"
)

// ThreadKind identifies which resource a comment thread belongs to.
type ThreadKind string

const (
	ThreadTask ThreadKind = "tasks"
	ThreadNews ThreadKind = "news"
)

// CommentsPath returns the snapshot path for a thread.
func CommentsPath(kind ThreadKind, id int64) string {
	return fmt.Sprintf("/%s/%d/comments", kind, id)
}

// CommentsStreamPath returns the event-stream path for a thread.
func CommentsStreamPath(kind ThreadKind, id int64) string {
	return fmt.Sprintf("/sse/%s/%d/comments", kind, id)
}

// Comments returns the full comment list of a thread.
func (c *Client) Comments(ctx context.Context, kind ThreadKind, id int64) (model.CommentsPage, error) {
	var page model.CommentsPage
	if err := c.get(ctx, CommentsPath(kind, id), nil, &page); err != nil {
		return model.CommentsPage{}, err
	}
	return page, nil
}

// TaskComments returns the comment list of a task.
func (c *Client) TaskComments(ctx context.Context, taskID int64) (model.CommentsPage, error) {
	return c.Comments(ctx, ThreadTask, taskID)
}

// NewsComments returns the comment list of a news post.
func (c *Client) NewsComments(ctx context.Context, newsID int64) (model.CommentsPage, error) {
	return c.Comments(ctx, ThreadNews, newsID)
}
