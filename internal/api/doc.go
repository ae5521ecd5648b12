// Package api provides the REST client for the workflow server's snapshot endpoints.
//
// The snapshot endpoints back the fallback polling path of the real-time client:
//   - GET /notifications/unread-ids   {"ids": [...], "count": n}
//   - GET /notifications/latest-all   {"notifications": [...]}
//   - GET /tasks/{id}/comments        {"success": true, "comments": [...], "total": n}
//   - GET /news/{id}/comments         same shape as task comments
//
// Streaming endpoints live under /sse/ and are consumed by package connection.
package api
