// Package client is the HTTP client for the group-chat backend.
//
// # Overview
//
// The backend exposes a REST API under /api/v1 and one Server-Sent Events
// stream per group. Client wraps both:
//
//   - Groups: ListGroups, CreateGroup, DeleteGroup
//   - Membership: ListAgents, ListGroupAgents, AddAgentToGroup, RemoveAgentFromGroup
//   - Messages: ListMessages, SendMessage, StopChain
//   - Documents: ListDocuments, UploadDocument
//   - Events: OpenStream returns an EventStream of raw frame payloads
//
// # Errors
//
// Non-2xx responses become *APIError carrying the status code and the
// backend's detail message:
//
//	var apiErr *client.APIError
//	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
//	    ...
//	}
//
// # Streams
//
// REST calls share an http.Client with the configured timeout. Streams use
// a second client with no timeout since they stay open for the life of a
// group selection; cancel the context or call Close to release them.
package client
