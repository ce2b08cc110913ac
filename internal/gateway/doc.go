// Package gateway serves the entity API over HTTP.
//
// # Overview
//
// The Gateway owns the store handle, the entity service, the idempotency
// cache, the Prometheus registry and the listeners. Handlers translate HTTP
// requests into entity.Service calls and results into JSON.
//
// # HTTP API
//
//   - GET /types - List entity types
//   - GET /type/{id}/entities?q=&offset=&pageSize= - Search a type
//   - POST /type/{id}/entity - Create an entity (honours Idempotency-Key)
//   - GET /type/{id}/entity/{entityId} - Fetch an entity
//   - PUT /type/{id}/entity/{entityId} - Merge a change summary into an entity
//   - DELETE /type/{id}/entity/{entityId} - Delete an entity and its blobs
//   - GET /type/{id}/entity/{entityId}/blob/{blobName} - Stream blob content
//   - PUT /type/{id}/entity/{entityId}/blob/{blobName} - Upload blob content
//   - GET /health, GET /health/ready - Liveness and store readiness
//   - GET /metrics - Prometheus exposition (when metrics.enabled)
//
// # Errors
//
// Every failed operation passes through an ErrorPolicy. DefaultErrorPolicy
// answers 400 for invalid input and 404 for any failure listing types,
// searching or getting an entity. Blob downloads and writes answer 404 when the
// target is missing and 500 otherwise. The body is always {"error": "..."}.
//
// # gRPC
//
// When server.grpc_addr is set (or Tailscale is enabled) a gRPC server exposes
// grpc.health.v1.Health. It reports NOT_SERVING once Shutdown starts.
//
// # Lifecycle
//
//	gw, err := gateway.New(cfg, logger)
//	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
//	defer cancel()
//	err = gw.Run(ctx) // blocks; shuts down when ctx is canceled
package gateway
