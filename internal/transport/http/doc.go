// Package http implements the HTTP handlers of the scoring service. Handlers
// stay thin: they parse and validate requests, call the services layer and
// render responses; scoring logic lives in the pipeline packages.
//
// # Routes
//
//	POST   /api/v1/runs                                   score JSON items or an uploaded CSV/XLSX table
//	GET    /api/v1/runs                                   list runs held in memory
//	GET    /api/v1/runs/{runID}                           run summary, ?top=N adds the top items
//	DELETE /api/v1/runs/{runID}                           drop a run and its snapshot
//	GET    /api/v1/runs/{runID}/snapshot                  persisted baseline snapshot
//	GET    /api/v1/runs/{runID}/items                     ranked items, ?format=json|csv|xlsx
//	GET    /api/v1/runs/{runID}/items/{rowID}             one item
//	GET    /api/v1/runs/{runID}/items/{rowID}/explanation explanation, ?format=json|text
//	POST   /api/v1/runs/{runID}/associations              mine rules over flagged processes
//	GET    /api/v1/runs/{runID}/associations              last mined rules, ?format=json|csv
//	GET    /healthz                                       liveness probe
//	GET    /metrics                                       Prometheus exposition
//
// # Errors
//
// All errors are RFC 7807 problem documents produced by the shared
// errors.ErrorHandler. Undefined scores (the model was unavailable, or a
// group had no spread) are rendered as JSON null.
package http
