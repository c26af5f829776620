// Package services implements the application layer between the HTTP
// transport or the CLI and the scoring pipeline.
//
// # Architecture
//
// Services follow these principles:
//
//	1. Dependencies (pipeline, stores, logger) are injected by the caller
//	2. Every blocking method takes a context for cancellation and tracing
//	3. Errors are AppErrors so transports can map them to problem details
//
// # Services
//
// ScoringService ingests a table, runs the pipeline, persists the run
// snapshot and keeps the scored run in a bounded in-memory RunStore. It
// renders explanations against the persisted snapshot and mines
// association rules for the processes a Flagger selects.
//
// HealthService reports liveness, readiness (data directory and snapshot
// store) and version information.
//
// # Usage Example
//
//	runs := services.NewRunStore(cfg.Server.MaxRuns)
//	svc := services.NewScoringService(p, runs, store, loader, logger)
//
//	run, err := svc.ScoreFile(ctx, "items.csv")
//	text, err := svc.Explain(ctx, run.ID, 4)
package services
