// Package main hosts the screenshot service entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server validates POST /api/fly/take-screenshot, acknowledges with
//     {"status":"processing"} and enqueues a capture request. Health, readiness and metrics endpoints sit beside it.
//   - Dispatcher & queue: requests flow through a bounded in-memory queue sized by pipeline.queue_depth and are
//     fanned out to a fixed worker pool sized by pipeline.concurrency.
//   - Pipeline: each worker probes the target with colly, launches a dedicated chromedp browser, waits for the page
//     to settle, captures a full page screenshot, compresses it to the configured ceiling and publishes it.
//   - Persistence & fanout: compressed images are written to the configured object store (memory/local/GCS/S3), the
//     project row is updated (memory/Postgres/SQLite) and a completion event is sent to the notifier
//     (memory/Pub/Sub).
//   - Configuration & plumbing: Viper populates config from file and SCREENSHOT_* env vars, a .env file is loaded
//     first when present, zap provides structured logging and Prometheus metrics are served on /metrics.
//
// Commands:
//   - serve: run the HTTP service until SIGINT/SIGTERM, then drain in-flight captures.
//   - capture <project_id>: run one capture synchronously and print the completion event as JSON.
package main
