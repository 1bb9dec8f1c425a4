// Package screenshot defines the domain types, error kinds, and collaborator
// interfaces shared by the capture pipeline.
//
// A capture flows through fixed stages: the target is probed, a browser session
// is launched, navigated, allowed to settle, and captured to a transient PNG
// artifact. The artifact is re-encoded under a byte ceiling and the resulting
// JPEG is published to object storage together with a project record update.
// Concrete adapters live in sibling packages (prober, browser, compress,
// artifact, storage/*, notify/*) and are wired together by internal/server.
package screenshot
