// Package manager owns the lifecycle of loaded models and dispatches inference to them.
// It is structured into small files by concern:
//
//   - manager.go: core Manager type, constructor, simple getters.
//   - config.go: ManagerConfig and package defaults; NewWithConfig applies defaults.
//   - types.go: per-name entry state (State, entry, Lease).
//   - errors.go: the error taxonomy (Kind, *Error) and IsX helpers.
//   - helpers.go: size estimation and the system-memory preflight.
//   - ensure.go: EnsureLoaded/Acquire and the single-flight load path.
//   - unload.go: Unload/UnloadModel and Close.
//   - dispatch.go: GenerateText, GenerateImage, RunTensorGraph, listing and Rescan.
//   - status_report.go: Status/Ready reporting.
//   - events.go, eventpub_memory.go: lifecycle event publishing.
//   - metrics.go: Prometheus collectors.
//
// Concurrency model:
//
//   - The catalog is a registry.Registry snapshot; lookups never block.
//   - Each model name maps to one entry in a concurrent map. An entry carries a one-slot
//     operation channel that serializes load and unload for that name, and a short mutex
//     around its handle and lease count. No lock is held across a load or an execution.
//   - Concurrent callers for a cold name share one adapter Load through singleflight.
//   - Loads and executions run under a bounded worker pool (semaphore.Weighted).
//
// External packages should treat this package as the orchestration layer and use public
// methods only (NewWithConfig, ListAvailableModels, GenerateText, GenerateImage,
// RunTensorGraph, EnsureLoaded, UnloadModel, Rescan, Status, Ready, Close).
package manager
