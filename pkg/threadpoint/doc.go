// Package threadpoint provides the public façade for checkpoint
// persistence without importing internal packages. It re-exports the
// core checkpoint types for convenience and exposes a Runtime wiring a
// storage backend, the policy service, backups, and the workflow layer
// behind simple methods. LoadConfig layers defaults, a YAML file, and
// THREADPOINT_* environment variables into a runtime configuration.
package threadpoint
