// Package events publishes one VerdictEvent per screening call.
//
// Emitters are fire-and-forget: Emit returns once the event is handed off
// and never waits for delivery. LogEmitter writes to slog, PubSubEmitter
// publishes JSON to Google Cloud Pub/Sub, and MultiEmitter fans out to both.
package events
