// Package audit delivers security events (logins, rotations, reuse
// detection, revocations, rate-limit denials) to sinks without blocking the
// request path.
//
// The [Dispatcher] stamps each [Event] with a ULID and hands it to a single
// consumer goroutine that forwards it to a [Sink]. Sinks provided here write
// to a *slog.Logger, to an io.Writer as JSON lines, to a channel, or nowhere;
// [Fanout] combines several.
//
// This package does not decide which events to emit; the engine does.
package audit
