package service

import "context"

// AuditSink persists security events received by the audit worker. A returned
// error means the event was not stored and the delivery should be retried.
type AuditSink interface {
	Record(ctx context.Context, event *SecurityEvent) error
}
