// Package audit records every change to the permission model.
//
// Each mutation in pkg/rbac produces one Event naming what changed, who
// changed it and the request it came from:
//
//	event := audit.NewEvent(ctx, audit.EventGrantSet, audit.ResourceGrant, "librarian/12")
//	event.Changes = &audit.ChangeDetails{After: map[string]interface{}{"granted": true}}
//	logger.Log(ctx, event)
//
// DBLogger stores events in audit_logs and backs GET /api/v1/audit/events.
// SlogLogger mirrors them into the application log. MultiLogger treats the
// DBLogger as the primary and the SlogLogger as a mirror whose failures never
// fail a mutation.
package audit
