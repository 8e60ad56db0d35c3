package audit

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"
)

// ContentType is the HTTP media type of an export in f.
func (f ExportFormat) ContentType() string {
	switch f {
	case ExportFormatCSV:
		return "text/csv"
	case ExportFormatNDJSON:
		return "application/x-ndjson"
	default:
		return "application/json"
	}
}

// Filename is the attachment name used for downloads.
func (f ExportFormat) Filename() string {
	if f == "" {
		f = ExportFormatJSON
	}
	return "curator-audit." + string(f)
}

// ParseExportFormat accepts json, ndjson and csv. An empty string means json.
func ParseExportFormat(s string) (ExportFormat, error) {
	switch f := ExportFormat(s); f {
	case "":
		return ExportFormatJSON, nil
	case ExportFormatJSON, ExportFormatNDJSON, ExportFormatCSV:
		return f, nil
	default:
		return "", fmt.Errorf("unsupported export format: %s", s)
	}
}

var csvColumns = []string{
	"id", "timestamp", "event_type", "status", "actor_id",
	"resource_type", "resource_id", "permission", "granted",
	"request_id", "message", "error",
}

// Export writes events to w in format.
func Export(w io.Writer, events []*Event, format ExportFormat) error {
	switch format {
	case ExportFormatJSON, "":
		if events == nil {
			events = []*Event{}
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(events)
	case ExportFormatNDJSON:
		enc := json.NewEncoder(w)
		for _, e := range events {
			if err := enc.Encode(e); err != nil {
				return fmt.Errorf("encode event %d: %w", e.ID, err)
			}
		}
		return nil
	case ExportFormatCSV:
		return writeCSV(w, events)
	default:
		return fmt.Errorf("unsupported export format: %s", format)
	}
}

func writeCSV(w io.Writer, events []*Event) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvColumns); err != nil {
		return err
	}
	for _, e := range events {
		if err := cw.Write(csvRow(e)); err != nil {
			return fmt.Errorf("write event %d: %w", e.ID, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// csvRow flattens the permission and granted values of the change, when the
// event carries one.
func csvRow(e *Event) []string {
	var actor, permission, granted string
	if e.ActorID != nil {
		actor = e.ActorID.String()
	}
	if e.Changes != nil {
		change := e.Changes.After
		if change == nil {
			change = e.Changes.Before
		}
		if v, ok := change["permission"].(string); ok {
			permission = v
		}
		if v, ok := change["granted"].(bool); ok {
			granted = strconv.FormatBool(v)
		}
	}
	return []string{
		strconv.FormatInt(e.ID, 10),
		e.Timestamp.UTC().Format(time.RFC3339),
		string(e.EventType),
		string(e.Status),
		actor,
		string(e.ResourceType),
		e.ResourceID,
		permission,
		granted,
		e.RequestID,
		e.Message,
		e.ErrorMessage,
	}
}
