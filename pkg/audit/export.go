package audit

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"
)

// Export writes the events matching the filter to w and returns how many were
// written
func (l *DBLogger) Export(ctx context.Context, w io.Writer, filter Filter, format ExportFormat) (int, error) {
	events, err := l.Query(ctx, filter)
	if err != nil {
		return 0, err
	}

	switch format {
	case ExportFormatNDJSON, "":
		err = exportNDJSON(w, events)
	case ExportFormatCSV:
		err = exportCSV(w, events)
	default:
		return 0, fmt.Errorf("unsupported export format: %s", format)
	}
	if err != nil {
		return 0, err
	}
	return len(events), nil
}

// exportNDJSON exports audit events as newline-delimited JSON
func exportNDJSON(w io.Writer, events []*AuditEvent) error {
	encoder := json.NewEncoder(w)
	for _, event := range events {
		if err := encoder.Encode(event); err != nil {
			return fmt.Errorf("failed to encode event: %w", err)
		}
	}
	return nil
}

// exportCSV exports audit events as CSV
func exportCSV(w io.Writer, events []*AuditEvent) error {
	writer := csv.NewWriter(w)

	header := []string{
		"ID",
		"Timestamp",
		"EventType",
		"Status",
		"ActorID",
		"TargetUserID",
		"RoleID",
		"Permission",
		"RequestID",
		"Message",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, event := range events {
		record := []string{
			event.ID,
			event.Timestamp.Format(time.RFC3339Nano),
			string(event.EventType),
			string(event.Status),
			formatID(event.ActorID),
			formatID(event.TargetUserID),
			formatID(event.RoleID),
			event.Permission,
			event.RequestID,
			event.Message,
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("failed to write CSV record: %w", err)
		}
	}

	writer.Flush()
	return writer.Error()
}

func formatID(id *int64) string {
	if id == nil {
		return ""
	}
	return strconv.FormatInt(*id, 10)
}
