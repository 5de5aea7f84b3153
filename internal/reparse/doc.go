// Package reparse re-runs the ingestion pipeline for documents that are
// already known.
//
//	receipt, err := o.Reparse(ctx, reparse.Request{
//	    Mode:    reparse.ModeSelected,
//	    Targets: []string{"2023-"},
//	})
//
// Targets match by substring, so a shared prefix selects a batch. A token
// that matches no document is reported under not_found.
//
// Reparse returns a receipt as soon as the selected documents have had
// their passages removed and been queued. The pipeline runs afterwards on
// a bounded pool; progress is visible on the status event stream.
package reparse
