// Package softdelete centralizes logical deletion.
//
// Records embed Marker; reads filter with NotDeleted in Go or LiveClause in
// SQL so every endpoint agrees on visibility. A deletion timestamp is set
// once and never cleared. Purger removes rows permanently once they have
// been deleted for longer than the retention window (30 days by default).
package softdelete
