package softdelete

import (
	"errors"
	"time"
)

// Column is the deletion timestamp column shared by every soft-deletable
// table.
const Column = "deleted_at"

// DefaultRetention is how long a soft-deleted row is kept before it may be
// permanently purged.
const DefaultRetention = 30 * 24 * time.Hour

// ErrAlreadyDeleted is returned when a deletion timestamp would be
// overwritten.
var ErrAlreadyDeleted = errors.New("record is already deleted")

// Marker records logical deletion. It is embedded in every soft-deletable
// entity.
type Marker struct {
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
	DeletedBy *int64     `json:"deleted_by,omitempty"`
}

// Record is implemented by any type embedding Marker.
type Record interface {
	SoftDeleteMarker() Marker
}

// SoftDeleteMarker returns the marker itself, promoting Record to embedders.
func (m Marker) SoftDeleteMarker() Marker {
	return m
}

// IsDeleted reports whether the deletion timestamp is set.
func (m Marker) IsDeleted() bool {
	return m.DeletedAt != nil
}

// MarkDeleted sets the deletion timestamp once. The timestamp is immutable
// afterwards.
func (m *Marker) MarkDeleted(by int64, at time.Time) error {
	if m.DeletedAt != nil {
		return ErrAlreadyDeleted
	}
	at = at.UTC()
	m.DeletedAt = &at
	m.DeletedBy = &by
	return nil
}

// NotDeleted is the live-record predicate applied to every standard read.
func NotDeleted[T Record](r T) bool {
	return !r.SoftDeleteMarker().IsDeleted()
}

// OnlyDeleted selects records in the trash.
func OnlyDeleted[T Record](r T) bool {
	return r.SoftDeleteMarker().IsDeleted()
}

// FilterLive returns the live records of in, preserving order.
func FilterLive[T Record](in []T) []T {
	return filter(in, NotDeleted[T])
}

// FilterDeleted returns the deleted records of in, preserving order.
func FilterDeleted[T Record](in []T) []T {
	return filter(in, OnlyDeleted[T])
}

func filter[T Record](in []T, keep func(T) bool) []T {
	out := make([]T, 0, len(in))
	for _, r := range in {
		if keep(r) {
			out = append(out, r)
		}
	}
	return out
}

// TimeSinceDeletion returns how long ago the record was deleted. The second
// result is false for live records.
func TimeSinceDeletion(m Marker, now time.Time) (time.Duration, bool) {
	if m.DeletedAt == nil {
		return 0, false
	}
	return now.Sub(*m.DeletedAt), true
}

// EligibleForPurge reports whether a deleted record has outlived retention.
func EligibleForPurge(m Marker, now time.Time, retention time.Duration) bool {
	age, deleted := TimeSinceDeletion(m, now)
	return deleted && age >= retention
}
