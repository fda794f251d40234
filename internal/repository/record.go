package repository

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/iliyamo/branch-reservation/internal/model"
)

// storedDocument is the union of every document shape ever written.
// Version 1 documents kept the slot as separate reservation_date
// (YYYY-MM-DD) and reservation_time (HH:MM) strings in UTC and had no
// schema_version field.
type storedDocument struct {
	model.Reservation
	LegacyDate string `json:"reservation_date,omitempty"`
	LegacyTime string `json:"reservation_time,omitempty"`
}

// decodeDocument parses a stored document and upgrades it to the current
// shape.  The returned flag reports whether an upgrade happened, so the
// caller can write the new shape back.
func decodeDocument(id string, data []byte) (*model.Reservation, bool, error) {
	var doc storedDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, false, fmt.Errorf("decode reservation %s: %w", id, err)
	}
	if doc.ID == "" {
		doc.ID = id
	}
	upgraded, err := upgradeDocument(&doc)
	if err != nil {
		return nil, false, fmt.Errorf("upgrade reservation %s: %w", id, err)
	}
	r := doc.Reservation
	return &r, upgraded, nil
}

func upgradeDocument(doc *storedDocument) (bool, error) {
	if doc.SchemaVersion >= model.CurrentSchemaVersion {
		return false, nil
	}
	if doc.ScheduledAt.IsZero() && doc.LegacyDate != "" {
		at, err := time.ParseInLocation("2006-01-02 15:04", doc.LegacyDate+" "+doc.LegacyTime, time.UTC)
		if err != nil {
			return false, err
		}
		doc.ScheduledAt = at
	}
	if doc.ScheduledAt.IsZero() {
		return false, fmt.Errorf("no scheduled time")
	}
	doc.ScheduledAt = doc.ScheduledAt.UTC()
	if doc.Status == "" {
		doc.Status = model.StatusAccepted
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = doc.ScheduledAt
	}
	if doc.UpdatedAt.IsZero() {
		doc.UpdatedAt = doc.CreatedAt
	}
	doc.LegacyDate, doc.LegacyTime = "", ""
	doc.SchemaVersion = model.CurrentSchemaVersion
	return true, nil
}

func encodeDocument(r *model.Reservation) ([]byte, error) {
	cp := r.Clone()
	cp.ScheduledAt = cp.ScheduledAt.UTC()
	cp.SchemaVersion = model.CurrentSchemaVersion
	return json.Marshal(cp)
}
