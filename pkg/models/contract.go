package models

import "time"

// Contract is the slice of a government contract record the queue cares
// about. Contract ingestion and CRUD are owned by a separate service; the
// populator only reads notice ids and attached document links.
type Contract struct {
	NoticeID      string    `db:"notice_id"      json:"notice_id"`
	Title         string    `db:"title"          json:"title"`
	Agency        string    `db:"agency"         json:"agency"`
	ResourceLinks []string  `db:"resource_links" json:"resource_links"`
	PostedAt      time.Time `db:"posted_at"      json:"posted_at"`
}
