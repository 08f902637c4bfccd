package models

import "time"

// LinkRole classifies a link extracted from a posting
type LinkRole string

const (
	LinkOfficialNotification LinkRole = "official-notification"
	LinkApplyOnline          LinkRole = "apply-online"
	LinkAdmitCard            LinkRole = "download-admit-card"
	LinkResult               LinkRole = "result"
	LinkOfficialWebsite      LinkRole = "official-website"
	LinkOther                LinkRole = "other"
)

// Link is a role-tagged link. URL always holds a sanitized, navigable value.
type Link struct {
	Role  LinkRole `json:"role"`
	Label string   `json:"label,omitempty"`
	URL   string   `json:"url"`
}

// JobCandidate is a posting extracted from a document, not yet reconciled.
type JobCandidate struct {
	SourceID           string       `json:"source_id"`
	SourceURL          string       `json:"source_url,omitempty"` // Page the block was found on
	Title              TextField    `json:"title"`
	Eligibility        MappingField `json:"eligibility"`
	Fees               MappingField `json:"fees"`
	ApplicationProcess StepsField   `json:"application_process"`
	Links              []Link       `json:"links,omitempty"`
	Summary            string       `json:"summary,omitempty"` // Markdown rendering of the block
	ExtractedBy        string       `json:"extracted_by,omitempty"`
	Degraded           []string     `json:"degraded,omitempty"` // Field names that fell back to unknown
}

// IdentityKey is the deterministic identity of a posting across scans.
type IdentityKey string

// JobRecord is the stored shape of a reconciled posting.
type JobRecord struct {
	ID                 string       `json:"id"`
	IdentityKey        IdentityKey  `json:"identity_key"`
	SourceID           string       `json:"source_id"`
	SourceURL          string       `json:"source_url,omitempty"`
	Title              TextField    `json:"title"`
	Eligibility        MappingField `json:"eligibility"`
	Fees               MappingField `json:"fees"`
	ApplicationProcess StepsField   `json:"application_process"`
	Links              []Link       `json:"links,omitempty"`
	Summary            string       `json:"summary,omitempty"`
	ContentDigest      string       `json:"content_digest"`
	CreatedAt          time.Time    `json:"created_at"`
	UpdatedAt          time.Time    `json:"updated_at"`
}

// ApplyCandidate copies the candidate's extracted fields onto the record.
func (r *JobRecord) ApplyCandidate(c *JobCandidate) {
	r.SourceID = c.SourceID
	r.SourceURL = c.SourceURL
	r.Title = c.Title
	r.Eligibility = c.Eligibility
	r.Fees = c.Fees
	r.ApplicationProcess = c.ApplicationProcess
	r.Links = c.Links
	r.Summary = c.Summary
}

// Decision is the reconciliation verdict for one candidate.
type Decision struct {
	Kind       DecisionKind `json:"kind"`
	Key        IdentityKey  `json:"key"`
	Digest     string       `json:"digest"`
	ExistingID string       `json:"existing_id,omitempty"`
	Warnings   []string     `json:"warnings,omitempty"`
}
