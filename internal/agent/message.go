package agent

import (
	"fmt"

	"github.com/JakeFAU/jobhunt-agent/internal/crawler"
	"github.com/JakeFAU/jobhunt-agent/internal/hash/sha256"
)

// RecordMessage is the payload published for every accepted record.
type RecordMessage struct {
	RunID  string            `json:"run_id"`
	Domain string            `json:"domain"`
	Record crawler.JobRecord `json:"record"`
}

// Attributes are attached to the published message for subscriber filters.
func (m RecordMessage) Attributes() map[string]string {
	return map[string]string{
		"run_id":       m.RunID,
		"domain":       m.Domain,
		"dedup_status": m.Record.Dedup.String(),
		"strategy":     m.Record.Strategy.String(),
		"link_sha256":  sha256.Fingerprint(m.Record.ApplyLink),
	}
}

func recordLine(rec crawler.JobRecord, valid, target int) string {
	title := rec.Title
	if title == "" {
		title = rec.SourceURL
	}
	if runes := []rune(title); len(runes) > 80 {
		title = string(runes[:77]) + "..."
	}
	switch {
	case rec.Dedup.Duplicate():
		return fmt.Sprintf("%s -> %s (%s)", title, rec.ApplyLink, rec.Dedup)
	case rec.LowConfidence:
		return fmt.Sprintf("%s -> %s (confidence %.2f)", title, rec.ApplyLink, rec.Confidence)
	}
	return fmt.Sprintf("(%d/%d) %s -> %s", valid, target, title, rec.ApplyLink)
}
