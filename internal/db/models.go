package db

import "time"

// VerdictLogEntry is one row of verdict_log.
type VerdictLogEntry struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Method    string    `json:"method"`
	Path      string    `json:"path"`
	Query     string    `json:"query,omitempty"`
	ClientKey string    `json:"client_key"`
	Verdict   string    `json:"verdict"`
	Threat    string    `json:"threat"`
	Status    int       `json:"status"`
}

// VerdictCount is the number of log rows per verdict/threat pair.
type VerdictCount struct {
	Verdict string `json:"verdict"`
	Threat  string `json:"threat"`
	Count   int64  `json:"count"`
}
