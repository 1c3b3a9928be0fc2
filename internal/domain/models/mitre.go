package models

import "time"

// MITRETactic represents a MITRE ATT&CK tactic.
type MITRETactic struct {
	ID         string `json:"id"`         // e.g. TA0002
	Name       string `json:"name"`       // e.g. Execution
	ShortName  string `json:"short_name"` // e.g. execution
	URL        string `json:"url,omitempty"`
	Deprecated bool   `json:"deprecated"`
}

// MITRETechnique represents an ATT&CK technique or sub-technique.
type MITRETechnique struct {
	ID             string   `json:"id"` // e.g. T1059 or T1059.001
	Name           string   `json:"name"`
	Tactics        []string `json:"tactics"` // tactic IDs (TAxxxx)
	IsSubtechnique bool     `json:"is_subtechnique"`
	ParentID       string   `json:"parent_id,omitempty"` // set iff sub-technique
	URL            string   `json:"url,omitempty"`
	Deprecated     bool     `json:"deprecated"`
	Revoked        bool     `json:"revoked"`
}

// MITREStats summarizes the loaded taxonomy snapshot.
type MITREStats struct {
	TotalTactics       int       `json:"total_tactics"`
	TotalTechniques    int       `json:"total_techniques"`
	TotalSubtechniques int       `json:"total_subtechniques"`
	RemappedIDs        int       `json:"remapped_ids"`
	Version            string    `json:"version,omitempty"`
	LastLoaded         time.Time `json:"last_loaded"`
}
