package core

import (
	"time"
)

type SourceType string

const (
	SourceNumbers         SourceType = "NUMBERS"
	SourceCSV             SourceType = "CSV"
	SourceGroup           SourceType = "GROUP"
	SourceGroupIndividual SourceType = "GROUP_INDIVIDUAL"
	SourceLabel           SourceType = "LABEL"
)

type CampaignStatus string

const (
	CampaignScheduled CampaignStatus = "scheduled"
	CampaignRunning   CampaignStatus = "running"
	CampaignPaused    CampaignStatus = "paused"
	CampaignCompleted CampaignStatus = "completed"
	CampaignDeleted   CampaignStatus = "deleted"
)

type JobStatus string

const (
	JobPending  JobStatus = "pending"
	JobInFlight JobStatus = "inflight"
	JobSent     JobStatus = "sent"
	JobFailed   JobStatus = "failed"
)

// Campaign definition fields are immutable after creation; only Status and
// the cursor fields (BatchSent, NextEligibleAt) mutate.
type Campaign struct {
	ID            string         `json:"id"`
	OwnerID       string         `json:"owner_id"`
	Name          string         `json:"name"`
	SourceType    SourceType     `json:"type"`
	Message       string         `json:"message"`
	Variables     []string       `json:"variables"`
	Attachments   []string       `json:"attachments"`
	ContactCards  []string       `json:"shared_contact_cards"`
	MinDelaySec   int            `json:"min_delay"`
	MaxDelaySec   int            `json:"max_delay"`
	BatchSize     int            `json:"batch_size"`
	BatchDelaySec int            `json:"batch_delay"`
	StartTime     string         `json:"start_time"` // "15:04"
	EndTime       string         `json:"end_time"`
	Status        CampaignStatus `json:"status"`

	// Pacing cursor, persisted so a restart resumes pacing instead of
	// bursting the backlog.
	BatchSent      int       `json:"-"`
	NextEligibleAt time.Time `json:"-"`

	CreatedAt time.Time `json:"created_at"`
}

type Job struct {
	ID          string            `json:"id"`
	CampaignID  string            `json:"campaign_id"`
	Seq         int64             `json:"-"`
	Recipient   string            `json:"recipient"`
	Variables   map[string]string `json:"variables,omitempty"`
	Status      JobStatus         `json:"status"`
	Attempts    int               `json:"attempts"`
	ClaimedAt   *time.Time        `json:"claimed_at,omitempty"`
	AttemptedAt *time.Time        `json:"attempted_at,omitempty"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
	Error       *string           `json:"error,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

// CampaignReport is the live progress row shown per campaign.
type CampaignReport struct {
	CampaignID   string `json:"campaign_id"`
	CampaignName string `json:"campaignName"`
	Sent         int    `json:"sent"`
	Failed       int    `json:"failed"`
	Pending      int    `json:"pending"`
	IsPaused     bool   `json:"isPaused"`
}

// ReportRow is one recipient's outcome in a campaign detail report.
type ReportRow struct {
	CampaignName string `json:"campaign_name"`
	Receiver     string `json:"receiver"`
	Message      string `json:"message"`
	Attachments  int    `json:"attachments"`
	Contacts     int    `json:"contacts"`
	Status       string `json:"status"`
	Error        string `json:"error,omitempty"`
}
