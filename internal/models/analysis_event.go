package models

import "time"

type EventAction string

const (
	EventCreated    EventAction = "created"
	EventProcessing EventAction = "processing"
	EventCompleted  EventAction = "completed"
	EventDegraded   EventAction = "degraded"
	EventFailed     EventAction = "failed"
	EventDeleted    EventAction = "deleted"
)

// AnalysisEvent is an append-only audit record of a job's history.
type AnalysisEvent struct {
	ID        uint        `json:"id" gorm:"primaryKey"`
	JobID     string      `json:"jobId" gorm:"type:varchar(36);not null;index"`
	OwnerID   string      `json:"ownerId" gorm:"type:varchar(64);not null;index"`
	Action    EventAction `json:"action" gorm:"type:varchar(16);not null"`
	Details   string      `json:"details" gorm:"type:text"`
	CreatedAt time.Time   `json:"createdAt"`
}

func (AnalysisEvent) TableName() string {
	return "analysis_events"
}
