package domain

import "time"

// UserAccount is the durable balance record, keyed by lowercase email.
// TalkTimeSeconds is never persisted negative; every deduction path clamps
// to zero.
type UserAccount struct {
	Email               string     `gorm:"primaryKey" json:"email"`
	Name                string     `json:"name,omitempty"`
	PasswordHash        *string    `json:"-"`
	TalkTimeSeconds     float64    `gorm:"not null;default:0" json:"talktime"`
	IsCommunityMember   bool       `gorm:"not null;default:false" json:"is_community_member"`
	LastCommunityRefill *time.Time `json:"last_community_refill,omitempty"`
	WelcomeBonusGiven   bool       `gorm:"not null;default:false" json:"welcome_bonus_given"`
	WelcomeBonusDate    *time.Time `json:"welcome_bonus_date,omitempty"`
	LastLogin           *time.Time `json:"last_login,omitempty"`
	TotalSessions       int64      `gorm:"not null;default:0" json:"total_sessions"`
	SessionStatus       string     `json:"session_status,omitempty"`
	LastActiveHeartbeat *time.Time `json:"last_active_heartbeat,omitempty"`
	CreatedAt           time.Time  `gorm:"not null" json:"created_at"`
	UpdatedAt           time.Time  `gorm:"not null" json:"updated_at"`
}

func (UserAccount) TableName() string { return "user_accounts" }

// SessionLog is one finished coaching call, written by the care-plan worker.
type SessionLog struct {
	ID               int64     `gorm:"primaryKey" json:"id"`
	Email            string    `gorm:"not null;index" json:"email"`
	SessionID        string    `gorm:"not null" json:"session_id"`
	DurationSeconds  int64     `gorm:"not null;default:0" json:"duration_seconds"`
	TranscriptLength int64     `gorm:"not null;default:0" json:"transcript_length"`
	CreatedAt        time.Time `gorm:"not null" json:"created_at"`
}

func (SessionLog) TableName() string { return "session_logs" }

// Stats is the aggregate view served to admins.
type Stats struct {
	TotalUsers      int64   `json:"total_users"`
	TotalTalkTime   float64 `json:"total_talktime"`
	TotalSessions   int64   `json:"total_sessions"`
	ActiveToday     int64   `json:"active_today"`
	OnlineNow       int64   `json:"online_now"`
	AverageTalkTime float64 `json:"average_talktime"`
	AverageSessions float64 `json:"average_sessions"`
}
