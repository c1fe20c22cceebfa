package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	GatepassStatusPending            = "pending"
	GatepassStatusApprovedByAdmin    = "approved_by_admin"
	GatepassStatusApprovedBySecurity = "approved_by_security"
	GatepassStatusDeclined           = "declined"
)

var GatepassStatuses = []string{
	GatepassStatusPending,
	GatepassStatusApprovedByAdmin,
	GatepassStatusApprovedBySecurity,
	GatepassStatusDeclined,
}

func IsValidGatepassStatus(status string) bool {
	for _, s := range GatepassStatuses {
		if s == status {
			return true
		}
	}
	return false
}

// Gatepass authorizes moving material from one location to another.
// Each approval stage is recorded as a (By, At) pair that is either fully set or fully empty.
type Gatepass struct {
	ID            uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	Number        string    `gorm:"type:varchar(32);uniqueIndex;not null" json:"number"`
	Status        string    `gorm:"type:varchar(30);not null;default:'pending';index" json:"status"`
	CreatedBy     uuid.UUID `gorm:"type:uuid;not null;index" json:"created_by"`
	Creator       *User     `gorm:"foreignKey:CreatedBy" json:"creator,omitempty"`
	FromLocation  string    `gorm:"type:varchar(255);not null" json:"from_location"`
	ToLocation    string    `gorm:"type:varchar(255);not null" json:"to_location"`
	MaterialType  string    `gorm:"type:varchar(100);not null" json:"material_type"`
	RequestedDate time.Time `gorm:"type:date;not null" json:"requested_date"`
	RequestedTime string    `gorm:"type:varchar(5)" json:"requested_time"` // HH:MM
	Purpose       string    `gorm:"type:text" json:"purpose"`

	AdminApprovedBy    *uuid.UUID `gorm:"type:uuid;index" json:"admin_approved_by"`
	AdminApprover      *User      `gorm:"foreignKey:AdminApprovedBy" json:"admin_approver,omitempty"`
	AdminApprovedAt    *time.Time `json:"admin_approved_at"`
	SecurityApprovedBy *uuid.UUID `gorm:"type:uuid;index" json:"security_approved_by"`
	SecurityApprover   *User      `gorm:"foreignKey:SecurityApprovedBy" json:"security_approver,omitempty"`
	SecurityApprovedAt *time.Time `json:"security_approved_at"`
	DeclinedBy         *uuid.UUID `gorm:"type:uuid;index" json:"declined_by"`
	Decliner           *User      `gorm:"foreignKey:DeclinedBy" json:"decliner,omitempty"`
	DeclinedAt         *time.Time `json:"declined_at"`
	DeclineReason      string     `gorm:"type:text" json:"decline_reason,omitempty"`

	Items     []GatepassItem `gorm:"foreignKey:GatepassID;constraint:OnDelete:CASCADE" json:"items"`
	CreatedAt time.Time      `gorm:"index" json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// GatepassItem is a single line of material carried under a gatepass
type GatepassItem struct {
	ID         uuid.UUID       `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	GatepassID uuid.UUID       `gorm:"type:uuid;not null;index" json:"gatepass_id"`
	Name       string          `gorm:"type:varchar(255);not null" json:"name"`
	Quantity   decimal.Decimal `gorm:"type:decimal(14,3);not null" json:"quantity"`
	Unit       string          `gorm:"type:varchar(20);not null" json:"unit"`
}

// GatepassCounter holds the last sequence handed out for a calendar day (YYYYMMDD)
type GatepassCounter struct {
	Day       string    `gorm:"type:char(8);primaryKey" json:"day"`
	LastSeq   int       `gorm:"not null" json:"last_seq"`
	UpdatedAt time.Time `json:"updated_at"`
}
