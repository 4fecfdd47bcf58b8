package models

import (
	"time"
)

// Role names carried in the session as claims.
const (
	RoleUser       = "User"
	RoleAdmin      = "Admin"
	RoleSupervisor = "Supervisor"
	RoleApprover   = "Approver"
)

// AllRoles is the reference data ensured at migration time.
var AllRoles = []string{RoleUser, RoleAdmin, RoleSupervisor, RoleApprover}

type User struct {
	ID           uint `gorm:"primarykey"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
	UserName     string  `gorm:"size:255;not null;uniqueIndex"`
	Email        string  `gorm:"size:255;not null"`
	PasswordHash string  `gorm:"size:255;not null" json:"-"`
	Active       bool    `gorm:"not null"`
	Ada          bool    `gorm:"not null"`
	Roles        []Role  `gorm:"many2many:user_roles;" json:"roles,omitempty"`
	Images       []Image `json:"-"`
}

// HasRole reports whether the user was granted the named role.
func (u *User) HasRole(name string) bool {
	for _, r := range u.Roles {
		if r.Name == name {
			return true
		}
	}
	return false
}

// RoleNames flattens the roles for the session claim.
func (u *User) RoleNames() []string {
	names := make([]string, 0, len(u.Roles))
	for _, r := range u.Roles {
		names = append(names, r.Name)
	}
	return names
}

type Role struct {
	ID   uint   `gorm:"primarykey"`
	Name string `gorm:"size:32;not null;uniqueIndex"`
}

type Tag struct {
	ID     uint    `gorm:"primarykey"`
	Name   string  `gorm:"size:20;not null;uniqueIndex"`
	Images []Image `json:"-"`
}

// Image is the metadata record of an uploaded picture. The bytes live in the
// blob store under the same id.
type Image struct {
	ID          string    `gorm:"primaryKey;size:36"`
	CreatedAt   time.Time `gorm:"index"`
	UpdatedAt   time.Time
	Caption     string    `gorm:"size:40;not null"`
	Description string    `gorm:"size:200"`
	DateTaken   time.Time `gorm:"not null"`
	UserID      uint      `gorm:"not null;index"`
	UserName    string    `gorm:"size:255;not null"`
	User        *User     `json:"-" gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;"`
	TagID       *uint     `gorm:"index"`
	Tag         *Tag      `json:"tag,omitempty" gorm:"constraint:OnUpdate:CASCADE,OnDelete:SET NULL;"`
	Approved    bool      `gorm:"not null"`
	Valid       bool      `gorm:"not null;index"`
}

// Visible reports whether the image may appear in public listings.
func (i *Image) Visible() bool {
	return i.Approved && i.Valid
}

// LogEntry records one view of an image details page. Entries are grouped by
// day (PartitionKey) and ordered newest first inside a day by RowKey.
type LogEntry struct {
	PartitionKey string    `gorm:"primaryKey;size:8" json:"partitionKey"`
	RowKey       string    `gorm:"primaryKey;size:128" json:"rowKey"`
	UserID       uint      `gorm:"index" json:"userId"`
	UserName     string    `gorm:"size:255" json:"userName"`
	Caption      string    `gorm:"size:40" json:"caption"`
	ImageID      string    `gorm:"size:36;index" json:"imageId"`
	URI          string    `gorm:"size:512" json:"uri"`
	EntryDate    time.Time `json:"entryDate"`
}
