package identity

import "time"

type User struct {
	ID           uint64    `gorm:"primaryKey;autoIncrement"`
	Email        string    `gorm:"type:varchar(255);uniqueIndex;not null"`
	Name         string    `gorm:"type:varchar(255);not null"`
	PasswordHash string    `gorm:"type:varchar(255);not null"`
	CreatedAt    time.Time `gorm:"not null"`
}

func (User) TableName() string { return "users" }

// Account is the public view of a User. It never carries the hash.
type Account struct {
	ID        uint64    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

func (u User) Account() *Account {
	return &Account{ID: u.ID, Email: u.Email, Name: u.Name, CreatedAt: u.CreatedAt}
}

// GuestUsage counts guest turns per source IP and calendar day.
type GuestUsage struct {
	ID         uint64 `gorm:"primaryKey;autoIncrement"`
	IPAddress  string `gorm:"column:ip_address;type:varchar(64);not null;uniqueIndex:uniq_guest_ip_date,priority:1"`
	Date       string `gorm:"column:date;type:varchar(10);not null;uniqueIndex:uniq_guest_ip_date,priority:2"`
	UsageCount int    `gorm:"column:usage_count;not null;default:1"`
}

func (GuestUsage) TableName() string { return "guest_usage" }
