package models

import "time"

// Device — ESP-пульт. HardwareAddress постоянный, SessionID меняется при каждой регистрации.
type Device struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	HardwareAddress string     `gorm:"column:hardware_address;size:64;uniqueIndex;not null" json:"hardwareAddress"`
	SessionID       string     `gorm:"column:session_id;size:36;uniqueIndex;not null" json:"sessionId"`
	Registered      bool       `gorm:"not null;default:false" json:"registered"`
	Assigned        bool       `gorm:"not null;default:false" json:"assigned"`
	VoterID         *uint      `gorm:"index" json:"voterId,omitempty"`
	RegisteredAt    time.Time  `json:"registeredAt"`
	LastActiveAt    *time.Time `json:"lastActiveAt,omitempty"`
}

// Voter — человек, закреплённый за устройством.
type Voter struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"size:255;not null;index" json:"name"`
	DeviceID  *uint     `gorm:"index" json:"deviceId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// AssignedDevice — устройство с именем закреплённого голосующего (для списков).
type AssignedDevice struct {
	Device
	VoterName string `json:"voterName"`
}
