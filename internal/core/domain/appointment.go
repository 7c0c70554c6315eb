package domain

import "time"

type Slot struct {
	ID              int64     `json:"id"`
	Date            time.Time `json:"slot_date"`
	TimeLabel       string    `json:"slot_time"`
	MaxCapacity     int       `json:"max_capacity"`
	CurrentBookings int       `json:"current_bookings"`
	IsAvailable     bool      `json:"is_available"`
	CreatedAt       time.Time `json:"created_at"`
}

// HasCapacity reports whether another booking fits.
func (s Slot) HasCapacity() bool {
	return s.CurrentBookings < s.MaxCapacity
}

type AppointmentStatus string

const (
	AppointmentScheduled AppointmentStatus = "scheduled"
	AppointmentCompleted AppointmentStatus = "completed"
	AppointmentCancelled AppointmentStatus = "cancelled"
)

type Appointment struct {
	ID                int64             `json:"id"`
	RequestID         int64             `json:"request_id"`
	SlotID            int64             `json:"slot_id"`
	Date              time.Time         `json:"appointment_date"`
	TimeLabel         string            `json:"appointment_time"`
	Location          string            `json:"location"`
	RequiredDocuments []string          `json:"required_documents"`
	Status            AppointmentStatus `json:"status"`
	Notes             string            `json:"notes,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
}

// Booking carries what the allocator needs to bind a request to a slot.
type Booking struct {
	RequestID         int64
	Location          string
	RequiredDocuments []string
	Now               time.Time
}

// AppointmentNotification is the payload handed to the notification transport.
type AppointmentNotification struct {
	RecipientEmail    string    `json:"recipient_email"`
	RecipientName     string    `json:"recipient_name"`
	RequestID         int64     `json:"request_id"`
	AppointmentID     int64     `json:"appointment_id"`
	Date              time.Time `json:"appointment_date"`
	TimeLabel         string    `json:"appointment_time"`
	Location          string    `json:"location"`
	RequiredDocuments []string  `json:"required_documents"`
}
