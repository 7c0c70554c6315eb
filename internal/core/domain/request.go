package domain

import "time"

type RequestStatus string

const (
	StatusPending              RequestStatus = "pending"
	StatusProcessing           RequestStatus = "processing"
	StatusCategorized          RequestStatus = "categorized"
	StatusAppointmentScheduled RequestStatus = "appointment_scheduled"

	// Set only by administrative action outside the pipeline.
	StatusApproved  RequestStatus = "approved"
	StatusRejected  RequestStatus = "rejected"
	StatusCompleted RequestStatus = "completed"
)

// PipelineStatuses is the ordered set of statuses the pipeline itself may write.
var PipelineStatuses = []RequestStatus{
	StatusPending,
	StatusProcessing,
	StatusCategorized,
	StatusAppointmentScheduled,
}

func (s RequestStatus) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCategorized, StatusAppointmentScheduled,
		StatusApproved, StatusRejected, StatusCompleted:
		return true
	default:
		return false
	}
}

// Next returns the status that follows s in the pipeline, or "" when s is terminal for the pipeline.
func (s RequestStatus) Next() RequestStatus {
	for i, status := range PipelineStatuses {
		if status == s && i+1 < len(PipelineStatuses) {
			return PipelineStatuses[i+1]
		}
	}
	return ""
}

type Category string

const (
	CategoryResidencePermitExtension Category = "residence_permit_extension"
	CategoryResidencePermitNew       Category = "residence_permit_new"
	CategoryVisaExtension            Category = "visa_extension"
	CategoryTemporaryVisa            Category = "temporary_visa"
	CategoryWorkPermit               Category = "work_permit"
	CategoryOther                    Category = "other"
)

var Categories = []Category{
	CategoryResidencePermitExtension,
	CategoryResidencePermitNew,
	CategoryVisaExtension,
	CategoryTemporaryVisa,
	CategoryWorkPermit,
	CategoryOther,
}

// ParseCategory maps free text to the closed category set; anything unknown is CategoryOther.
func ParseCategory(raw string) Category {
	for _, c := range Categories {
		if string(c) == raw {
			return c
		}
	}
	return CategoryOther
}

type Attachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type,omitempty"`
	StorageKey  string `json:"storage_key"`
}

type Request struct {
	ID             int64         `json:"id"`
	DedupKey       string        `json:"dedup_key"`
	RequesterEmail string        `json:"requester_email"`
	RequesterName  string        `json:"requester_name,omitempty"`
	Subject        string        `json:"subject"`
	Body           string        `json:"body"`
	Attachments    []Attachment  `json:"attachments"`
	Status         RequestStatus `json:"status"`

	Category           *Category `json:"category,omitempty"`
	CategoryConfidence float64   `json:"category_confidence"`
	Analysis           string    `json:"analysis,omitempty"`

	IsCompliant       bool     `json:"is_compliant"`
	ComplianceScore   float64  `json:"compliance_score"`
	RequiredDocuments []string `json:"required_documents"`
	PresentDocuments  []string `json:"present_documents"`
	MissingDocuments  []string `json:"missing_documents"`

	AppointmentID *int64 `json:"appointment_id,omitempty"`
	Error         string `json:"error,omitempty"`

	ReceivedAt  time.Time  `json:"received_at"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
}

type RequestFilter struct {
	Status RequestStatus
	// RequesterEmail narrows the list to one sender's requests.
	RequesterEmail string
	Limit          int
	Offset         int
}

type Stats struct {
	TotalRequests     int                   `json:"total_requests"`
	TotalAppointments int                   `json:"total_appointments"`
	AvailableSlots    int                   `json:"available_slots"`
	ByStatus          map[RequestStatus]int `json:"requests_by_status"`
	ByCategory        map[Category]int      `json:"requests_by_category"`
}
