package domain

type ProjectStatus string

const (
	StatusOpen       ProjectStatus = "open"
	StatusAssigned   ProjectStatus = "assigned"
	StatusInProgress ProjectStatus = "in_progress"
	StatusRevision   ProjectStatus = "revision"
	StatusSubmitted  ProjectStatus = "submitted"
	StatusCompleted  ProjectStatus = "completed"
	StatusPaid       ProjectStatus = "paid"
	StatusArchived   ProjectStatus = "archived"
	StatusCancelled  ProjectStatus = "cancelled"
)

// statusRank orders the primary lifecycle; cancelled sits outside it.
var statusRank = map[ProjectStatus]int{
	StatusOpen:       0,
	StatusAssigned:   1,
	StatusInProgress: 2,
	StatusRevision:   3,
	StatusSubmitted:  4,
	StatusCompleted:  5,
	StatusPaid:       6,
	StatusArchived:   7,
}

// Rank returns the position of s in the primary lifecycle, or -1 for cancelled/unknown.
func (s ProjectStatus) Rank() int {
	r, ok := statusRank[s]
	if !ok {
		return -1
	}
	return r
}

// HasAssignee reports whether a project in status s must carry assigned_to.
func (s ProjectStatus) HasAssignee() bool {
	return s.Rank() >= StatusAssigned.Rank()
}

// Actionable reports whether the assigned professional may append ledger events.
func (s ProjectStatus) Actionable() bool {
	return s == StatusAssigned || s == StatusInProgress || s == StatusRevision
}

// Terminal reports whether no further lifecycle transition can leave s.
func (s ProjectStatus) Terminal() bool {
	return s == StatusArchived || s == StatusCancelled
}

func (s ProjectStatus) Valid() bool {
	return s == StatusCancelled || s.Rank() >= 0
}

type Project struct {
	ID             string        `json:"id"`
	ClientID       string        `json:"client_id"`
	Title          string        `json:"title"`
	Description    string        `json:"description,omitempty"`
	Budget         Money         `json:"budget"`
	Category       string        `json:"category,omitempty"`
	Location       string        `json:"location,omitempty"`
	RequiredSkills []string      `json:"required_skills,omitempty"`
	Requirements   []string      `json:"requirements,omitempty"`
	Timeline       string        `json:"timeline,omitempty"`
	Urgency        string        `json:"urgency,omitempty"`
	Status         ProjectStatus `json:"status" enum:"open,assigned,in_progress,revision,submitted,completed,paid,archived,cancelled"`
	AssignedTo     *string       `json:"assigned_to,omitempty"`
	CreatedAt      string        `json:"created_at" format:"date-time"`
	UpdatedAt      string        `json:"updated_at" format:"date-time"`
}

type ApplicationStatus string

const (
	ApplicationPending   ApplicationStatus = "pending"
	ApplicationAccepted  ApplicationStatus = "accepted"
	ApplicationRejected  ApplicationStatus = "rejected"
	ApplicationWithdrawn ApplicationStatus = "withdrawn"
)

type Application struct {
	ID             string            `json:"id"`
	ProjectID      string            `json:"project_id"`
	ProfessionalID string            `json:"professional_id"`
	Bid            Money             `json:"bid"`
	Proposal       string            `json:"proposal,omitempty"`
	Availability   string            `json:"availability,omitempty"`
	Status         ApplicationStatus `json:"status" enum:"pending,accepted,rejected,withdrawn"`
	CreatedAt      string            `json:"created_at" format:"date-time"`
	UpdatedAt      string            `json:"updated_at" format:"date-time"`
}

// Category groups ledger update types.
type Category string

const (
	CategoryActivity Category = "activity"
	CategoryStatus   Category = "status"
	CategoryFiles    Category = "files"
	CategoryExpenses Category = "expenses"
	CategorySchedule Category = "schedule"
)

func (c Category) Valid() bool {
	switch c {
	case CategoryActivity, CategoryStatus, CategoryFiles, CategoryExpenses, CategorySchedule:
		return true
	}
	return false
}

// Event is an immutable Update Ledger entry recorded against a project.
type Event struct {
	ID            string         `json:"id"`
	Seq           int64          `json:"seq"`
	ProjectID     string         `json:"project_id"`
	AuthorID      string         `json:"author_id,omitempty"`
	UpdateType    string         `json:"update_type"`
	Category      Category       `json:"category" enum:"activity,status,files,expenses,schedule"`
	Message       string         `json:"message,omitempty"`
	AttachmentRef string         `json:"attachment_ref,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	CreatedAt     string         `json:"created_at" format:"date-time"`
}

type Review struct {
	ID             string `json:"id"`
	ProjectID      string `json:"project_id"`
	ClientID       string `json:"client_id"`
	ProfessionalID string `json:"professional_id"`
	Rating         int    `json:"rating" minimum:"1" maximum:"5"`
	Comment        string `json:"comment,omitempty"`
	CreatedAt      string `json:"created_at" format:"date-time"`
}

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
)

type Payment struct {
	ID             string        `json:"id"`
	ProjectID      string        `json:"project_id"`
	ClientID       string        `json:"client_id"`
	ProfessionalID string        `json:"professional_id"`
	Amount         Money         `json:"amount"`
	Status         PaymentStatus `json:"status" enum:"pending,completed,failed"`
	CreatedAt      string        `json:"created_at" format:"date-time"`
	UpdatedAt      string        `json:"updated_at" format:"date-time"`
}

// JournalEntry is an audit record of a mutation, written in the mutation's transaction.
type JournalEntry struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	ProjectID  string `json:"project_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type Role string

const (
	RoleClient       Role = "client"
	RoleProfessional Role = "professional"
	RoleAdmin        Role = "admin"
)

func (r Role) Valid() bool {
	return r == RoleClient || r == RoleProfessional || r == RoleAdmin
}

type Actor struct {
	ID        string `json:"id"`
	Role      Role   `json:"role" enum:"client,professional,admin"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type APIKey struct {
	ID         string `json:"id"`
	ActorID    string `json:"actor_id"`
	Name       string `json:"name,omitempty"`
	KeyHash    string `json:"-"`
	IssuedBy   string `json:"issued_by,omitempty"`
	CreatedAt  string `json:"created_at" format:"date-time"`
	LastUsedAt string `json:"last_used_at,omitempty" format:"date-time"`
}
