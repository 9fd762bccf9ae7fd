package models

import "time"

type User struct {
	ID                   string
	Name                 string
	Email                string
	Avatar               string
	PassHash             []byte
	PasswordChangedAt    *time.Time
	PasswordResetToken   string
	PasswordResetExpires *time.Time
	IsDeleted            bool
	DeletedAt            *time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// PublicUser is the subset of User returned to clients.
type PublicUser struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Email  string `json:"email"`
	Avatar string `json:"avatar,omitempty"`
}

func (u User) Public() PublicUser {
	return PublicUser{
		ID:     u.ID,
		Name:   u.Name,
		Email:  u.Email,
		Avatar: u.Avatar,
	}
}

// Field is a single typed element of a form, stored as jsonb.
type Field struct {
	ID       string        `json:"id"`
	Label    string        `json:"label"`
	Type     string        `json:"type"`
	Required bool          `json:"required"`
	Options  []FieldOption `json:"options,omitempty"`
}

type FieldOption struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

type Form struct {
	ID        string    `json:"id"`
	UserID    string    `json:"-"`
	Name      string    `json:"name"`
	Fields    []Field   `json:"elements"`
	IsActive  bool      `json:"isActive"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Answer is one respondent answer, stored as jsonb. The value is either a
// string or a list of strings depending on the field type.
type Answer struct {
	ElementType string `json:"elementType"`
	Question    string `json:"question"`
	Answer      any    `json:"answer"`
}

type FormResponse struct {
	ID        string    `json:"id"`
	FormID    string    `json:"-"`
	Answers   []Answer  `json:"response"`
	CreatedAt time.Time `json:"createdAt"`
}

// Message is an email job published to the mail queue.
type Message struct {
	Email   string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}
