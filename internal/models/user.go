package models

// Role is the workforce role attached to an account.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleHR       Role = "hr"
	RoleEmployee Role = "employee"
	RoleClient   Role = "client"
)

// User is a company account that can participate in chat.
type User struct {
	ID    string `db:"id" json:"id"`
	Name  string `db:"name" json:"name"`
	Role  Role   `db:"role" json:"role"`
	Token string `db:"token" json:"-"`
}

// Ref returns the identity pair used in rooms and presence sets.
func (u User) Ref() UserRef {
	return UserRef{ID: u.ID, Name: u.Name}
}
