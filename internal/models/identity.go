package models

// Role is one of the canonical account roles.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleOperator Role = "operator"
	RoleDriver   Role = "driver"
)

// Identity is what a verified credential resolves to.
type Identity struct {
	SubjectID string `json:"subjectId"`
	Role      Role   `json:"role"`
}
