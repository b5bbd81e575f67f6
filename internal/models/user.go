package models

const (
	RoleAdmin  = "admin"
	RoleSeller = "seller"
	RoleBuyer  = "user"
)

// Identity est ce que le middleware JWT place dans le contexte gin.
type Identity struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Role   string `json:"role"`
}

func (i Identity) IsAdmin() bool { return i.Role == RoleAdmin }

// SystemActor signe les transitions déclenchées par les webhooks.
const SystemActor = "system"
