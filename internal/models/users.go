package models

import "time"

// User is compared by UserID. Admin and Creator are filled per group when
// members are listed and are never persisted.
type User struct {
	UserID    string    `json:"userId"`
	Username  string    `json:"username" validate:"required,min=3,max=32"`
	Email     string    `json:"email" validate:"required,email"`
	Online    bool      `json:"online"`
	LastSeen  time.Time `json:"lastSeen"`
	CreatedAt time.Time `json:"createdAt"`
	Admin     bool      `json:"admin,omitempty"`
	Creator   bool      `json:"creator,omitempty"`
}

func (u *User) Equal(other *User) bool {
	return u != nil && other != nil && u.UserID == other.UserID
}

// ToRecord omits the password hash; AuthUsecase adds it explicitly.
func (u *User) ToRecord() Record {
	return Record{
		"userId":    u.UserID,
		"username":  u.Username,
		"email":     u.Email,
		"online":    u.Online,
		"lastSeen":  Millis(u.LastSeen),
		"createdAt": Millis(u.CreatedAt),
	}
}

func UserFromRecord(r Record) *User {
	if r == nil {
		return nil
	}
	return &User{
		UserID:    getString(r, "userId"),
		Username:  getString(r, "username"),
		Email:     getString(r, "email"),
		Online:    getBool(r, "online"),
		LastSeen:  getTime(r, "lastSeen"),
		CreatedAt: getTime(r, "createdAt"),
	}
}

func PasswordHashFromRecord(r Record) string {
	return getString(r, "passwordHash")
}
