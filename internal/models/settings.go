package models

// Settings holds one user's client preferences.
type Settings struct {
	Theme                string `json:"theme"`
	Language             string `json:"language"`
	FontSize             int64  `json:"fontSize"`
	NotificationsEnabled bool   `json:"notificationsEnabled"`
	SoundEnabled         bool   `json:"soundEnabled"`
	ShowOnlineStatus     bool   `json:"showOnlineStatus"`
	ReadReceipts         bool   `json:"readReceipts"`
	EnterToSend          bool   `json:"enterToSend"`
}

// SettingsFields lists the record keys a partial update may touch.
var SettingsFields = map[string]bool{
	"theme":                true,
	"language":             true,
	"fontSize":             true,
	"notificationsEnabled": true,
	"soundEnabled":         true,
	"showOnlineStatus":     true,
	"readReceipts":         true,
	"enterToSend":          true,
}

func DefaultSettings() *Settings {
	return &Settings{
		Theme:                "light",
		Language:             "en",
		FontSize:             14,
		NotificationsEnabled: true,
		SoundEnabled:         true,
		ShowOnlineStatus:     true,
		ReadReceipts:         true,
		EnterToSend:          true,
	}
}

func (s *Settings) Clone() *Settings {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}

func (s *Settings) ToRecord() Record {
	return Record{
		"theme":                s.Theme,
		"language":             s.Language,
		"fontSize":             s.FontSize,
		"notificationsEnabled": s.NotificationsEnabled,
		"soundEnabled":         s.SoundEnabled,
		"showOnlineStatus":     s.ShowOnlineStatus,
		"readReceipts":         s.ReadReceipts,
		"enterToSend":          s.EnterToSend,
	}
}

// SettingsFromRecord fills missing keys from the defaults.
func SettingsFromRecord(r Record) *Settings {
	s := DefaultSettings()
	if r == nil {
		return s
	}
	if v := getString(r, "theme"); v != "" {
		s.Theme = v
	}
	if v := getString(r, "language"); v != "" {
		s.Language = v
	}
	if _, ok := r["fontSize"]; ok {
		s.FontSize = getInt64(r, "fontSize")
	}
	s.NotificationsEnabled = getBoolOr(r, "notificationsEnabled", s.NotificationsEnabled)
	s.SoundEnabled = getBoolOr(r, "soundEnabled", s.SoundEnabled)
	s.ShowOnlineStatus = getBoolOr(r, "showOnlineStatus", s.ShowOnlineStatus)
	s.ReadReceipts = getBoolOr(r, "readReceipts", s.ReadReceipts)
	s.EnterToSend = getBoolOr(r, "enterToSend", s.EnterToSend)
	return s
}
