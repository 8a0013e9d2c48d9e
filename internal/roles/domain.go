package roles

// Role is one row of the role matrix.
type Role struct {
	Name          string   `json:"name"`
	DisplayName   string   `json:"display_name"`
	Administrator bool     `json:"administrator"`
	Default       bool     `json:"default"`
	Permissions   []string `json:"permissions"`
}
