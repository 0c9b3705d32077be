package models

// TroubleCode represents a diagnostic trouble code with description.
type TroubleCode struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

func (t TroubleCode) String() string {
	if t.Description == "" {
		return t.Code
	}
	return t.Code + " " + t.Description
}
