package enums

import "fmt"

// ClubStatus tracks whether a tenant is billable.
type ClubStatus string

const (
	ClubStatusActive    ClubStatus = "active"
	ClubStatusSuspended ClubStatus = "suspended"
)

var validClubStatuses = []ClubStatus{
	ClubStatusActive,
	ClubStatusSuspended,
}

// String implements fmt.Stringer.
func (c ClubStatus) String() string {
	return string(c)
}

// IsValid reports whether the value is a known ClubStatus.
func (c ClubStatus) IsValid() bool {
	for _, candidate := range validClubStatuses {
		if candidate == c {
			return true
		}
	}
	return false
}

// ParseClubStatus converts raw input into a ClubStatus.
func ParseClubStatus(value string) (ClubStatus, error) {
	for _, candidate := range validClubStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid club status %q", value)
}
