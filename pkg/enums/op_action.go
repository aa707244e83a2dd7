package enums

import "fmt"

// OpAction describes the remote mutation a pending operation carries.
type OpAction string

const (
	OpActionCreate OpAction = "CREATE"
	OpActionUpdate OpAction = "UPDATE"
	OpActionDelete OpAction = "DELETE"
)

var validOpActions = []OpAction{
	OpActionCreate,
	OpActionUpdate,
	OpActionDelete,
}

// IsValid reports whether the value is a known operation action.
func (a OpAction) IsValid() bool {
	for _, candidate := range validOpActions {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseOpAction converts raw input into OpAction.
func ParseOpAction(value string) (OpAction, error) {
	for _, candidate := range validOpActions {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid operation action %q", value)
}
