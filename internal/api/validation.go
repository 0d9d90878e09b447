package api

import "fmt"

// validateName checks that a display name (organization, role, customer) is
// plausible.
func validateName(name, kind string) error {
	if len(name) == 0 {
		return fmt.Errorf("%s name is required", kind)
	}
	if len(name) > 200 {
		return fmt.Errorf("%s name too long (max 200 characters)", kind)
	}
	return nil
}

// validQuoteStatuses is the quote lifecycle.
var validQuoteStatuses = map[string]struct{}{
	"draft": {}, "sent": {}, "approved": {}, "invoiced": {},
}

func validateQuoteStatus(status string) error {
	if _, ok := validQuoteStatuses[status]; !ok {
		return fmt.Errorf("invalid quote status %q", status)
	}
	return nil
}
