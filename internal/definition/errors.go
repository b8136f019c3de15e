package definition

import "fmt"

// NotFoundError reports an unknown scraper or agent.
type NotFoundError struct {
	Kind string // "scraper" or "agent"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}
