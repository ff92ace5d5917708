package types

import "fmt"

// Components named in fatal errors
const (
	ComponentConfig        = "config"
	ComponentOrderDB       = "order-db"
	ComponentPaymentDB     = "payment-db"
	ComponentAPIAuth       = "api-auth"
	ComponentProgressStore = "progress-store"
)

// ComponentError attributes a fatal error to the component that caused it
type ComponentError struct {
	Component string
	Err       error
}

func (e *ComponentError) Error() string {
	return fmt.Sprintf("%s: %v", e.Component, e.Err)
}

func (e *ComponentError) Unwrap() error {
	return e.Err
}

// NewComponentError wraps err with the failing component name
func NewComponentError(component string, err error) error {
	if err == nil {
		return nil
	}
	return &ComponentError{Component: component, Err: err}
}
