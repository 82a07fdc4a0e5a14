package models

import "fmt"

func errFieldRequired(field string) error {
	return fmt.Errorf("%s is required", field)
}

func errInvalid(msg string) error {
	return fmt.Errorf("invalid: %s", msg)
}
