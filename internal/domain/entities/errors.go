package entities

import (
	"fmt"
	"strings"
)

// DeclarationError lists every problem found in a registration declaration.
type DeclarationError struct {
	Problems []string
}

func (e *DeclarationError) Error() string {
	return fmt.Sprintf("invalid registration: %s", strings.Join(e.Problems, "; "))
}
