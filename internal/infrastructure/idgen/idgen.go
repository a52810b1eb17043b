package idgen

import (
	"strings"

	"github.com/google/uuid"
)

// Generator issues entity IDs plus the human-facing order numbers and
// transaction references derived from them.
type Generator struct{}

func New() Generator { return Generator{} }

func (Generator) NewID() string { return uuid.NewString() }

// NewOrderNumber returns ORD- followed by 12 uppercase hex characters.
func (Generator) NewOrderNumber() string {
	return "ORD-" + short()
}

// NewReference returns TXN- followed by 12 uppercase hex characters.
func (Generator) NewReference() string {
	return "TXN-" + short()
}

func short() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:12])
}
