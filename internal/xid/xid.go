package xid

import (
	"fmt"

	"github.com/google/uuid"
)

func New(prefix string) string {
	return fmt.Sprintf("%s-%s", prefix, uuid.NewString())
}

// Correlation returns a bare id used to pair ledger rows written together.
func Correlation() string {
	return uuid.NewString()
}
