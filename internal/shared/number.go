package shared

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// GenerateNumber produces a document number like PR-20260828-1a2b3c4d.
// The random suffix keeps numbers unique when documents are created in
// the same instant.
func GenerateNumber(prefix string) string {
	return fmt.Sprintf("%s-%s-%s", prefix, time.Now().UTC().Format("20060102"), uuid.NewString()[:8])
}
