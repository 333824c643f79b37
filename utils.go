package amqp

import (
	"fmt"

	"github.com/google/uuid"
)

// getName builds a short, unique identifier prefixed with prefix: used
// for auto-generated session/consumer/subscription names when the
// caller doesn't supply one.
func getName(prefix string) string {
	return fmt.Sprintf("%s-%s", prefix, uuid.New().String()[:8])
}
