package xid

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// New returns a prefixed random identifier such as "sale-4f1c...".
func New(prefix string) string {
	id, err := uuid.NewRandom()
	if err != nil {
		return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
	}
	compact := strings.ReplaceAll(id.String(), "-", "")
	if prefix == "" {
		return compact
	}
	return prefix + "-" + compact
}
