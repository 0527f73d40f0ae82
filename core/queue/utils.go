package queue

import (
	"fmt"
	"strings"
)

// qualifiedStructName derives a task name from a payload type, e.g. "relay.InsertDocument".
func qualifiedStructName(v any) string {
	return strings.TrimLeft(fmt.Sprintf("%T", v), "*")
}
