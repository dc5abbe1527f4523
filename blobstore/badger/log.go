package badger

import (
	"fmt"
	"strings"
)

func trimf(format string, args ...any) string {
	return strings.TrimRight(fmt.Sprintf(format, args...), "\n")
}
