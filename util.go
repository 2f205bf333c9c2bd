package bolt

import (
	"fmt"
	"strings"
)

// SprintByteHex returns a formatted string of the byte array in hexadecimal
// with a nicely formatted human-readable output
func SprintByteHex(b []byte) string {
	var sb strings.Builder
	sb.WriteString("\t")
	for i, c := range b {
		sb.WriteString(fmt.Sprintf("%02x", c))
		switch {
		case (i+1)%16 == 0:
			sb.WriteString("\n\t")
		case (i+1)%4 == 0:
			sb.WriteString("  ")
		default:
			sb.WriteString(" ")
		}
	}
	sb.WriteString("\n")
	return sb.String()
}
