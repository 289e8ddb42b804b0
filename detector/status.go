package detector

import (
	"regexp"
	"strconv"
)

// statusField is a counter reported in the status command's reply.
type statusField int

const (
	fieldRecv statusField = iota
	fieldRecvError
	fieldSampleError
	fieldAngleError
)

func (f statusField) String() string {
	switch f {
	case fieldRecv:
		return "recv"
	case fieldRecvError:
		return "recv error"
	case fieldSampleError:
		return "sample error"
	case fieldAngleError:
		return "angle error"
	default:
		return "unknown"
	}
}

var statusLineRe = regexp.MustCompile(`^(recv error|sample error|angle error|recv)\s*:\s*(-?\d+)`)

// parseStatusLine extracts a counter from a reply line such as "recv error:3".
func parseStatusLine(line string) (statusField, int, bool) {
	m := statusLineRe.FindStringSubmatch(line)
	if m == nil {
		return 0, 0, false
	}

	val, err := strconv.Atoi(m[2])
	if err != nil {
		return 0, 0, false
	}

	switch m[1] {
	case "recv error":
		return fieldRecvError, val, true
	case "sample error":
		return fieldSampleError, val, true
	case "angle error":
		return fieldAngleError, val, true
	default:
		return fieldRecv, val, true
	}
}
