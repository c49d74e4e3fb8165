package invoke

import (
	"regexp"
	"strings"

	"omegaclaw/pkg/brain"
)

// Marker is a signal recognised in interactive output.
type Marker int

// Markers, in detection priority order.
const (
	MarkerNone Marker = iota
	MarkerPermission
	MarkerBlocked
	MarkerPhaseComplete
	MarkerJobComplete
	MarkerUsageLimit
)

func (m Marker) String() string {
	switch m {
	case MarkerPermission:
		return "permission"
	case MarkerBlocked:
		return "blocked"
	case MarkerPhaseComplete:
		return "phase_complete"
	case MarkerJobComplete:
		return "job_complete"
	case MarkerUsageLimit:
		return "usage_limit"
	default:
		return "none"
	}
}

var (
	ansiRe        = regexp.MustCompile(`\x1b\[[0-9;?]*[ -/]*[@-~]|\x1b\][^\x07]*\x07|\x1b[@-Z\\-_]`)
	permissionRe  = regexp.MustCompile(`\[Y/n\]|\[y/N\]|\(y/n\)`)
	blockedLineRe = regexp.MustCompile(`BLOCKED:\s*([^\r\n]*)`)
	phaseDoneRe   = regexp.MustCompile(`PHASE_COMPLETE:\s*([^\r\n]*)`)

	// protocolEchoRe matches the marker names as quoted by the initial
	// instruction when the session renders it back.
	protocolEchoRe = regexp.MustCompile(`output:\s*(PHASE_COMPLETE|BLOCKED|JOB_COMPLETE)`)
)

// StripANSI removes terminal escape sequences and carriage returns.
func StripANSI(s string) string {
	return strings.ReplaceAll(ansiRe.ReplaceAllString(s, ""), "\r", "")
}

// Detection is one marker found in a chunk, with the text that follows it.
type Detection struct {
	Marker Marker
	Detail string
	End    int
}

// MarkerDetector scans ANSI-stripped interactive output. It keeps a short
// carry-over so markers split across reads are still found, and never
// reports the same text twice.
type MarkerDetector struct {
	buf string
}

// NewMarkerDetector creates a detector.
func NewMarkerDetector() *MarkerDetector {
	return &MarkerDetector{}
}

const detectorCarry = 256

// Feed adds raw output and returns the markers it completes, in order.
func (d *MarkerDetector) Feed(raw string) []Detection {
	d.buf += StripANSI(raw)
	d.buf = protocolEchoRe.ReplaceAllString(d.buf, "output: marker")

	var found []Detection
	for {
		det, ok := d.next()
		if !ok {
			break
		}
		found = append(found, det)
		d.buf = d.buf[det.End:]
	}

	if len(d.buf) > detectorCarry {
		d.buf = d.buf[len(d.buf)-detectorCarry:]
	}
	return found
}

// next finds the earliest complete marker in the buffer. Line markers need
// their line terminated so the detail is not cut short.
func (d *MarkerDetector) next() (Detection, bool) {
	bestStart := -1
	var best Detection
	consider := func(m Marker, start, end int, detail string) {
		if bestStart == -1 || start < bestStart {
			bestStart = start
			best = Detection{Marker: m, Detail: strings.TrimSpace(detail), End: end}
		}
	}

	if loc := permissionRe.FindStringIndex(d.buf); loc != nil {
		consider(MarkerPermission, loc[0], loc[1], "")
	}
	if loc := blockedLineRe.FindStringSubmatchIndex(d.buf); loc != nil && lineClosed(d.buf, loc[1]) {
		consider(MarkerBlocked, loc[0], loc[1], d.buf[loc[2]:loc[3]])
	}
	if loc := phaseDoneRe.FindStringSubmatchIndex(d.buf); loc != nil && lineClosed(d.buf, loc[1]) {
		consider(MarkerPhaseComplete, loc[0], loc[1], d.buf[loc[2]:loc[3]])
	}
	if i := strings.Index(d.buf, "JOB_COMPLETE"); i >= 0 {
		consider(MarkerJobComplete, i, i+len("JOB_COMPLETE"), "")
	}
	if loc := usageLimitIndex(d.buf); loc != nil {
		consider(MarkerUsageLimit, loc[0], loc[1], "")
	}
	return best, bestStart >= 0
}

// Flush returns any line marker still waiting for its line end, used at EOF.
func (d *MarkerDetector) Flush() []Detection {
	d.buf += "\n"
	return d.Feed("")
}

func lineClosed(s string, end int) bool {
	return end < len(s)
}

func usageLimitIndex(s string) []int {
	lower := strings.ToLower(s)
	for _, p := range brain.LimitPhrases {
		if i := strings.Index(lower, p); i >= 0 {
			return []int{i, i + len(p)}
		}
	}
	return nil
}
