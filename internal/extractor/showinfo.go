package extractor

import (
	"bufio"
	"bytes"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/kozaktomas/consent-audit/internal/constants"
)

var (
	showinfoLineRe = regexp.MustCompile(`\bn:\s*(\d+)\b.*\bpts_time:\s*(-?\d+(?:\.\d+)?)`)
	parsedIndexRe  = regexp.MustCompile(`Parsed_showinfo_(\d+)`)
)

// Trace maps a stream name ("scene" or "fallback") to the pts_time of each emitted
// frame, keyed by the showinfo frame index n.
type Trace map[string]map[int]float64

// Lookup returns the timestamp of the frame with index n on stream.
func (t Trace) Lookup(stream string, n int) (float64, bool) {
	ts, ok := t[stream][n]
	return ts, ok
}

// ParseShowinfo reads the showinfo lines of an ffmpeg stderr log.
// Lines are attributed by the instance label (showinfo@scene, showinfo@fallback). When
// ffmpeg prints only the generated Parsed_showinfo_N name, the instance with the lower
// N is the scene branch, since it appears first in the graph.
func ParseShowinfo(stderr []byte) Trace {
	type entry struct {
		stream string
		parsed int
		n      int
		pts    float64
	}

	var entries []entry
	parsedSeen := map[int]bool{}

	sc := bufio.NewScanner(bytes.NewReader(stderr))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if !strings.Contains(line, "showinfo") {
			continue
		}
		m := showinfoLineRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		pts, err := strconv.ParseFloat(m[2], 64)
		if err != nil {
			continue
		}

		e := entry{n: n, pts: pts, parsed: -1}
		switch {
		case strings.Contains(line, "@"+sceneStream):
			e.stream = sceneStream
		case strings.Contains(line, "@"+fallbackStream):
			e.stream = fallbackStream
		default:
			if pm := parsedIndexRe.FindStringSubmatch(line); pm != nil {
				e.parsed, _ = strconv.Atoi(pm[1])
				parsedSeen[e.parsed] = true
			}
		}
		entries = append(entries, e)
	}

	// Order unlabelled instances by their position in the graph.
	var parsed []int
	for idx := range parsedSeen {
		parsed = append(parsed, idx)
	}
	sort.Ints(parsed)
	parsedStream := map[int]string{}
	if len(parsed) > 0 {
		parsedStream[parsed[0]] = sceneStream
	}
	if len(parsed) > 1 {
		parsedStream[parsed[1]] = fallbackStream
	}

	trace := Trace{}
	for _, e := range entries {
		stream := e.stream
		if stream == "" {
			stream = parsedStream[e.parsed]
		}
		if stream == "" {
			continue
		}
		if trace[stream] == nil {
			trace[stream] = map[int]float64{}
		}
		trace[stream][e.n] = e.pts
	}
	return trace
}

// FormatTimecode renders seconds as HH:MM:SS:FF at constants.TimecodeFPS.
// Partial frames are truncated; negative input yields the default timecode.
func FormatTimecode(seconds float64) string {
	if seconds < 0 {
		return constants.DefaultTimecode
	}
	fps := constants.TimecodeFPS
	frames := int(seconds*float64(fps)) % fps
	total := int(seconds)
	return fmt.Sprintf("%02d:%02d:%02d:%02d", total/3600, (total%3600)/60, total%60, frames)
}
