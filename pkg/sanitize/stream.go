package sanitize

import "strings"

// windowSize is how many recent raw tokens the stream keeps to detect stop
// sequences split across token boundaries.
const windowSize = 20

// Stream sanitizes tokens as they arrive. It watches a rolling window of the
// raw token tail so a stop sequence emitted across several tokens still
// triggers. Not safe for concurrent use; one Stream per generation.
type Stream struct {
	s      *Sanitizer
	window []string
}

// Stream returns a fresh streaming view of the sanitizer.
func (s *Sanitizer) Stream() *Stream {
	return &Stream{s: s, window: make([]string, 0, windowSize)}
}

// Push feeds one raw token. It returns the text to emit for this token,
// possibly empty, and whether generation must stop. Once stop is true the
// triggering token and everything after it is discarded.
func (st *Stream) Push(token string) (emit string, stop bool) {
	st.window = append(st.window, token)
	if len(st.window) > windowSize {
		st.window = st.window[1:]
	}

	tail := strings.Join(st.window, "")
	for _, stopToken := range st.s.stopTokens {
		if containsFold(tail, stopToken) {
			return "", true
		}
	}

	cleaned := token
	for _, p := range st.s.patterns {
		cleaned = p.ReplaceAllString(cleaned, "")
	}
	if cleaned != "" && isPartialMarker(cleaned, st.s.markers) {
		cleaned = ""
	}

	// A token the sanitizer emptied out is suppressed, not emitted.
	return cleaned, false
}

// Reset clears the rolling window for reuse on a new generation.
func (st *Stream) Reset() {
	st.window = st.window[:0]
}

// isPartialMarker reports whether the token looks like the beginning of a
// control marker that has not fully streamed yet. Such fragments are held
// back instead of shown to the client.
func isPartialMarker(token string, markers []string) bool {
	trimmed := strings.TrimSpace(token)
	if trimmed == "" {
		return false
	}
	switch trimmed[0] {
	case '<', '[', '#':
	default:
		return false
	}
	for _, m := range markers {
		if len(trimmed) < len(m) && strings.EqualFold(m[:len(trimmed)], trimmed) {
			return true
		}
	}
	return false
}

func containsFold(haystack, needle string) bool {
	if needle == "" {
		return false
	}
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}
