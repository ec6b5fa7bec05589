package agent

import "strings"

// statusTagState is one state of the status-tag extractor (spec §4.5.6).
type statusTagState int

const (
	tagNormal statusTagState = iota
	tagMaybeOpen
	tagInside
)

const (
	statusOpenTag  = "<status>"
	statusCloseTag = "</status>"
)

// statusTagExtractor pulls `<status>…</status>` self-narration spans out
// of streamed assistant text, straddling chunk boundaries. Kept as a
// single small state machine per spec §9 ("easy to get wrong if
// inlined"). Outside a tag its buffer holds at most len("<status") bytes
// (a suspected partial open tag); inside an open tag it holds the tag body
// received so far, which is not bounded by the tag's length.
type statusTagExtractor struct {
	state  statusTagState
	buffer string
}

// feed processes one text_delta fragment and returns (cleanText,
// statusUpdates) — cleanText is what should be appended to the visible
// assistant message and emitted as message_delta; statusUpdates are
// complete `<status>...</status>` bodies extracted from this fragment,
// in order.
func (s *statusTagExtractor) feed(delta string) (clean string, statusUpdates []string) {
	buf := s.buffer + delta
	s.buffer = ""

	for {
		switch s.state {
		case tagNormal:
			idx := strings.Index(buf, statusOpenTag)
			if idx == -1 {
				// No full open tag. Check whether the tail of buf is a
				// prefix of the open tag (straddling chunk boundary).
				suspectLen := longestPrefixSuffixOverlap(buf, statusOpenTag)
				if suspectLen > 0 {
					clean += buf[:len(buf)-suspectLen]
					s.buffer = buf[len(buf)-suspectLen:]
					s.state = tagMaybeOpen
				} else {
					clean += buf
				}
				return clean, statusUpdates
			}
			clean += buf[:idx]
			buf = buf[idx+len(statusOpenTag):]
			s.state = tagInside

		case tagMaybeOpen:
			// More text has arrived since the suspected partial prefix was
			// buffered; re-evaluate the combined buffer as NORMAL.
			s.state = tagNormal
			continue

		case tagInside:
			idx := strings.Index(buf, statusCloseTag)
			if idx == -1 {
				// Entire remainder is inside the tag; hold it all in the
				// buffer until the close tag arrives, however long the
				// body grows.
				s.buffer = buf
				return clean, statusUpdates
			}
			statusUpdates = append(statusUpdates, buf[:idx])
			buf = buf[idx+len(statusCloseTag):]
			s.state = tagNormal
		}
	}
}

// longestPrefixSuffixOverlap returns the length of the longest proper
// suffix of s that is also a prefix of tag (including the degenerate
// empty match), capped at len(tag)-1 so a fully-matched tag is handled by
// the caller's direct Index check instead.
func longestPrefixSuffixOverlap(s, tag string) int {
	bound := len(tag) - 1
	if bound > len(s) {
		bound = len(s)
	}
	for n := bound; n > 0; n-- {
		if strings.HasSuffix(s, tag[:n]) {
			return n
		}
	}
	return 0
}
