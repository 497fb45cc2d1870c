package transform

import (
	"fmt"
	"regexp"

	"go.uber.org/zap"

	"github.com/morphproxy/morph/internal/api"
)

// Extractor pulls a named value out of a message by matching a regex against
// a header value or the full body and selecting one capture group. The regex
// must match the entire source text.
type Extractor struct {
	header   string
	re       *regexp.Regexp
	group    int
	fullText string
}

// NewExtractor compiles pattern and validates the capture group. An empty
// header selects the message body as the source.
func NewExtractor(header, pattern string, group int) (*Extractor, error) {
	re, err := regexp.Compile("\\A(?:" + pattern + ")\\z")
	if err != nil {
		return nil, fmt.Errorf("invalid regex %q: %w", pattern, err)
	}
	if group < 0 || group > re.NumSubexp() {
		return nil, fmt.Errorf("group %d requested for regex with only %d sub groups", group, re.NumSubexp())
	}
	return &Extractor{header: header, re: re, group: group, fullText: pattern}, nil
}

// Extract returns the selected capture group, or the empty string when the
// source is absent or the regex does not match the whole source.
func (e *Extractor) Extract(logger *zap.Logger, headers api.HeaderMap, body func() string) string {
	var src string
	if e.header != "" {
		v, ok := headers.Get(e.header)
		if !ok {
			logger.Debug("extraction header not present", zap.String("header", e.header))
			return ""
		}
		src = v
	} else {
		src = body()
	}
	m := e.re.FindStringSubmatchIndex(src)
	if m == nil {
		logger.Debug("extraction regex did not match source", zap.String("regex", e.fullText))
		return ""
	}
	start, end := m[2*e.group], m[2*e.group+1]
	if start < 0 {
		return ""
	}
	return src[start:end]
}
