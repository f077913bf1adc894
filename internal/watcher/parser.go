package watcher

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/valyala/fastjson"

	"github.com/rejavarti/logging-server-sub008/internal/domain"
)

// timestampFormats are tried in order for pattern captures without an
// explicit time_format.
var timestampFormats = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
}

// structured-parse keys that map to dedicated LogRecord fields. Everything
// else lands in metadata.
var coreJSONKeys = map[string]bool{
	"timestamp": true, "ts": true, "time": true,
	"level": true, "lvl": true, "severity": true,
	"message": true, "msg": true,
	"source": true, "category": true, "ip": true,
}

// ParseFailure is returned when a line matches no parser. The line is
// skipped and recorded through the notification side channel; no record is
// ever fabricated for it.
type ParseFailure struct {
	Reason string
}

func (e *ParseFailure) Error() string { return e.Reason }

type compiledPattern struct {
	name       string
	re         *regexp.Regexp
	timeFormat string
}

// Parser turns raw lines into LogRecords: structured JSON first, then the
// configured extraction patterns in order.
type Parser struct {
	pool     fastjson.ParserPool
	patterns []compiledPattern
}

// NewParser compiles the given pattern rules. Every regex must capture a
// named message group.
func NewParser(rules []PatternRule) (*Parser, error) {
	p := &Parser{}
	for _, rule := range rules {
		re, err := regexp.Compile(rule.Regex)
		if err != nil {
			return nil, fmt.Errorf("pattern %q: %w", rule.Name, err)
		}
		hasMessage := false
		for _, name := range re.SubexpNames() {
			if name == "message" {
				hasMessage = true
				break
			}
		}
		if !hasMessage {
			return nil, fmt.Errorf("pattern %q: missing named group (?P<message>...)", rule.Name)
		}
		p.patterns = append(p.patterns, compiledPattern{
			name:       rule.Name,
			re:         re,
			timeFormat: rule.TimeFormat,
		})
	}
	return p, nil
}

// Parse attempts the structured parse, then each pattern. defaultSource is
// used when the line itself carries no source label.
func (p *Parser) Parse(line, defaultSource string) (domain.LogRecord, error) {
	line = strings.TrimPrefix(line, "\uFEFF")

	if record, ok := p.parseJSON(line, defaultSource); ok {
		return record, nil
	}
	if record, ok := p.parsePattern(line, defaultSource); ok {
		return record, nil
	}
	return domain.LogRecord{}, &ParseFailure{Reason: "line matched no parser"}
}

func (p *Parser) parseJSON(line, defaultSource string) (domain.LogRecord, bool) {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "{") {
		return domain.LogRecord{}, false
	}

	parser := p.pool.Get()
	defer p.pool.Put(parser)

	v, err := parser.Parse(trimmed)
	if err != nil || v.Type() != fastjson.TypeObject {
		return domain.LogRecord{}, false
	}

	message := firstString(v, "message", "msg")
	if message == "" {
		return domain.LogRecord{}, false
	}

	record := domain.LogRecord{
		Timestamp: jsonTimestamp(v),
		Level:     firstString(v, "level", "lvl", "severity"),
		Message:   message,
		Source:    firstString(v, "source"),
		Category:  firstString(v, "category"),
		IP:        firstString(v, "ip"),
	}
	if record.Level == "" {
		record.Level = "INFO"
	}
	if record.Source == "" {
		record.Source = defaultSource
	}

	obj, err := v.Object()
	if err != nil {
		return domain.LogRecord{}, false
	}
	obj.Visit(func(key []byte, value *fastjson.Value) {
		k := string(key)
		if coreJSONKeys[k] {
			return
		}
		if record.Metadata == nil {
			record.Metadata = make(map[string]string)
		}
		if value.Type() == fastjson.TypeString {
			record.Metadata[k] = string(value.GetStringBytes())
		} else {
			record.Metadata[k] = value.String()
		}
	})

	return record, true
}

func (p *Parser) parsePattern(line, defaultSource string) (domain.LogRecord, bool) {
	for _, pattern := range p.patterns {
		m := pattern.re.FindStringSubmatch(line)
		if m == nil {
			continue
		}

		groups := make(map[string]string)
		for i, name := range pattern.re.SubexpNames() {
			if name != "" && i < len(m) {
				groups[name] = m[i]
			}
		}
		if groups["message"] == "" {
			continue
		}

		record := domain.LogRecord{
			Message:  groups["message"],
			Level:    groups["level"],
			Source:   groups["source"],
			Category: groups["category"],
			IP:       groups["ip"],
		}
		if record.Level == "" {
			record.Level = "INFO"
		}
		if record.Source == "" {
			record.Source = defaultSource
		}
		record.Timestamp = patternTimestamp(groups["timestamp"], pattern.timeFormat)
		return record, true
	}
	return domain.LogRecord{}, false
}

func firstString(v *fastjson.Value, keys ...string) string {
	for _, key := range keys {
		if raw := v.GetStringBytes(key); len(raw) > 0 {
			return string(raw)
		}
	}
	return ""
}

func jsonTimestamp(v *fastjson.Value) time.Time {
	for _, key := range []string{"timestamp", "ts", "time"} {
		field := v.Get(key)
		if field == nil {
			continue
		}
		switch field.Type() {
		case fastjson.TypeString:
			if ts := parseTimestamp(string(field.GetStringBytes()), ""); !ts.IsZero() {
				return ts
			}
		case fastjson.TypeNumber:
			// Unix seconds, with millisecond inputs normalized.
			epoch := field.GetFloat64()
			if epoch > 1e12 {
				epoch /= 1000
			}
			sec := int64(epoch)
			return time.Unix(sec, int64((epoch-float64(sec))*float64(time.Second))).UTC()
		}
	}
	return time.Now().UTC()
}

func patternTimestamp(raw, format string) time.Time {
	if ts := parseTimestamp(raw, format); !ts.IsZero() {
		return ts
	}
	return time.Now().UTC()
}

func parseTimestamp(raw, format string) time.Time {
	if raw == "" {
		return time.Time{}
	}
	if format != "" {
		if ts, err := time.Parse(format, raw); err == nil {
			return ts.UTC()
		}
		return time.Time{}
	}
	for _, layout := range timestampFormats {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts.UTC()
		}
	}
	return time.Time{}
}
