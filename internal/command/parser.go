package command

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/samber/mo"

	"smart-calendar/internal/model"
	"smart-calendar/internal/recurrence"
)

var blockPattern = regexp.MustCompile(`\[TOOL:([^\[\]]*)\]`)

var blankLines = regexp.MustCompile(`\n{3,}`)

// dateOnlyHour is used when a time carries a date but no clock.
const dateOnlyHour = 9

var timeLayouts = []string{
	"2006-01-02 15:04",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
}

// Parser reads tool blocks; wall-clock times without an offset are taken in
// loc.
type Parser struct {
	loc *time.Location
}

func NewParser(loc *time.Location) *Parser {
	if loc == nil {
		loc = time.Local
	}
	return &Parser{loc: loc}
}

// Extract removes every tool block from text and parses each of them. The
// cleaned text is what the user should see.
func (p *Parser) Extract(text string, now time.Time) (string, []mo.Result[Command]) {
	var results []mo.Result[Command]
	for _, m := range blockPattern.FindAllStringSubmatch(text, -1) {
		results = append(results, p.ParseBlock(m[1], now))
	}
	reply := blockPattern.ReplaceAllString(text, "")
	reply = blankLines.ReplaceAllString(strings.TrimSpace(reply), "\n\n")
	return reply, results
}

// ParseBlock parses the body of one block, without the surrounding
// "[TOOL:" and "]".
func (p *Parser) ParseBlock(body string, now time.Time) mo.Result[Command] {
	name, fields, err := splitBlock(body)
	if err != nil {
		return mo.Err[Command](err)
	}

	f := fieldReader{tool: name, fields: fields}
	var cmd Command
	switch Tool(name) {
	case ToolCreateItem:
		cmd = p.createItem(&f, now)
	case ToolListItems:
		cmd = ListItems{}
	case ToolComplete:
		cmd = Complete{ItemID: f.id()}
	case ToolSnooze:
		cmd = Snooze{ItemID: f.id(), Duration: time.Duration(f.positiveInt("minutes")) * time.Minute}
	case ToolDelete:
		cmd = Delete{ItemID: f.id()}
	case ToolHistory:
		cmd = History{ItemID: f.id()}
	default:
		return mo.Err[Command](&ParseError{Block: body, Tool: name, Err: ErrUnknownTool})
	}
	if f.err != nil {
		return mo.Err[Command](f.err)
	}
	return mo.Ok(cmd)
}

func (p *Parser) createItem(f *fieldReader, now time.Time) Command {
	cmd := CreateItem{
		Title:       f.required("title"),
		Description: f.optional("description"),
		Category:    f.optional("category"),
		Type:        model.ItemReminder,
	}

	if raw := f.optional("type"); raw != "" {
		if t, ok := model.ParseItemType(raw); ok {
			cmd.Type = t
		} else {
			f.fail("type", fmt.Errorf("%w: %q is not reminder, task or alarm", ErrMalformedField, raw))
		}
	}

	if raw := f.required("at"); raw != "" {
		at, err := p.ParseTime(raw, now)
		if err != nil {
			f.fail("at", fmt.Errorf("%w: %w", ErrMalformedField, err))
		}
		cmd.At = at
	}

	if raw := f.optional("repeat"); raw != "" {
		rule, err := recurrence.ParseRule(raw)
		if err != nil {
			f.fail("repeat", fmt.Errorf("%w: %w", ErrMalformedField, err))
		}
		cmd.Rule = rule
	} else {
		cmd.Rule = recurrence.Once()
	}
	return cmd
}

// ParseTime accepts absolute times, a bare clock time (the next such time
// after now) and offsets like "+30m" or "in 2h".
func (p *Parser) ParseTime(raw string, now time.Time) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	now = now.In(p.loc)

	if rest, ok := cutAnyPrefix(raw, "+", "in "); ok {
		d, err := time.ParseDuration(strings.ReplaceAll(rest, " ", ""))
		if err != nil || d <= 0 {
			return time.Time{}, fmt.Errorf("bad offset %q", raw)
		}
		return now.Add(d).Truncate(time.Minute), nil
	}

	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, raw, p.loc); err == nil {
			return t, nil
		}
	}
	if d, err := time.ParseInLocation("2006-01-02", raw, p.loc); err == nil {
		return d.Add(dateOnlyHour * time.Hour), nil
	}
	if c, err := time.Parse("15:04", raw); err == nil {
		t := time.Date(now.Year(), now.Month(), now.Day(), c.Hour(), c.Minute(), 0, 0, p.loc)
		if !t.After(now) {
			t = t.AddDate(0, 0, 1)
		}
		return t, nil
	}
	return time.Time{}, fmt.Errorf("unrecognised time %q", raw)
}

func cutAnyPrefix(s string, prefixes ...string) (string, bool) {
	for _, prefix := range prefixes {
		if rest, ok := strings.CutPrefix(strings.ToLower(s), prefix); ok {
			return strings.TrimSpace(rest), true
		}
	}
	return s, false
}

// splitBlock reads "name|key:value|key:value".
func splitBlock(body string) (string, map[string]string, error) {
	parts := strings.Split(body, "|")
	name := strings.ToLower(strings.TrimSpace(parts[0]))
	if name == "" {
		return "", nil, &ParseError{Block: body, Err: fmt.Errorf("%w: no tool name", ErrMalformedBlock)}
	}

	fields := make(map[string]string, len(parts)-1)
	for _, part := range parts[1:] {
		if strings.TrimSpace(part) == "" {
			continue
		}
		key, value, ok := strings.Cut(part, ":")
		key = strings.ToLower(strings.TrimSpace(key))
		if !ok || key == "" {
			return "", nil, &ParseError{Block: body, Tool: name, Err: fmt.Errorf("%w: %q is not key:value", ErrMalformedBlock, part)}
		}
		if _, dup := fields[key]; dup {
			return "", nil, &ParseError{Block: body, Tool: name, Field: key, Err: fmt.Errorf("%w: repeated", ErrMalformedField)}
		}
		fields[key] = strings.TrimSpace(value)
	}
	return name, fields, nil
}

// fieldReader keeps the first field error so a command can be read without
// checking every access.
type fieldReader struct {
	tool   string
	fields map[string]string
	err    error
}

func (f *fieldReader) fail(field string, err error) {
	if f.err == nil {
		f.err = &ParseError{Tool: f.tool, Field: field, Err: err}
	}
}

func (f *fieldReader) optional(key string) string {
	return f.fields[key]
}

func (f *fieldReader) required(key string) string {
	v := f.fields[key]
	if v == "" {
		f.fail(key, ErrMissingField)
	}
	return v
}

func (f *fieldReader) positiveInt(key string) int {
	raw := f.required(key)
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(strings.TrimPrefix(raw, "#"))
	if err != nil || n <= 0 {
		f.fail(key, fmt.Errorf("%w: %q is not a positive number", ErrMalformedField, raw))
		return 0
	}
	return n
}

func (f *fieldReader) id() uint {
	return uint(f.positiveInt("id"))
}
