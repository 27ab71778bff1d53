// Package command turns the tool blocks an assistant embeds in its replies
// into typed commands.
//
// A block looks like
//
//	[TOOL:create_item|title:Drink water|at:2024-10-16 09:00|repeat:daily]
//
// Every block parses on its own into a mo.Result: a bad block never hides
// the good ones next to it.
package command

import (
	"errors"
	"fmt"
	"time"

	"smart-calendar/internal/model"
	"smart-calendar/internal/recurrence"
)

// Tool names a command in the fixed schema.
type Tool string

const (
	ToolCreateItem Tool = "create_item"
	ToolListItems  Tool = "list_items"
	ToolComplete   Tool = "complete"
	ToolSnooze     Tool = "snooze"
	ToolDelete     Tool = "delete"
	ToolHistory    Tool = "history"
)

// Command is one of the structs below.
type Command interface {
	Tool() Tool
}

type CreateItem struct {
	Type        model.ItemType
	Title       string
	Description string
	Category    string
	At          time.Time
	Rule        recurrence.Rule
}

type ListItems struct{}

type Complete struct {
	ItemID uint
}

type Snooze struct {
	ItemID   uint
	Duration time.Duration
}

type Delete struct {
	ItemID uint
}

type History struct {
	ItemID uint
}

func (CreateItem) Tool() Tool { return ToolCreateItem }
func (ListItems) Tool() Tool  { return ToolListItems }
func (Complete) Tool() Tool   { return ToolComplete }
func (Snooze) Tool() Tool     { return ToolSnooze }
func (Delete) Tool() Tool     { return ToolDelete }
func (History) Tool() Tool    { return ToolHistory }

var (
	ErrUnknownTool    = errors.New("unknown tool")
	ErrMissingField   = errors.New("missing field")
	ErrMalformedField = errors.New("malformed field")
	ErrMalformedBlock = errors.New("malformed block")
)

// ParseError describes why a block was rejected. Err is one of the sentinels
// above, possibly joined with the cause.
type ParseError struct {
	Block string
	Tool  string
	Field string
	Err   error
}

func (e *ParseError) Error() string {
	switch {
	case e.Field != "":
		return fmt.Sprintf("tool %s: field %s: %v", e.Tool, e.Field, e.Err)
	case e.Tool != "":
		return fmt.Sprintf("tool %s: %v", e.Tool, e.Err)
	default:
		return fmt.Sprintf("block %q: %v", e.Block, e.Err)
	}
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
