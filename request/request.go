// Package request parses the single text message a peer sends on the
// control connection. Two forms are understood:
//
//	-l <port>
//	-g <filename> <port>
//
// Tokens are separated by ASCII spaces. A message is either accepted as a
// whole or rejected; there is no partially valid request.
package request

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Command is the directive of a control message.
type Command int

const (
	// List asks for the names in the served directory.
	List Command = iota
	// Get asks for the content of a single file.
	Get
)

const (
	listDirective = "-l"
	getDirective  = "-g"
)

func (c Command) String() string {
	switch c {
	case List:
		return "list"
	case Get:
		return "get"
	default:
		return fmt.Sprintf("command(%d)", int(c))
	}
}

// Directive returns the wire form of the command.
func (c Command) Directive() string {
	if c == Get {
		return getDirective
	}

	return listDirective
}

// ErrInvalid is the cause of every error returned by Parse.
var ErrInvalid = errors.New("invalid command")

// ParseError describes why a message was rejected.
type ParseError struct {
	Msg    string
	Reason string
}

func (pe *ParseError) Error() string {
	return fmt.Sprintf("%v: %s (message: %q)", ErrInvalid, pe.Reason, pe.Msg)
}

// Cause makes errors.Cause() return ErrInvalid.
func (pe *ParseError) Cause() error {
	return ErrInvalid
}

// IsInvalid checks if `err` was produced by Parse.
func IsInvalid(err error) bool {
	return errors.Cause(err) == ErrInvalid
}

// Request is a validated control message.
type Request struct {
	Command Command

	// Filename is the requested file; empty for List.
	Filename string

	// DataPort is where the peer waits for the data connection.
	DataPort uint16
}

func (r Request) String() string {
	if r.Command == Get {
		return fmt.Sprintf("%s %s %d", getDirective, r.Filename, r.DataPort)
	}

	return fmt.Sprintf("%s %d", listDirective, r.DataPort)
}

func reject(msg, format string, args ...interface{}) (*Request, error) {
	return nil, &ParseError{Msg: msg, Reason: fmt.Sprintf(format, args...)}
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}

	return len(s) > 0
}

// Parse validates `msg` and turns it into a Request.
//
// Consecutive spaces do not produce empty tokens. Trailing line endings are
// stripped, since many peers terminate their message with one. A Get
// request needs a filename; `-g <port>` is rejected. A List request takes
// no filename; `-l <name> <port>` is rejected.
func Parse(msg string) (*Request, error) {
	text := strings.TrimRight(msg, "\r\n\x00")
	tokens := strings.FieldsFunc(text, func(r rune) bool {
		return r == ' '
	})

	if len(tokens) < 2 || len(tokens) > 3 {
		return reject(msg, "expected 2 or 3 tokens, got %d", len(tokens))
	}

	// The port is always the last token.
	portToken := tokens[len(tokens)-1]

	var cmd Command
	switch tokens[0] {
	case listDirective:
		cmd = List
		if len(tokens) != 2 {
			return reject(msg, "%s takes no filename", listDirective)
		}
	case getDirective:
		cmd = Get
		if len(tokens) != 3 {
			return reject(msg, "%s needs a filename", getDirective)
		}
	default:
		return reject(msg, "unknown directive %q", tokens[0])
	}

	if !isDigits(portToken) {
		return reject(msg, "port %q is not a number", portToken)
	}

	port, err := strconv.ParseUint(portToken, 10, 16)
	if err != nil || port == 0 {
		return reject(msg, "port %q is out of range", portToken)
	}

	req := &Request{
		Command:  cmd,
		DataPort: uint16(port),
	}

	if cmd == Get {
		req.Filename = tokens[1]
	}

	return req, nil
}
