// Package cmdlist loads the ordered detector command list from a serial-terminal style
// configuration file and pins the critical bring-up commands to the head of the list.
//
// The file is line based:
//
//	; comment
//	N1=A,detector_init,0
//	N2=H,0A 0D,0
//
// Only entries of type "A" (ASCII string) with a non-empty payload become commands, in file order.
package cmdlist

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/transform"
)

// CriticalCount is the number of head positions reserved for the critical commands.
const CriticalCount = 8

// ErrNoPath is returned by Load when the path is empty.
var ErrNoPath = errors.New("cmdlist: command file path is empty")

var criticalCommands = [CriticalCount]string{
	"detector_init",
	"detector_set_das_count",
	"detector_config_das",
	"detector_set_das_param 0 2 0",
	"detector_set_work_mode 1 0 0",
	"detector_set_integral_time 600",
	"get_pcie_status",
	"detector_start",
}

// CriticalCommands returns the critical commands in bring-up order.
func CriticalCommands() []string {
	return slices.Clone(criticalCommands[:])
}

// AdjustKind tells what EnsureCritical did to a command.
type AdjustKind int

const (
	// Inserted means the command was missing and has been added.
	Inserted AdjustKind = iota
	// Relocated means the command was found beyond the critical head and has been moved into it.
	Relocated
)

func (k AdjustKind) String() string {
	switch k {
	case Inserted:
		return "inserted"
	case Relocated:
		return "relocated"
	default:
		return "unknown"
	}
}

// Adjustment records one change made by EnsureCritical.
type Adjustment struct {
	Kind     AdjustKind
	Command  string
	Position int
}

// List is a loaded command list together with the adjustments applied while pinning.
type List struct {
	Commands    []string
	Adjustments []Adjustment
	// Parsed is the number of commands read from the file before pinning.
	Parsed int
}

// Load reads, decodes, parses and pins the command file at path.
//
// The file may be GBK or UTF-8 encoded; valid UTF-8 content is used as is.
func Load(path string) (List, error) {
	if path == "" {
		return List{}, ErrNoPath
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return List{}, fmt.Errorf("read command file: %w", err)
	}

	text, err := decode(raw)
	if err != nil {
		return List{}, fmt.Errorf("decode command file %s: %w", path, err)
	}

	parsed, err := Parse(strings.NewReader(text))
	if err != nil {
		return List{}, err
	}

	cmds, adjustments := EnsureCritical(parsed)

	return List{Commands: cmds, Adjustments: adjustments, Parsed: len(parsed)}, nil
}

// Parse reads the command entries of r in file order. It does not pin critical commands.
func Parse(r io.Reader) ([]string, error) {
	var cmds []string

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)
	for scanner.Scan() {
		if cmd, ok := parseLine(scanner.Text()); ok {
			cmds = append(cmds, cmd)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan command file: %w", err)
	}

	return cmds, nil
}

func parseLine(line string) (string, bool) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, ";") || !strings.HasPrefix(line, "N") {
		return "", false
	}

	_, value, found := strings.Cut(line, "=")
	if !found {
		return "", false
	}

	parts := strings.SplitN(value, ",", 3)
	if len(parts) < 2 || parts[0] != "A" {
		return "", false
	}

	cmd := strings.TrimSpace(parts[1])

	return cmd, cmd != ""
}

// EnsureCritical pins the critical commands to the first CriticalCount positions of cmds.
//
// A missing critical command is inserted at its bring-up index (or appended when the list is
// shorter). A critical command found at an index >= CriticalCount is moved to that index.
// Critical commands already inside the head keep their position, so a list that already holds
// every critical command within its head is returned unchanged. The input slice is not modified.
func EnsureCritical(cmds []string) ([]string, []Adjustment) {
	out := slices.Clone(cmds)
	var adjustments []Adjustment

	for i, cmd := range criticalCommands {
		idx := slices.Index(out, cmd)
		switch {
		case idx < 0:
			pos := min(i, len(out))
			out = slices.Insert(out, pos, cmd)
			adjustments = append(adjustments, Adjustment{Kind: Inserted, Command: cmd, Position: pos})

		case idx >= CriticalCount:
			out = slices.Delete(out, idx, idx+1)
			pos := min(i, len(out))
			out = slices.Insert(out, pos, cmd)
			adjustments = append(adjustments, Adjustment{Kind: Relocated, Command: cmd, Position: pos})
		}
	}

	return out, adjustments
}

func decode(raw []byte) (string, error) {
	raw = bytes.TrimPrefix(raw, []byte("\xef\xbb\xbf"))
	if utf8.Valid(raw) {
		return string(raw), nil
	}

	out, _, err := transform.Bytes(simplifiedchinese.GBK.NewDecoder(), raw)
	if err != nil {
		return "", err
	}

	return string(out), nil
}
