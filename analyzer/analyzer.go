// Package analyzer reads a run transcript and reports whether the detector came up correctly.
//
// The report covers the number of successful connections, whether each DAS configuration step was
// both sent and echoed back, the DCB link state around the start of acquisition, zero data input,
// and the error counters the device prints in its status replies.
package analyzer

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"github.com/Erick14-l/RCS-AutoTest/transcript"
)

// DASSteps are the configuration commands whose send and echo are checked.
var DASSteps = []string{
	"detector_init",
	"detector_set_das_count",
	"detector_config_das",
	"detector_set_das_param",
	"detector_set_work_mode",
	"detector_set_integral_time",
}

const startCommand = "detector_start"

var (
	timestampRe   = regexp.MustCompile(`\[(.*?)\]`)
	sfpRe         = regexp.MustCompile(`detail:.+?sfp_connet\[(\d)\].+?collect_flag\[(\d)\]`)
	recvRe        = regexp.MustCompile(`recv:(\d+)`)
	statusErrorRe = regexp.MustCompile(`(recv error|sample error|angle error):(\d+)`)
	viewRe        = regexp.MustCompile(`loss_view\[(\d+)\],err_view\[(\d+)\],total_view\[(\d+)\]`)
)

// DCBState is the verdict on the DCB link.
type DCBState string

const (
	// DCBOK means collect_flag went from 0 before detector_start to 1 after it.
	DCBOK DCBState = "ok"
	// DCBFailed means both states were seen but collect_flag did not go from 0 to 1.
	DCBFailed DCBState = "failed"
	// DCBUnknown means the link state was not reported both before and after detector_start.
	DCBUnknown DCBState = "unknown"
)

// StepStatus tells whether a configuration command was sent and its echo received.
type StepStatus struct {
	Name     string `yaml:"name"`
	Sent     bool   `yaml:"sent"`
	Received bool   `yaml:"received"`
}

// LinkState is a sfp_connet / collect_flag pair reported by the device.
type LinkState struct {
	SFPConnect  string `yaml:"sfpConnect"`
	CollectFlag string `yaml:"collectFlag"`
}

// Finding is a transcript line reporting an error, with its timestamp.
type Finding struct {
	Line string `yaml:"line"`
	Time string `yaml:"time,omitempty"`
}

// Report is the result of analyzing one transcript.
type Report struct {
	Source      string `yaml:"source,omitempty"`
	Connections int    `yaml:"connections"`

	DASConfigured bool         `yaml:"dasConfigured"`
	DASErrorTime  string       `yaml:"dasErrorTime,omitempty"`
	Steps         []StepStatus `yaml:"steps"`

	StartTime   string     `yaml:"startTime,omitempty"`
	LinkBefore  *LinkState `yaml:"linkBefore,omitempty"`
	LinkAfter   *LinkState `yaml:"linkAfter,omitempty"`
	DCB         DCBState   `yaml:"dcb"`
	DCBFailTime string     `yaml:"dcbFailTime,omitempty"`

	RecvZero     bool   `yaml:"recvZero"`
	RecvZeroTime string `yaml:"recvZeroTime,omitempty"`

	StatusErrors []Finding `yaml:"statusErrors,omitempty"`
	ViewErrors   []Finding `yaml:"viewErrors,omitempty"`

	HasError bool `yaml:"hasError"`
}

// AnalyzeFile analyzes the transcript at path.
func AnalyzeFile(path string) (*Report, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open transcript: %w", err)
	}
	defer f.Close()

	rep, err := Analyze(f)
	if err != nil {
		return nil, err
	}
	rep.Source = path

	return rep, nil
}

// Analyze reads a transcript from r.
func Analyze(r io.Reader) (*Report, error) {
	rep := &Report{Steps: make([]StepStatus, len(DASSteps))}
	for i, name := range DASSteps {
		rep.Steps[i].Name = name
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4<<20)
	for scanner.Scan() {
		rep.scanLine(scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read transcript: %w", err)
	}

	rep.finish()

	return rep, nil
}

func (rep *Report) scanLine(line string) {
	if strings.Contains(line, transcript.PhraseConnected) {
		rep.Connections++
	}

	for i := range rep.Steps {
		step := &rep.Steps[i]
		if strings.Contains(line, transcript.Send(step.Name)) {
			step.Sent = true
			if !step.Received {
				if ts, ok := timestamp(line); ok {
					rep.DASErrorTime = ts
				}
			}
		} else if strings.Contains(line, transcript.Recv(step.Name)) {
			step.Received = true
		}
	}

	if strings.Contains(line, transcript.Send(startCommand)) {
		if ts, ok := timestamp(line); ok {
			rep.StartTime = ts
		}
	}

	if strings.Contains(line, "detail:") && strings.Contains(line, "sfp_connet") {
		if m := sfpRe.FindStringSubmatch(line); m != nil {
			state := &LinkState{SFPConnect: m[1], CollectFlag: m[2]}
			if rep.StartTime == "" {
				rep.LinkBefore = state
			} else {
				rep.LinkAfter = state
			}
		}
	}

	if strings.Contains(line, "recv:") && !strings.Contains(line, "recv error") {
		if m := recvRe.FindStringSubmatch(line); m != nil && m[1] == "0" {
			rep.RecvZero = true
			if ts, ok := timestamp(line); ok {
				rep.RecvZeroTime = ts
			}
		}
	}

	if m := statusErrorRe.FindStringSubmatch(line); m != nil && m[2] != "0" {
		rep.StatusErrors = append(rep.StatusErrors, finding(line))
	}

	if m := viewRe.FindStringSubmatch(line); m != nil && (m[1] != "0" || m[2] != "0") {
		rep.ViewErrors = append(rep.ViewErrors, finding(line))
	}
}

func (rep *Report) finish() {
	rep.DASConfigured = true
	for _, step := range rep.Steps {
		if !step.Sent || !step.Received {
			rep.DASConfigured = false
			break
		}
	}

	switch {
	case rep.LinkBefore == nil || rep.LinkAfter == nil:
		rep.DCB = DCBUnknown
	case rep.LinkBefore.CollectFlag == "0" && rep.LinkAfter.CollectFlag == "1":
		rep.DCB = DCBOK
	default:
		rep.DCB = DCBFailed
		rep.DCBFailTime = rep.StartTime
	}

	rep.HasError = !rep.DASConfigured ||
		rep.DCB != DCBOK ||
		rep.RecvZero ||
		len(rep.StatusErrors) > 0 ||
		len(rep.ViewErrors) > 0
}

func timestamp(line string) (string, bool) {
	m := timestampRe.FindStringSubmatch(line)
	if m == nil {
		return "", false
	}

	return m[1], true
}

func finding(line string) Finding {
	ts, _ := timestamp(line)
	return Finding{Line: strings.TrimSpace(line), Time: ts}
}
