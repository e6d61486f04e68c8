package indexer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os/exec"

	"xref/internal/filemap"
	"xref/internal/location"
	"xref/internal/symbol"
)

// ExecBackend drives an external indexer process, one invocation per job.
// The job's source is written to the process as JSON and the process replies
// with a JSON result document on stdout. Locations on the wire use paths;
// the backend translates them to file ids through the project registry and
// claims each visited file before including it in the result. Cancellation
// kills the process through the job context.
type ExecBackend struct {
	// Command is the indexer argv; the source JSON arrives on stdin.
	Command []string
	// Registry translates wire paths to stable file ids.
	Registry *location.Registry
}

// wireLocation is a path-addressed location as emitted by the indexer.
type wireLocation struct {
	File   string `json:"file"`
	Line   uint32 `json:"line"`
	Column uint32 `json:"column"`
}

type wireSymbol struct {
	Location   wireLocation `json:"location"`
	Length     uint32       `json:"length"`
	Kind       symbol.Kind  `json:"kind"`
	Name       string       `json:"name"`
	USR        string       `json:"usr"`
	Definition bool         `json:"definition,omitempty"`
	Virtual    bool         `json:"virtual,omitempty"`
	Reference  bool         `json:"reference,omitempty"`
	BaseUSRs   []string     `json:"baseUsrs,omitempty"`
}

type wireTargetRef struct {
	Location  wireLocation `json:"location"`
	Kind      symbol.Kind  `json:"kind"`
	Reference bool         `json:"reference,omitempty"`
}

type wireDiagnostic struct {
	Level    DiagnosticLevel `json:"level"`
	Location wireLocation    `json:"location"`
	Message  string          `json:"message"`
}

// wireFile is one visited file with its include list and symbol tables. The
// symnames and usrs maps are derived from the symbol records here rather than
// shipped separately.
type wireFile struct {
	Path     string                     `json:"path"`
	Includes []string                   `json:"includes"`
	Symbols  []wireSymbol               `json:"symbols"`
	Targets  map[string][]wireTargetRef `json:"targets"`
}

type wireResult struct {
	Files       []wireFile                  `json:"files"`
	FixIts      map[string][]FixIt          `json:"fixIts"`
	Diagnostics map[string][]wireDiagnostic `json:"diagnostics"`
}

// Run implements Backend.
func (b *ExecBackend) Run(job *Job, visits VisitController) (*Result, error) {
	if len(b.Command) == 0 {
		return nil, fmt.Errorf("no indexer command configured")
	}

	input, err := json.Marshal(job.Source)
	if err != nil {
		return nil, fmt.Errorf("encode source: %w", err)
	}

	cmd := exec.CommandContext(job.Context(), b.Command[0], b.Command[1:]...)
	cmd.Stdin = bytes.NewReader(input)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if job.Cancelled() {
			return nil, job.Context().Err()
		}
		return nil, fmt.Errorf("indexer %s: %w (%s)", b.Command[0], err, stderr.String())
	}

	var wire wireResult
	if err := json.Unmarshal(stdout.Bytes(), &wire); err != nil {
		return nil, fmt.Errorf("decode indexer output: %w", err)
	}
	return b.translate(job, visits, &wire), nil
}

// translate converts the wire result to file ids, claiming each visited file.
// Files another job already claimed are dropped; their owner merges them.
func (b *ExecBackend) translate(job *Job, visits VisitController, wire *wireResult) *Result {
	result := NewResult(job.SourceKey())

	for _, wf := range wire.Files {
		id := b.Registry.InsertFile(wf.Path)
		if !visits.VisitFile(id, wf.Path, job.SourceKey()) {
			continue
		}
		result.Visited[id] = struct{}{}

		includes := make([]location.FileID, 0, len(wf.Includes))
		for _, inc := range wf.Includes {
			includes = append(includes, b.Registry.InsertFile(inc))
		}
		result.Includes[id] = includes

		tables := filemap.NewFileTables()
		for _, ws := range wf.Symbols {
			sym := symbol.Symbol{
				Location: b.loc(ws.Location),
				Length:   ws.Length,
				Kind:     ws.Kind,
				Name:     ws.Name,
				USR:      ws.USR,
				BaseUSRs: ws.BaseUSRs,
			}
			if ws.Definition {
				sym.Flags |= symbol.FlagDefinition
			}
			if ws.Virtual {
				sym.Flags |= symbol.FlagVirtual
			}
			if ws.Reference {
				sym.Flags |= symbol.FlagReference
			}
			tables.Symbols = append(tables.Symbols, sym)

			if sym.Name != "" && !sym.IsReference() {
				tables.SymbolNames[sym.Name] = append(tables.SymbolNames[sym.Name], sym.Location)
			}
			if sym.USR != "" && !sym.IsReference() {
				tables.Usrs[sym.USR] = append(tables.Usrs[sym.USR], sym.Location)
			}
		}
		for usr, refs := range wf.Targets {
			for _, wr := range refs {
				ref := symbol.TargetRef{
					Location: b.loc(wr.Location),
					Kind:     wr.Kind,
				}
				if wr.Reference {
					ref.Flags |= symbol.FlagReference
				}
				tables.Targets[usr] = append(tables.Targets[usr], ref)
			}
		}
		result.Tables[id] = tables
	}

	for path, fixes := range wire.FixIts {
		result.FixIts[b.Registry.InsertFile(path)] = fixes
	}
	for path, diags := range wire.Diagnostics {
		id := b.Registry.InsertFile(path)
		for _, wd := range diags {
			result.Diagnostics[id] = append(result.Diagnostics[id], Diagnostic{
				Level:    wd.Level,
				Location: b.loc(wd.Location),
				Message:  wd.Message,
			})
		}
	}
	return result
}

func (b *ExecBackend) loc(w wireLocation) location.Location {
	return location.Location{
		FileID: b.Registry.InsertFile(w.File),
		Line:   w.Line,
		Column: w.Column,
	}
}
