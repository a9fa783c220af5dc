package types

// DataType is the type carried by a port.
type DataType string

const (
	DataAny   DataType = "any"
	DataText  DataType = "text"
	DataJSON  DataType = "json"
	DataAudio DataType = "audio"
	DataMedia DataType = "media"
	DataBool  DataType = "bool"
)

// Compatible reports whether a value of type d may flow into a port of type o.
func (d DataType) Compatible(o DataType) bool {
	return d == o || d == DataAny || o == DataAny
}

// Cardinality says how many edges may attach to an input port.
type Cardinality int

const (
	CardinalityMultiple Cardinality = iota
	CardinalitySingle
)

// Port is a typed connection point declared by a step.
type Port struct {
	ID          string
	DataType    DataType
	Cardinality Cardinality
}

// StepSpec is the metadata of a step type: its ports and default config.
type StepSpec struct {
	Type    StepType
	Title   string
	Inputs  []Port
	Outputs []Port
	// Exclusive steps activate exactly one output port per execution.
	Exclusive bool
	// Builtin steps are completed by the engine itself and never reach an executor.
	Builtin bool

	defaults map[string]any
}

// DefaultConfig returns a fresh copy of the step's default config.
func (s StepSpec) DefaultConfig() map[string]any {
	cfg := CloneConfig(s.defaults)
	if cfg == nil {
		cfg = map[string]any{}
	}
	return cfg
}

// Input looks up a declared input port.
func (s StepSpec) Input(id string) (Port, bool) {
	return findPort(s.Inputs, id)
}

// Output looks up a declared output port.
func (s StepSpec) Output(id string) (Port, bool) {
	return findPort(s.Outputs, id)
}

func findPort(ports []Port, id string) (Port, bool) {
	for _, p := range ports {
		if p.ID == id {
			return p, true
		}
	}
	return Port{}, false
}

// Common port ids.
const (
	PortIn    = "in"
	PortOut   = "out"
	PortTrue  = "true"
	PortFalse = "false"
)

func in(id string, dt DataType, c Cardinality) Port {
	return Port{ID: id, DataType: dt, Cardinality: c}
}

func out(id string, dt DataType) Port {
	return Port{ID: id, DataType: dt, Cardinality: CardinalityMultiple}
}

var stepOrder = []StepType{
	StepStart, StepPrompt, StepRAGSearch, StepMediaIngest, StepBranch, StepMap,
	StepWaitForHuman, StepWebhook, StepTTS, StepSTTTranscribe, StepDelay, StepLog, StepEnd,
}

var steps = map[StepType]StepSpec{
	StepStart: {
		Type:    StepStart,
		Title:   "Start",
		Outputs: []Port{out(PortOut, DataAny)},
		Builtin: true,
	},
	StepEnd: {
		Type:    StepEnd,
		Title:   "End",
		Inputs:  []Port{in(PortIn, DataAny, CardinalityMultiple)},
		Builtin: true,
	},
	StepPrompt: {
		Type:  StepPrompt,
		Title: "Prompt",
		Inputs: []Port{
			in(PortIn, DataAny, CardinalityMultiple),
			in("context", DataText, CardinalitySingle),
		},
		Outputs:  []Port{out(PortOut, DataText)},
		defaults: map[string]any{"prompt": "", "model": "", "temperature": 0.7},
	},
	StepRAGSearch: {
		Type:     StepRAGSearch,
		Title:    "RAG search",
		Inputs:   []Port{in("query", DataText, CardinalitySingle)},
		Outputs:  []Port{out("results", DataJSON)},
		defaults: map[string]any{"query": "", "collection": "", "topK": 5},
	},
	StepMediaIngest: {
		Type:     StepMediaIngest,
		Title:    "Media ingest",
		Inputs:   []Port{in(PortIn, DataAny, CardinalityMultiple)},
		Outputs:  []Port{out("media", DataMedia)},
		defaults: map[string]any{"source": ""},
	},
	StepBranch: {
		Type:      StepBranch,
		Title:     "Branch",
		Inputs:    []Port{in(PortIn, DataAny, CardinalitySingle)},
		Outputs:   []Port{out(PortTrue, DataAny), out(PortFalse, DataAny)},
		Exclusive: true,
		defaults:  map[string]any{"condition": ""},
	},
	StepMap: {
		Type:     StepMap,
		Title:    "Map",
		Inputs:   []Port{in("items", DataJSON, CardinalitySingle)},
		Outputs:  []Port{out(PortOut, DataJSON)},
		defaults: map[string]any{"expression": "", "concurrency": 1},
	},
	StepWaitForHuman: {
		Type:     StepWaitForHuman,
		Title:    "Wait for human",
		Inputs:   []Port{in(PortIn, DataAny, CardinalityMultiple)},
		Outputs:  []Port{out("approved", DataAny)},
		defaults: map[string]any{"message": "Approval required"},
	},
	StepWebhook: {
		Type:     StepWebhook,
		Title:    "Webhook",
		Inputs:   []Port{in(PortIn, DataAny, CardinalityMultiple)},
		Outputs:  []Port{out("response", DataJSON)},
		defaults: map[string]any{"url": "", "method": "POST"},
	},
	StepTTS: {
		Type:     StepTTS,
		Title:    "Text to speech",
		Inputs:   []Port{in("text", DataText, CardinalitySingle)},
		Outputs:  []Port{out("audio", DataAudio)},
		defaults: map[string]any{"voice": "default"},
	},
	StepSTTTranscribe: {
		Type:     StepSTTTranscribe,
		Title:    "Transcribe",
		Inputs:   []Port{in("audio", DataAudio, CardinalitySingle)},
		Outputs:  []Port{out("text", DataText)},
		defaults: map[string]any{"language": "en"},
	},
	StepDelay: {
		Type:     StepDelay,
		Title:    "Delay",
		Inputs:   []Port{in(PortIn, DataAny, CardinalityMultiple)},
		Outputs:  []Port{out(PortOut, DataAny)},
		defaults: map[string]any{"durationMs": 1000},
	},
	StepLog: {
		Type:     StepLog,
		Title:    "Log",
		Inputs:   []Port{in(PortIn, DataAny, CardinalityMultiple)},
		Outputs:  []Port{out(PortOut, DataAny)},
		defaults: map[string]any{"message": "", "level": "info"},
	},
}

// LookupStep returns the metadata of a step type.
func LookupStep(t StepType) (StepSpec, bool) {
	s, ok := steps[t]
	return s, ok
}

// StepTypes lists every known step type in palette order.
func StepTypes() []StepType {
	return append([]StepType(nil), stepOrder...)
}
