package config

// WorkflowConfig is the top-level configuration structure parsed from workflow YAML.
type WorkflowConfig struct {
	Workflow Workflow `yaml:"workflow"`
}

// Workflow defines the full change workflow: metadata, defaults, worker
// configurations, staging environments, and the ordered phase list.
type Workflow struct {
	Name         string                  `yaml:"name"`
	Defaults     Defaults                `yaml:"defaults"`
	Workers      map[string]WorkerConfig `yaml:"workers"`
	Environments Environments            `yaml:"environments"`
	Phases       []Phase                 `yaml:"phases"`
}

// Defaults holds default values applied to phases that don't specify their own.
type Defaults struct {
	Worker            string `yaml:"worker"`           // name of the primary worker config
	AlternateWorker   string `yaml:"alternate_worker"` // used by escalation tier 1
	VerifyWorker      string `yaml:"verify_worker"`    // cheaper judge configuration
	Timeout           string `yaml:"timeout"`          // per worker invocation
	MaxRetries        int    `yaml:"max_retries"`      // verification retries
	MaxRetriesPerTier int    `yaml:"max_retries_per_tier"`
	HeartbeatInterval string `yaml:"heartbeat_interval"`
}

// WorkerConfig describes how to launch one external worker process.
type WorkerConfig struct {
	Command string `yaml:"command"`
	Model   string `yaml:"model"`
	Flags   string `yaml:"flags"`
}

// Environments describes the staging targets the evolution pipeline moves
// artifacts through.
type Environments struct {
	Baseline   string     `yaml:"baseline"` // known-clean tree the test env resets to
	Test       TestEnv    `yaml:"test"`
	Production ProdEnv    `yaml:"production"`
	Validation Validation `yaml:"validation"`
}

// TestEnv is the isolated environment deploys land in.
type TestEnv struct {
	Path           string `yaml:"path"`
	RestartCommand string `yaml:"restart_command"`
}

// ProdEnv is the production artifact tree.
type ProdEnv struct {
	Path           string `yaml:"path"`
	RestartCommand string `yaml:"restart_command"`
	BackupDir      string `yaml:"backup_dir"`
}

// Validation lists the suites run against the test environment.
type Validation struct {
	SyntaxCommand string `yaml:"syntax_command"`
	UnitCommand   string `yaml:"unit_command"`
	SmokeCommand  string `yaml:"smoke_command"`
	Timeout       string `yaml:"timeout"`
}

// Phase defines a single unit of work executed by a worker and gated by a
// quality check. Immutable once a run starts.
type Phase struct {
	ID        string   `yaml:"id"`
	Name      string   `yaml:"name"`
	Type      string   `yaml:"type"` // development, test, review, documentation, research
	Worker    string   `yaml:"worker"`
	Task      string   `yaml:"task"`   // task description given to the worker
	Intent    string   `yaml:"intent"` // what verification judges the output against
	Inputs    []string `yaml:"inputs"`
	Outputs   []string `yaml:"outputs"`
	Gate      Gate     `yaml:"quality_gate"`
	DependsOn []string `yaml:"depends_on"`
	Verify    bool     `yaml:"verify"`
	Timeout   string   `yaml:"timeout"`
}

// Gate describes the deterministic check run against a phase's declared output.
type Gate struct {
	Type   string            `yaml:"type"` // files_exist, syntax_check, tests_pass
	Params map[string]string `yaml:"params"`
}

// PhaseTypes is the fixed set of recognized phase types.
var PhaseTypes = map[string]bool{
	"development":   true,
	"test":          true,
	"review":        true,
	"documentation": true,
	"research":      true,
}

// GateTypes is the fixed set of recognized quality gate kinds.
var GateTypes = map[string]bool{
	"files_exist":  true,
	"syntax_check": true,
	"tests_pass":   true,
}
