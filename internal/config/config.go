// Package config provides configuration loading and management.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"

	"github.com/vinayprograms/gatekeeper/internal/action"
	"github.com/vinayprograms/gatekeeper/internal/budget"
	"github.com/vinayprograms/gatekeeper/internal/collaboration"
	"github.com/vinayprograms/gatekeeper/internal/logging"
	"github.com/vinayprograms/gatekeeper/internal/loopguard"
	"github.com/vinayprograms/gatekeeper/internal/revision"
	"github.com/vinayprograms/gatekeeper/internal/supervision"
)

// DefaultFile is the configuration file looked up by LoadDefault.
const DefaultFile = "gatekeeper.toml"

// Config represents the gateway configuration.
type Config struct {
	Budget        BudgetConfig               `toml:"budget"`
	Allow         AllowConfig                `toml:"allow"`
	Operations    map[string]OperationConfig `toml:"operations" validate:"dive"`
	Plan          PlanConfig                 `toml:"plan"`
	Policy        PolicyConfig               `toml:"policy"`
	Human         HumanConfig                `toml:"human"`
	Planner       PlannerConfig              `toml:"planner"`
	Revision      RevisionConfig             `toml:"revision"`
	Review        ReviewConfig               `toml:"review"`
	Collaboration CollaborationConfig        `toml:"collaboration"`
	Logging       LoggingConfig              `toml:"logging"`
}

// BudgetConfig is the resource envelope of one run. Zero counts are
// uncounted; times are in seconds.
type BudgetConfig struct {
	MaxSteps       int     `toml:"max_steps" validate:"gte=0"`
	MaxToolCalls   int     `toml:"max_tool_calls" validate:"gte=0"`
	MaxDispatches  int     `toml:"max_dispatches" validate:"gte=0"`
	MaxDelegations int     `toml:"max_delegations" validate:"gte=0"`
	MaxMessages    int     `toml:"max_messages" validate:"gte=0"`
	MaxParallel    int     `toml:"max_parallel" validate:"gte=1"`
	MaxRetries     int     `toml:"max_retries" validate:"gte=0,lte=5"`
	CallTimeout    float64 `toml:"call_timeout" validate:"gte=0"`
	MaxSeconds     float64 `toml:"max_seconds" validate:"gte=0"`
}

// AllowConfig lists what a planner may propose.
type AllowConfig struct {
	Kinds         []string `toml:"kinds" validate:"dive,oneof=tool final route plan"`
	Operations    []string `toml:"operations" validate:"dive,required"`
	Routes        []string `toml:"routes" validate:"dive,required"`
	RouteRequires []string `toml:"route_requires" validate:"dive,required"`
}

// OperationConfig describes one operation's argument contract and call limits.
type OperationConfig struct {
	// Args maps argument names to types: int, number, string, bool, object,
	// list. A trailing '?' marks the argument optional.
	Args map[string]string `toml:"args"`
	// Values restricts string arguments to fixed values.
	Values map[string][]string `toml:"values"`
	Min    map[string]float64  `toml:"min"`
	Max    map[string]float64  `toml:"max"`
	// Repeat is how often one signature may be called. Zero keeps the
	// registered capability or the default of one.
	Repeat    int  `toml:"repeat" validate:"gte=0"`
	CallLimit int  `toml:"call_limit" validate:"gte=0"`
	ReadOnly  bool `toml:"read_only"`
}

// PlanConfig bounds plan proposals.
type PlanConfig struct {
	MinSteps        int  `toml:"min_steps" validate:"gte=0"`
	MaxSteps        int  `toml:"max_steps" validate:"gte=0"`
	RequireTitle    bool `toml:"require_title"`
	RequireCritical bool `toml:"require_critical"`
}

// PolicyConfig is the supervisor policy.
type PolicyConfig struct {
	Enabled       bool                             `toml:"enabled"`
	FinalRequires []string                         `toml:"final_requires"`
	Operations    map[string]PolicyOperationConfig `toml:"operations" validate:"dive"`
}

// PolicyOperationConfig is the supervisor policy for one operation.
type PolicyOperationConfig struct {
	ReadOnly       bool           `toml:"read_only"`
	Requires       []string       `toml:"requires"`
	AmountArg      string         `toml:"amount_arg"`
	AutoLimit      float64        `toml:"auto_limit" validate:"gte=0"`
	RunCeiling     float64        `toml:"run_ceiling" validate:"gte=0"`
	Defaults       map[string]any `toml:"defaults"`
	AlwaysEscalate bool           `toml:"always_escalate"`
}

// HumanConfig selects the approval stand-in.
type HumanConfig struct {
	// Mode is "reject" (no approver), "cap" (approve up to Cap) or
	// "approve" (approve as proposed).
	Mode    string  `toml:"mode" validate:"oneof=reject cap approve"`
	Cap     float64 `toml:"cap" validate:"gte=0"`
	Timeout float64 `toml:"timeout" validate:"gt=0"`
}

// PlannerConfig bounds planner calls.
type PlannerConfig struct {
	Timeout float64 `toml:"timeout" validate:"gte=0"`
}

// RevisionConfig bounds reflection artifacts.
type RevisionConfig struct {
	MaxDraftChars  int     `toml:"max_draft_chars" validate:"gte=1"`
	MaxAnswerChars int     `toml:"max_answer_chars" validate:"gte=1"`
	MinSimilarity  float64 `toml:"min_similarity" validate:"gte=0,lte=1"`
}

// ReviewConfig constrains reviewer output.
type ReviewConfig struct {
	Decisions   []string `toml:"decisions" validate:"min=1,dive,oneof=approve revise escalate"`
	Executable  []string `toml:"executable" validate:"dive,oneof=approve revise escalate"`
	IssueTypes  []string `toml:"issue_types" validate:"dive,required"`
	HighRisk    []string `toml:"high_risk" validate:"dive,required"`
	MaxIssues   int      `toml:"max_issues" validate:"gte=0"`
	MaxFixItems int      `toml:"max_fix_items" validate:"gte=0"`
}

// CollaborationConfig shapes the multi-agent flow. Team defaults to
// Agents; a team role missing from Agents is denied at run time.
type CollaborationConfig struct {
	Agents     []string `toml:"agents" validate:"dive,required"`
	Team       []string `toml:"team" validate:"dive,required"`
	MaxRounds  int      `toml:"max_rounds" validate:"gte=0"`
	MinGoVotes int      `toml:"min_go_votes" validate:"gte=0"`
}

// LoggingConfig contains log settings.
type LoggingConfig struct {
	Level string `toml:"level" validate:"oneof=debug info warn error DEBUG INFO WARN ERROR"`
}

// New creates a new config with defaults.
func New() *Config {
	b := budget.Default()
	l := revision.DefaultLimits()
	r := revision.DefaultReviewPolicy()
	return &Config{
		Budget: BudgetConfig{
			MaxSteps:      b.MaxSteps,
			MaxToolCalls:  b.MaxToolCalls,
			MaxDispatches: b.MaxDispatches,
			MaxParallel:   b.MaxParallel,
			MaxRetries:    b.MaxRetries,
			CallTimeout:   b.CallTimeout.Seconds(),
			MaxSeconds:    b.MaxDuration.Seconds(),
		},
		Allow: AllowConfig{
			Kinds: []string{string(action.KindTool), string(action.KindFinal)},
		},
		Operations: make(map[string]OperationConfig),
		Policy: PolicyConfig{
			Operations: make(map[string]PolicyOperationConfig),
		},
		Human: HumanConfig{
			Mode:    "reject",
			Timeout: 300,
		},
		Planner: PlannerConfig{
			Timeout: 10,
		},
		Revision: RevisionConfig{
			MaxDraftChars:  l.MaxDraftChars,
			MaxAnswerChars: l.MaxAnswerChars,
			MinSimilarity:  l.MinSimilarity,
		},
		Review: ReviewConfig{
			Decisions:   r.Decisions,
			Executable:  r.Executable,
			IssueTypes:  r.IssueTypes,
			HighRisk:    r.HighRisk,
			MaxIssues:   r.MaxIssues,
			MaxFixItems: r.MaxFixItems,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Default returns a default configuration.
func Default() *Config {
	return New()
}

// Parse decodes TOML data over the defaults and validates the result.
func Parse(data string) (*Config, error) {
	cfg := New()
	md, err := toml.Decode(data, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("unknown config keys: %s", strings.Join(keys, ", "))
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile loads configuration from a TOML file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	cfg, err := Parse(string(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// LoadDefault loads configuration from gatekeeper.toml in the current
// directory. A missing file yields the defaults.
func LoadDefault() (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get current directory: %w", err)
	}
	path := filepath.Join(cwd, DefaultFile)
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return New(), nil
	}
	return LoadFile(path)
}

var validate = validator.New()

// Validate checks field constraints and the cross-field rules tags cannot
// express.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, len(verrs))
			for i, fe := range verrs {
				msgs[i] = fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag())
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Plan.MaxSteps > 0 && c.Plan.MinSteps > c.Plan.MaxSteps {
		return fmt.Errorf("invalid config: plan.min_steps %d exceeds plan.max_steps %d", c.Plan.MinSteps, c.Plan.MaxSteps)
	}
	if _, err := c.Contracts(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	for name, op := range c.Policy.Operations {
		if op.AmountArg == "" && (op.AutoLimit > 0 || op.RunCeiling > 0) {
			return fmt.Errorf("invalid config: policy.operations.%s sets limits without amount_arg", name)
		}
	}
	if team := c.CollaborationConfig().WithDefaults(); len(team.Team) > 0 && team.MinGoVotes > len(team.Team) {
		return fmt.Errorf("invalid config: collaboration.min_go_votes %d exceeds the team of %d", team.MinGoVotes, len(team.Team))
	}
	if c.Human.Mode == "cap" && c.Human.Cap <= 0 {
		return fmt.Errorf("invalid config: human.cap must be positive in cap mode")
	}
	return nil
}

// BudgetValue returns the immutable budget for a run.
func (c *Config) BudgetValue() budget.Budget {
	b := c.Budget
	return budget.Budget{
		MaxSteps:       b.MaxSteps,
		MaxToolCalls:   b.MaxToolCalls,
		MaxDispatches:  b.MaxDispatches,
		MaxDelegations: b.MaxDelegations,
		MaxMessages:    b.MaxMessages,
		MaxParallel:    b.MaxParallel,
		MaxRetries:     b.MaxRetries,
		CallTimeout:    seconds(b.CallTimeout),
		MaxDuration:    seconds(b.MaxSeconds),
	}
}

// Contracts parses the argument table of every operation that declares one.
func (c *Config) Contracts() (map[string]action.Contract, error) {
	out := make(map[string]action.Contract)
	for _, name := range sortedNames(c.Operations) {
		op := c.Operations[name]
		if len(op.Args) == 0 {
			continue
		}
		contract := make(action.Contract, len(op.Args))
		for arg, typ := range op.Args {
			spec, err := action.ParseArgSpec(typ)
			if err != nil {
				return nil, fmt.Errorf("operations.%s.args.%s: %w", name, arg, err)
			}
			spec.Allowed = op.Values[arg]
			if v, ok := op.Min[arg]; ok {
				spec.Min = &v
			}
			if v, ok := op.Max[arg]; ok {
				spec.Max = &v
			}
			contract[arg] = spec
		}
		for arg := range op.Values {
			if _, ok := op.Args[arg]; !ok {
				return nil, fmt.Errorf("operations.%s.values.%s: argument not declared", name, arg)
			}
		}
		out[name] = contract
	}
	return out, nil
}

// ActionConfig returns the validator configuration. Kinds overrides the
// configured kinds when given.
func (c *Config) ActionConfig(kinds ...action.Kind) (action.Config, error) {
	contracts, err := c.Contracts()
	if err != nil {
		return action.Config{}, err
	}
	if len(kinds) == 0 {
		for _, k := range c.Allow.Kinds {
			kinds = append(kinds, action.Kind(k))
		}
	}
	return action.Config{
		Kinds:         kinds,
		Operations:    c.Allow.Operations,
		Routes:        c.Allow.Routes,
		Contracts:     contracts,
		RouteRequires: c.Allow.RouteRequires,
		Plan: action.PlanRules{
			MinSteps:        c.Plan.MinSteps,
			MaxSteps:        c.Plan.MaxSteps,
			RequireTitle:    c.Plan.RequireTitle,
			RequireCritical: c.Plan.RequireCritical,
		},
	}, nil
}

// GuardConfig returns the loop guard configuration. Registered capabilities
// seed the repeat table and configured values override them.
func (c *Config) GuardConfig(registered map[string]int) loopguard.Config {
	cfg := loopguard.Config{
		DefaultRepeat: 1,
		Repeat:        make(map[string]int),
		CallLimit:     make(map[string]int),
	}
	for name, n := range registered {
		cfg.Repeat[name] = n
	}
	for name, op := range c.Operations {
		switch {
		case op.Repeat > 0:
			cfg.Repeat[name] = op.Repeat
		case op.ReadOnly && cfg.Repeat[name] == 0:
			cfg.Repeat[name] = 2
		}
		if op.CallLimit > 0 {
			cfg.CallLimit[name] = op.CallLimit
		}
	}
	return cfg
}

// SupervisionPolicy returns the supervisor policy.
func (c *Config) SupervisionPolicy() supervision.Policy {
	p := supervision.Policy{
		FinalRequires: c.Policy.FinalRequires,
		Operations:    make(map[string]supervision.OperationPolicy, len(c.Policy.Operations)),
	}
	for name, op := range c.Policy.Operations {
		p.Operations[name] = supervision.OperationPolicy{
			ReadOnly:       op.ReadOnly,
			Requires:       op.Requires,
			AmountArg:      op.AmountArg,
			AutoLimit:      op.AutoLimit,
			RunCeiling:     op.RunCeiling,
			Defaults:       op.Defaults,
			AlwaysEscalate: op.AlwaysEscalate,
		}
	}
	return p
}

// Approver returns the approval stand-in selected by the human section.
func (c *Config) Approver() supervision.Approver {
	switch c.Human.Mode {
	case "cap":
		return supervision.CapApprover{Cap: c.Human.Cap}
	case "approve":
		return supervision.ApproverFunc(func(_ context.Context, _ supervision.Request) (supervision.Approval, error) {
			return supervision.Approval{Approved: true, Comment: "approved"}, nil
		})
	}
	return nil
}

// HumanTimeout returns the approval wait bound.
func (c *Config) HumanTimeout() time.Duration {
	return seconds(c.Human.Timeout)
}

// PlannerTimeout returns the per-call planner bound.
func (c *Config) PlannerTimeout() time.Duration {
	return seconds(c.Planner.Timeout)
}

// RevisionLimits returns the reflection text limits.
func (c *Config) RevisionLimits() revision.Limits {
	return revision.Limits{
		MaxDraftChars:  c.Revision.MaxDraftChars,
		MaxAnswerChars: c.Revision.MaxAnswerChars,
		MinSimilarity:  c.Revision.MinSimilarity,
	}
}

// ReviewPolicy returns the reviewer output policy.
func (c *Config) ReviewPolicy() revision.ReviewPolicy {
	return revision.ReviewPolicy{
		Decisions:   c.Review.Decisions,
		Executable:  c.Review.Executable,
		IssueTypes:  c.Review.IssueTypes,
		HighRisk:    c.Review.HighRisk,
		MaxIssues:   c.Review.MaxIssues,
		MaxFixItems: c.Review.MaxFixItems,
	}
}

// CollaborationConfig returns the multi-agent flow settings.
func (c *Config) CollaborationConfig() collaboration.Config {
	return collaboration.Config{
		Agents:     c.Collaboration.Agents,
		Team:       c.Collaboration.Team,
		MaxRounds:  c.Collaboration.MaxRounds,
		MinGoVotes: c.Collaboration.MinGoVotes,
	}
}

// LogLevel returns the configured log level.
func (c *Config) LogLevel() logging.Level {
	level, err := logging.ParseLevel(c.Logging.Level)
	if err != nil {
		return logging.LevelInfo
	}
	return level
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

func sortedNames[V any](m map[string]V) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
