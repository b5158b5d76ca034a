// Package grading runs YAML grading plans against a submission through a
// probe and scores the outcome.
package grading

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"unicode/utf8"

	"gopkg.in/yaml.v3"

	"github.com/daimatz/gradeprobe/pkg/probe"
)

// Action is what a check does with its class.
type Action string

const (
	// ActionResolve only looks the class up.
	ActionResolve Action = "resolve"
	// ActionNew instantiates the class with Args.
	ActionNew Action = "new"
	// ActionField instantiates the class and reads Field.
	ActionField Action = "field"
	// ActionCall instantiates the class and calls Method with MethodArgs.
	ActionCall Action = "call"
)

// Plan is an ordered list of checks for one exercise.
type Plan struct {
	Exercise string  `yaml:"exercise"`
	Checks   []Check `yaml:"checks"`
}

// Check is one graded step.
type Check struct {
	Name       string  `yaml:"name"`
	Weight     float64 `yaml:"weight"`
	Action     Action  `yaml:"action"`
	Class      string  `yaml:"class"`
	Args       Values  `yaml:"args"`
	Field      string  `yaml:"field"`
	Method     string  `yaml:"method"`
	MethodArgs Values  `yaml:"method_args"`

	// Expect is compared with the value a field or call check yields when
	// HasExpect is set. Plans set HasExpect by naming the key, so
	// "expect: null" expects null.
	Expect    any  `yaml:"expect"`
	HasExpect bool `yaml:"-"`

	// ExpectFailure makes the check pass only if the probe reports a
	// failure of this kind.
	ExpectFailure probe.Kind `yaml:"expect_failure"`
}

var checkKeys = map[string]bool{
	"name": true, "weight": true, "action": true, "class": true, "args": true,
	"field": true, "method": true, "method_args": true,
	"expect": true, "expect_failure": true,
}

func (c *Check) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: check must be a mapping", n.Line)
	}
	for i := 0; i+1 < len(n.Content); i += 2 {
		key := n.Content[i]
		if !checkKeys[key.Value] {
			return fmt.Errorf("line %d: field %s not found in check", key.Line, key.Value)
		}
		if key.Value == "expect" {
			c.HasExpect = true
		}
	}
	type plain Check
	return n.Decode((*plain)(c))
}

// Values are the arguments of a constructor or method. Integers decode as
// int when they fit in 32 bits and as int64 otherwise. Other primitive
// types take a typed form, either a one-key mapping such as {long: 3} or a
// tag such as !short 2.
type Values []any

func (v *Values) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind != yaml.SequenceNode {
		return fmt.Errorf("line %d: arguments must be a sequence", n.Line)
	}
	out := make(Values, len(n.Content))
	for i, e := range n.Content {
		a, err := decodeValue(e)
		if err != nil {
			return err
		}
		out[i] = a
	}
	*v = out
	return nil
}

var primitiveParsers = map[string]func(s string) (any, error){
	"int": func(s string) (any, error) {
		i, err := strconv.ParseInt(s, 0, 32)
		return int(i), err
	},
	"long": func(s string) (any, error) {
		return strconv.ParseInt(s, 0, 64)
	},
	"short": func(s string) (any, error) {
		i, err := strconv.ParseInt(s, 0, 16)
		return int16(i), err
	},
	"byte": func(s string) (any, error) {
		i, err := strconv.ParseInt(s, 0, 8)
		return int8(i), err
	},
	"char": func(s string) (any, error) {
		r, _ := utf8.DecodeRuneInString(s)
		if utf8.RuneCountInString(s) != 1 || r > 0xFFFF {
			return nil, errors.New("not a single character")
		}
		return uint16(r), nil
	},
	"float": func(s string) (any, error) {
		f, err := strconv.ParseFloat(s, 32)
		return float32(f), err
	},
	"double": func(s string) (any, error) {
		return strconv.ParseFloat(s, 64)
	},
	"boolean": func(s string) (any, error) {
		return strconv.ParseBool(s)
	},
}

func decodeValue(n *yaml.Node) (any, error) {
	if n.Kind == yaml.AliasNode {
		return decodeValue(n.Alias)
	}
	switch {
	case n.Kind == yaml.ScalarNode && strings.HasPrefix(n.Tag, "!") && !strings.HasPrefix(n.Tag, "!!"):
		return typedValue(n.Tag[1:], n)
	case n.Kind == yaml.MappingNode && len(n.Content) == 2 && primitiveParsers[n.Content[0].Value] != nil:
		return typedValue(n.Content[0].Value, n.Content[1])
	case n.Kind == yaml.ScalarNode && n.ShortTag() == "!!int":
		var i int64
		if err := n.Decode(&i); err != nil {
			return nil, err
		}
		if i < math.MinInt32 || i > math.MaxInt32 {
			return i, nil
		}
		return int(i), nil
	}
	var a any
	if err := n.Decode(&a); err != nil {
		return nil, err
	}
	return a, nil
}

func typedValue(typ string, n *yaml.Node) (any, error) {
	parse, ok := primitiveParsers[typ]
	if !ok {
		return nil, fmt.Errorf("line %d: unknown argument type %q", n.Line, typ)
	}
	if n.Kind != yaml.ScalarNode {
		return nil, fmt.Errorf("line %d: %s argument must be a scalar", n.Line, typ)
	}
	v, err := parse(n.Value)
	if err != nil {
		return nil, fmt.Errorf("line %d: invalid %s argument %q: %w", n.Line, typ, n.Value, err)
	}
	return v, nil
}

// ParsePlan decodes and validates a plan. A check without a weight
// weighs 1.
func ParsePlan(r io.Reader) (*Plan, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var plan Plan
	if err := dec.Decode(&plan); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("plan is empty")
		}
		return nil, fmt.Errorf("failed to parse plan: %w", err)
	}
	for i := range plan.Checks {
		if plan.Checks[i].Weight == 0 {
			plan.Checks[i].Weight = 1
		}
	}
	if err := plan.Validate(); err != nil {
		return nil, err
	}
	return &plan, nil
}

// LoadPlan reads a plan file.
func LoadPlan(path string) (*Plan, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open plan: %w", err)
	}
	defer f.Close()
	return ParsePlan(f)
}

// Validate reports the first malformed check.
func (p *Plan) Validate() error {
	if len(p.Checks) == 0 {
		return fmt.Errorf("plan %q has no checks", p.Exercise)
	}
	seen := make(map[string]bool)
	for i, c := range p.Checks {
		if err := c.validate(); err != nil {
			return fmt.Errorf("check %d (%s): %w", i+1, c.Name, err)
		}
		if seen[c.Name] {
			return fmt.Errorf("check %d: duplicate name %q", i+1, c.Name)
		}
		seen[c.Name] = true
	}
	return nil
}

func (c *Check) validate() error {
	if c.Name == "" {
		return errors.New("name is required")
	}
	if c.Class == "" {
		return errors.New("class is required")
	}
	if c.Weight < 0 {
		return fmt.Errorf("weight %v is negative", c.Weight)
	}

	switch c.Action {
	case ActionResolve:
		if len(c.Args) > 0 {
			return errors.New("resolve takes no args")
		}
	case ActionNew:
	case ActionField:
		if c.Field == "" {
			return errors.New("field is required")
		}
	case ActionCall:
		if c.Method == "" {
			return errors.New("method is required")
		}
	default:
		return fmt.Errorf("unknown action %q", c.Action)
	}
	if len(c.MethodArgs) > 0 && c.Action != ActionCall {
		return errors.New("method_args only apply to call")
	}

	if c.ExpectFailure != "" {
		if !c.ExpectFailure.Valid() {
			return fmt.Errorf("unknown failure kind %q", c.ExpectFailure)
		}
		if c.HasExpect {
			return errors.New("expect and expect_failure are exclusive")
		}
	}
	if c.HasExpect && c.Action != ActionField && c.Action != ActionCall {
		return fmt.Errorf("%s yields no value to expect", c.Action)
	}
	return nil
}
