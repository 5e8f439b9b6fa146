package config

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Operation selects what a query run does.
type Operation int

const (
	// OperationModel aggregates over weighted samples (per-table samplers).
	OperationModel Operation = iota
	// OperationUniform aggregates over uniform samples of every table.
	OperationUniform
	// OperationStratified aggregates over stratified samples of every table.
	OperationStratified
	// OperationOrigin computes the exact ground truth over the full tables.
	OperationOrigin
)

var operationNames = map[Operation]string{
	OperationModel:      "model",
	OperationUniform:    "uniform",
	OperationStratified: "stratified",
	OperationOrigin:     "origin",
}

// ParseOperation maps a config string to an Operation. Besides the reserved
// names, any identifier is taken as the name of a trained model, so "aqp" and
// "torch_cvae" both select OperationModel.
func ParseOperation(raw string) (Operation, error) {
	name := strings.ToLower(strings.TrimSpace(raw))
	switch name {
	case "", "model":
		return OperationModel, nil
	case "uniform":
		return OperationUniform, nil
	case "stratified":
		return OperationStratified, nil
	case "origin":
		return OperationOrigin, nil
	}
	if !modelName(name) {
		return 0, errors.Errorf("unknown operation %q", raw)
	}
	return OperationModel, nil
}

func modelName(name string) bool {
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '-', r == '.':
		default:
			return false
		}
	}
	return true
}

func (o Operation) String() string {
	if name, ok := operationNames[o]; ok {
		return name
	}
	return "Operation(" + strconv.Itoa(int(o)) + ")"
}

// Approximate reports whether the operation runs sampling rounds.
func (o Operation) Approximate() bool {
	return o != OperationOrigin
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (o *Operation) UnmarshalYAML(node *yaml.Node) error {
	parsed, err := ParseOperation(node.Value)
	if err != nil {
		return err
	}
	*o = parsed
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (o Operation) MarshalYAML() (any, error) {
	return o.String(), nil
}

// TableOperation is the per-table choice between sampling and a full scan.
type TableOperation int

const (
	// TableAQP samples the table.
	TableAQP TableOperation = iota
	// TableOrigin always scans the full table with rate 1.
	TableOrigin
)

func (o TableOperation) String() string {
	switch o {
	case TableAQP:
		return "aqp"
	case TableOrigin:
		return "origin"
	}
	return "TableOperation(" + strconv.Itoa(int(o)) + ")"
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (o *TableOperation) UnmarshalYAML(node *yaml.Node) error {
	switch strings.ToLower(strings.TrimSpace(node.Value)) {
	case "", "aqp", "model":
		*o = TableAQP
	case "origin":
		*o = TableOrigin
	default:
		return errors.Errorf("unknown table operation %q", node.Value)
	}
	return nil
}

// Sampler selects how a table's sample is produced.
type Sampler int

const (
	// SamplerUniform draws rows uniformly without replacement.
	SamplerUniform Sampler = iota
	// SamplerStratified draws per stratum with non-uniform row rates.
	SamplerStratified
	// SamplerFile reads pre-generated weighted samples.
	SamplerFile
)

func (s Sampler) String() string {
	switch s {
	case SamplerUniform:
		return "uniform"
	case SamplerStratified:
		return "stratified"
	case SamplerFile:
		return "file"
	}
	return "Sampler(" + strconv.Itoa(int(s)) + ")"
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (s *Sampler) UnmarshalYAML(node *yaml.Node) error {
	switch strings.ToLower(strings.TrimSpace(node.Value)) {
	case "", "uniform":
		*s = SamplerUniform
	case "stratified":
		*s = SamplerStratified
	case "file", "model":
		*s = SamplerFile
	default:
		return errors.Errorf("unknown sampler %q", node.Value)
	}
	return nil
}

// Allocation selects the per-stratum sample size rule.
type Allocation int

const (
	// AllocationProportional keeps max(1, floor(count*rate)) rows per stratum.
	AllocationProportional Allocation = iota
	// AllocationCapped spreads the total budget evenly, capped by stratum size.
	AllocationCapped
)

func (a Allocation) String() string {
	switch a {
	case AllocationProportional:
		return "proportional"
	case AllocationCapped:
		return "capped"
	}
	return "Allocation(" + strconv.Itoa(int(a)) + ")"
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (a *Allocation) UnmarshalYAML(node *yaml.Node) error {
	switch strings.ToLower(strings.TrimSpace(node.Value)) {
	case "", "proportional":
		*a = AllocationProportional
	case "capped":
		*a = AllocationCapped
	default:
		return errors.Errorf("unknown allocation %q", node.Value)
	}
	return nil
}

// Source selects where a full table is read from.
type Source int

const (
	// SourceCSV reads the data file.
	SourceCSV Source = iota
	// SourceMySQL runs a query against a MySQL-compatible server.
	SourceMySQL
)

func (s Source) String() string {
	switch s {
	case SourceCSV:
		return "csv"
	case SourceMySQL:
		return "mysql"
	}
	return "Source(" + strconv.Itoa(int(s)) + ")"
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (s *Source) UnmarshalYAML(node *yaml.Node) error {
	switch strings.ToLower(strings.TrimSpace(node.Value)) {
	case "", "csv":
		*s = SourceCSV
	case "mysql", "tidb":
		*s = SourceMySQL
	default:
		return errors.Errorf("unknown source %q", node.Value)
	}
	return nil
}

// Flag is a boolean that also accepts the quoted strings "true" and "false".
type Flag bool

// UnmarshalYAML implements yaml.Unmarshaler.
func (f *Flag) UnmarshalYAML(node *yaml.Node) error {
	raw := strings.ToLower(strings.TrimSpace(node.Value))
	if raw == "" {
		*f = false
		return nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return errors.Errorf("invalid boolean %q", node.Value)
	}
	*f = Flag(v)
	return nil
}
