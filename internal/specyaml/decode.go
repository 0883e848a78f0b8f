// Package specyaml decodes the YAML-with-custom-tags spec format into
// specdom.Node trees, and re-serializes them for the tier's `spec` action
// reply. Tag dispatch mirrors the original's dynamic type-tag decoding,
// replaced here with a single switch over node.Tag per §9's design note.
package specyaml

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/bc-dunia/gatortree/internal/specdom"
)

const (
	tagJob      = "!Job"
	tagJobGroup = "!JobGroup"
	tagJobArray = "!JobArray"
	tagCores    = "!Cores"
	tagMemory   = "!Memory"
	tagLicense  = "!License"
)

// Decode parses a single YAML document into a spec tree rooted at one
// !Job, !JobGroup, or !JobArray node.
func Decode(data []byte) (specdom.Node, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	if len(doc.Content) == 0 {
		return nil, fmt.Errorf("empty spec document")
	}
	return decodeNode(doc.Content[0])
}

// rawNode captures the fields common to all three node variants; fields
// irrelevant to a given variant are simply left zero.
type rawNode struct {
	Ident     string            `yaml:"ident"`
	Command   string            `yaml:"command"`
	Args      []string          `yaml:"args"`
	Cwd       string            `yaml:"cwd"`
	Env       map[string]string `yaml:"env"`
	Repeats   int               `yaml:"repeats"`
	OnDone    []string          `yaml:"on_done"`
	OnPass    []string          `yaml:"on_pass"`
	OnFail    []string          `yaml:"on_fail"`
	Resources []yaml.Node       `yaml:"resources"`
	Jobs      []yaml.Node       `yaml:"jobs"`
}

func decodeNode(n *yaml.Node) (specdom.Node, error) {
	var raw rawNode
	if err := n.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode node: %w", err)
	}
	if raw.Ident == "" {
		return nil, fmt.Errorf("spec node missing ident (tag %s)", n.Tag)
	}
	deps := specdom.Deps{OnDone: raw.OnDone, OnPass: raw.OnPass, OnFail: raw.OnFail}

	switch n.Tag {
	case tagJob:
		resources, err := decodeResources(raw.Resources)
		if err != nil {
			return nil, fmt.Errorf("job %q: %w", raw.Ident, err)
		}
		return &specdom.Job{
			Ident:     raw.Ident,
			Command:   raw.Command,
			Args:      raw.Args,
			Cwd:       raw.Cwd,
			Env:       raw.Env,
			Resources: resources,
			Deps:      deps,
		}, nil
	case tagJobGroup:
		jobs, err := decodeJobs(raw.Jobs)
		if err != nil {
			return nil, fmt.Errorf("jobgroup %q: %w", raw.Ident, err)
		}
		return &specdom.JobGroup{
			Ident: raw.Ident,
			Cwd:   raw.Cwd,
			Env:   raw.Env,
			Jobs:  jobs,
			Deps:  deps,
		}, nil
	case tagJobArray:
		jobs, err := decodeJobs(raw.Jobs)
		if err != nil {
			return nil, fmt.Errorf("jobarray %q: %w", raw.Ident, err)
		}
		arr := &specdom.JobArray{
			Ident:   raw.Ident,
			Cwd:     raw.Cwd,
			Env:     raw.Env,
			Jobs:    jobs,
			Repeats: raw.Repeats,
			Deps:    deps,
		}
		if err := arr.Validate(); err != nil {
			return nil, err
		}
		return arr, nil
	default:
		return nil, fmt.Errorf("unknown spec node tag %q", n.Tag)
	}
}

func decodeJobs(nodes []yaml.Node) ([]specdom.Node, error) {
	out := make([]specdom.Node, 0, len(nodes))
	for i := range nodes {
		child, err := decodeNode(&nodes[i])
		if err != nil {
			return nil, err
		}
		out = append(out, child)
	}
	return out, nil
}

func decodeResources(nodes []yaml.Node) ([]specdom.Resource, error) {
	out := make([]specdom.Resource, 0, len(nodes))
	for i := range nodes {
		r, err := decodeResource(&nodes[i])
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// decodeResource handles both sequence form (!Cores [n]) and mapping form
// (!Cores {count: n}) per §6.
func decodeResource(n *yaml.Node) (specdom.Resource, error) {
	switch n.Tag {
	case tagCores:
		if n.Kind == yaml.SequenceNode {
			var seq [1]int
			if err := n.Decode(&seq); err != nil {
				return nil, fmt.Errorf("decode !Cores sequence: %w", err)
			}
			return specdom.Cores{Count: seq[0]}, nil
		}
		var m struct {
			Count int `yaml:"count"`
		}
		if err := n.Decode(&m); err != nil {
			return nil, fmt.Errorf("decode !Cores mapping: %w", err)
		}
		return specdom.Cores{Count: m.Count}, nil
	case tagMemory:
		if n.Kind == yaml.SequenceNode {
			var raw [2]string
			if err := n.Decode(&raw); err != nil {
				return nil, fmt.Errorf("decode !Memory sequence: %w", err)
			}
			var size int64
			if _, err := fmt.Sscanf(raw[0], "%d", &size); err != nil {
				return nil, fmt.Errorf("decode !Memory size: %w", err)
			}
			return specdom.Memory{Size: size, Unit: specdom.Unit(raw[1])}, nil
		}
		var m struct {
			Size int64        `yaml:"size"`
			Unit specdom.Unit `yaml:"unit"`
		}
		if err := n.Decode(&m); err != nil {
			return nil, fmt.Errorf("decode !Memory mapping: %w", err)
		}
		return specdom.Memory{Size: m.Size, Unit: m.Unit}, nil
	case tagLicense:
		if n.Kind == yaml.SequenceNode {
			var m struct {
				Name  string
				Count int
			}
			var raw []yaml.Node
			if err := n.Decode(&raw); err != nil {
				return nil, fmt.Errorf("decode !License sequence: %w", err)
			}
			if len(raw) == 0 {
				return nil, fmt.Errorf("!License sequence requires a name")
			}
			if err := raw[0].Decode(&m.Name); err != nil {
				return nil, err
			}
			if len(raw) > 1 {
				if err := raw[1].Decode(&m.Count); err != nil {
					return nil, err
				}
			}
			return specdom.License{Name: m.Name, Count: m.Count}, nil
		}
		var m struct {
			Name  string `yaml:"name"`
			Count int    `yaml:"count"`
		}
		if err := n.Decode(&m); err != nil {
			return nil, fmt.Errorf("decode !License mapping: %w", err)
		}
		return specdom.License{Name: m.Name, Count: m.Count}, nil
	default:
		return nil, fmt.Errorf("unknown resource tag %q", n.Tag)
	}
}
