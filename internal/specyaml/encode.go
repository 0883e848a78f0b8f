package specyaml

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/bc-dunia/gatortree/internal/specdom"
)

// Marshal re-serializes a spec tree using the same tag set Decode accepts,
// satisfying the round-trip testable property in §8.
func Marshal(n specdom.Node) ([]byte, error) {
	node, err := encodeNode(n)
	if err != nil {
		return nil, err
	}
	return yaml.Marshal(node)
}

func encodeNode(n specdom.Node) (*yaml.Node, error) {
	switch v := n.(type) {
	case *specdom.Job:
		resources, err := encodeResources(v.Resources)
		if err != nil {
			return nil, err
		}
		m := map[string]interface{}{
			"ident":   v.Ident,
			"command": v.Command,
		}
		if len(v.Args) > 0 {
			m["args"] = v.Args
		}
		if v.Cwd != "" {
			m["cwd"] = v.Cwd
		}
		if len(v.Env) > 0 {
			m["env"] = v.Env
		}
		addDeps(m, v.Deps)
		node := &yaml.Node{}
		if err := node.Encode(m); err != nil {
			return nil, err
		}
		node.Tag = tagJob
		if len(resources) > 0 {
			node.Content = append(node.Content, mustScalarKey("resources"), resources)
		}
		return node, nil
	case *specdom.JobGroup:
		jobs, err := encodeJobs(v.Jobs)
		if err != nil {
			return nil, err
		}
		m := map[string]interface{}{"ident": v.Ident}
		if v.Cwd != "" {
			m["cwd"] = v.Cwd
		}
		if len(v.Env) > 0 {
			m["env"] = v.Env
		}
		addDeps(m, v.Deps)
		node := &yaml.Node{}
		if err := node.Encode(m); err != nil {
			return nil, err
		}
		node.Tag = tagJobGroup
		node.Content = append(node.Content, mustScalarKey("jobs"), jobs)
		return node, nil
	case *specdom.JobArray:
		jobs, err := encodeJobs(v.Jobs)
		if err != nil {
			return nil, err
		}
		m := map[string]interface{}{"ident": v.Ident, "repeats": v.Repeats}
		if v.Cwd != "" {
			m["cwd"] = v.Cwd
		}
		if len(v.Env) > 0 {
			m["env"] = v.Env
		}
		addDeps(m, v.Deps)
		node := &yaml.Node{}
		if err := node.Encode(m); err != nil {
			return nil, err
		}
		node.Tag = tagJobArray
		node.Content = append(node.Content, mustScalarKey("jobs"), jobs)
		return node, nil
	default:
		return nil, fmt.Errorf("unknown node variant %T", n)
	}
}

func addDeps(m map[string]interface{}, deps specdom.Deps) {
	if len(deps.OnDone) > 0 {
		m["on_done"] = deps.OnDone
	}
	if len(deps.OnPass) > 0 {
		m["on_pass"] = deps.OnPass
	}
	if len(deps.OnFail) > 0 {
		m["on_fail"] = deps.OnFail
	}
}

func encodeJobs(jobs []specdom.Node) (*yaml.Node, error) {
	seq := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
	for _, j := range jobs {
		child, err := encodeNode(j)
		if err != nil {
			return nil, err
		}
		seq.Content = append(seq.Content, child)
	}
	return seq, nil
}

func encodeResources(resources []specdom.Resource) (*yaml.Node, error) {
	if len(resources) == 0 {
		return nil, nil
	}
	seq := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
	for _, r := range resources {
		node := &yaml.Node{}
		switch v := r.(type) {
		case specdom.Cores:
			if err := node.Encode(map[string]int{"count": v.Count}); err != nil {
				return nil, err
			}
			node.Tag = tagCores
		case specdom.Memory:
			if err := node.Encode(map[string]interface{}{"size": v.Size, "unit": string(v.Unit)}); err != nil {
				return nil, err
			}
			node.Tag = tagMemory
		case specdom.License:
			if err := node.Encode(map[string]interface{}{"name": v.Name, "count": v.Count}); err != nil {
				return nil, err
			}
			node.Tag = tagLicense
		default:
			return nil, fmt.Errorf("unknown resource variant %T", r)
		}
		seq.Content = append(seq.Content, node)
	}
	return seq, nil
}

func mustScalarKey(s string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: s}
}
