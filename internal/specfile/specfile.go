// Package specfile reads and writes the on-disk spec format: a YAML front
// matter block between "---" lines followed by a free-text markdown body.
package specfile

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"specline/internal/domain"
)

var (
	ErrMissingFrontMatter      = errors.New("missing front matter")
	ErrUnterminatedFrontMatter = errors.New("unterminated front matter")
)

const delimiter = "---"

// Split separates the front matter from the body. ok is false when content
// does not open with a delimiter line; err reports a missing closing line.
func Split(content string) (frontMatter, body string, ok bool, err error) {
	first, rest, found := cutLine(content)
	if !found && first == "" {
		return "", content, false, nil
	}
	if strings.TrimRight(first, " \t\r") != delimiter {
		return "", content, false, nil
	}
	var fm strings.Builder
	for {
		line, remaining, more := cutLine(rest)
		if strings.TrimRight(line, " \t\r") == delimiter {
			return fm.String(), remaining, true, nil
		}
		if !more {
			return "", content, true, ErrUnterminatedFrontMatter
		}
		fm.WriteString(line)
		fm.WriteByte('\n')
		rest = remaining
	}
}

func cutLine(s string) (line, rest string, found bool) {
	i := strings.IndexByte(s, '\n')
	if i < 0 {
		return s, "", false
	}
	return s[:i], s[i+1:], true
}

// Parse decodes a spec file strictly: malformed YAML, an unknown status or a
// missing front matter block is an error.
func Parse(id, content string) (*domain.Spec, error) {
	fm, body, ok, err := Split(content)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", id, err)
	}
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, ErrMissingFrontMatter)
	}
	spec := &domain.Spec{ID: id, Body: body}
	if err := decode(spec, fm, true); err != nil {
		return nil, fmt.Errorf("%s: %w", id, err)
	}
	if spec.Status == "" {
		spec.Status = domain.StatusPending
	}
	return spec, nil
}

// ParseLenient never fails. Fields that cannot be decoded keep their zero
// value and content without usable front matter becomes the body.
func ParseLenient(id, content string) *domain.Spec {
	spec := &domain.Spec{ID: id}
	fm, body, ok, err := Split(content)
	if err != nil || !ok {
		spec.Body = content
		spec.Status = domain.StatusPending
		return spec
	}
	spec.Body = body
	_ = decode(spec, fm, false)
	if spec.Status == "" {
		spec.Status = domain.StatusPending
	}
	return spec
}

func decode(spec *domain.Spec, fm string, strict bool) error {
	if strings.TrimSpace(fm) == "" {
		return nil
	}
	var doc yaml.Node
	if err := yaml.Unmarshal([]byte(fm), &doc); err != nil {
		return fmt.Errorf("front matter: %w", err)
	}
	if len(doc.Content) == 0 {
		return nil
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return fmt.Errorf("front matter: expected mapping, got %s", kindName(root.Kind))
	}
	var errs []error
	for i := 0; i+1 < len(root.Content); i += 2 {
		key, val := root.Content[i], root.Content[i+1]
		if err := assign(spec, key.Value, val); err != nil {
			if strict {
				errs = append(errs, fmt.Errorf("%s: %w", key.Value, err))
			}
		}
	}
	return errors.Join(errs...)
}

func assign(spec *domain.Spec, key string, val *yaml.Node) error {
	var err error
	switch key {
	case "type":
		spec.Type, err = scalar(val)
	case "status":
		var raw string
		raw, err = scalar(val)
		if err == nil && raw != "" {
			st, ok := domain.ParseStatus(raw)
			if !ok {
				return fmt.Errorf("unknown status %q", raw)
			}
			spec.Status = st
		}
	case "depends_on":
		spec.DependsOn, err = list(val)
	case "target_files":
		spec.TargetFiles, err = list(val)
	case "labels":
		spec.Labels, err = list(val)
	case "context":
		spec.Context, err = list(val)
	case "commits":
		spec.Commits, err = list(val)
	case "branch":
		spec.Branch, err = scalar(val)
	case "completed_at":
		spec.CompletedAt, err = scalar(val)
	case "model":
		spec.Model, err = scalar(val)
	case "last_verified":
		spec.LastVerified, err = scalar(val)
	case "verification_status":
		spec.VerificationStatus, err = scalar(val)
	case "verification_failures":
		spec.VerificationFailures, err = list(val)
	case "replayed_at":
		spec.ReplayedAt, err = scalar(val)
	case "replay_count":
		var raw string
		raw, err = scalar(val)
		if err == nil && raw != "" {
			spec.ReplayCount, err = strconv.Atoi(raw)
		}
	case "original_completed_at":
		spec.OriginalCompletedAt, err = scalar(val)
	default:
		spec.Extra = append(spec.Extra, domain.ExtraField{Key: key, Value: *val})
	}
	return err
}

func scalar(n *yaml.Node) (string, error) {
	switch n.Kind {
	case yaml.ScalarNode:
		if n.Tag == "!!null" {
			return "", nil
		}
		return n.Value, nil
	case yaml.AliasNode:
		if n.Alias != nil {
			return scalar(n.Alias)
		}
	}
	return "", fmt.Errorf("expected scalar, got %s", kindName(n.Kind))
}

// list accepts a sequence of scalars or a lone scalar.
func list(n *yaml.Node) ([]string, error) {
	switch n.Kind {
	case yaml.SequenceNode:
		out := make([]string, 0, len(n.Content))
		for _, item := range n.Content {
			v, err := scalar(item)
			if err != nil {
				return nil, err
			}
			if v != "" {
				out = append(out, v)
			}
		}
		return out, nil
	case yaml.ScalarNode:
		v, err := scalar(n)
		if err != nil || v == "" {
			return nil, err
		}
		return []string{v}, nil
	}
	return nil, fmt.Errorf("expected list, got %s", kindName(n.Kind))
}

func kindName(k yaml.Kind) string {
	switch k {
	case yaml.DocumentNode:
		return "document"
	case yaml.SequenceNode:
		return "sequence"
	case yaml.MappingNode:
		return "mapping"
	case yaml.ScalarNode:
		return "scalar"
	case yaml.AliasNode:
		return "alias"
	}
	return "unknown"
}

// Marshal renders spec with known keys in a fixed order followed by extras in
// their original order. Empty fields are omitted.
func Marshal(spec *domain.Spec) ([]byte, error) {
	root := &yaml.Node{Kind: yaml.MappingNode}
	addScalar(root, "type", spec.Type)
	addScalar(root, "status", string(spec.Status))
	addList(root, "depends_on", spec.DependsOn)
	addList(root, "target_files", spec.TargetFiles)
	addList(root, "labels", spec.Labels)
	addList(root, "context", spec.Context)
	addList(root, "commits", spec.Commits)
	addScalar(root, "branch", spec.Branch)
	addScalar(root, "completed_at", spec.CompletedAt)
	addScalar(root, "model", spec.Model)
	addScalar(root, "last_verified", spec.LastVerified)
	addScalar(root, "verification_status", spec.VerificationStatus)
	addList(root, "verification_failures", spec.VerificationFailures)
	addScalar(root, "replayed_at", spec.ReplayedAt)
	if spec.ReplayCount != 0 {
		root.Content = append(root.Content, keyNode("replay_count"),
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!int", Value: strconv.Itoa(spec.ReplayCount)})
	}
	addScalar(root, "original_completed_at", spec.OriginalCompletedAt)
	for _, extra := range spec.Extra {
		val := extra.Value
		root.Content = append(root.Content, keyNode(extra.Key), &val)
	}

	var buf bytes.Buffer
	buf.WriteString(delimiter + "\n")
	if len(root.Content) > 0 {
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(root); err != nil {
			return nil, fmt.Errorf("%s: encode front matter: %w", spec.ID, err)
		}
		if err := enc.Close(); err != nil {
			return nil, fmt.Errorf("%s: encode front matter: %w", spec.ID, err)
		}
	}
	buf.WriteString(delimiter + "\n")
	buf.WriteString(spec.Body)
	return buf.Bytes(), nil
}

func keyNode(key string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key}
}

func addScalar(root *yaml.Node, key, value string) {
	if value == "" {
		return
	}
	root.Content = append(root.Content, keyNode(key), &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: value})
}

func addList(root *yaml.Node, key string, values []string) {
	if len(values) == 0 {
		return
	}
	seq := &yaml.Node{Kind: yaml.SequenceNode}
	for _, v := range values {
		seq.Content = append(seq.Content, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: v})
	}
	root.Content = append(root.Content, keyNode(key), seq)
}
