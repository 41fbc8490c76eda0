package browser

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// actionableRoles are the accessibility roles Observe reports.
var actionableRoles = map[string]bool{
	"button":           true,
	"checkbox":         true,
	"combobox":         true,
	"link":             true,
	"listbox":          true,
	"menuitem":         true,
	"menuitemcheckbox": true,
	"menuitemradio":    true,
	"option":           true,
	"radio":            true,
	"searchbox":        true,
	"slider":           true,
	"spinbutton":       true,
	"switch":           true,
	"tab":              true,
	"textbox":          true,
	"treeitem":         true,
}

var (
	ariaNodePattern = regexp.MustCompile(`^([a-zA-Z]+)(?:\s+"((?:[^"\\]|\\.)*)")?\s*((?:\[[^\]]*\]\s*)*)$`)
	ariaAttrPattern = regexp.MustCompile(`\[([^\]=]+)(?:=([^\]]*))?\]`)
)

// parseAriaSnapshot turns a Playwright aria snapshot (a YAML list such as
// `- button "Submit" [disabled]`) into a flat, depth-annotated element list.
func parseAriaSnapshot(snapshot string) ([]Element, error) {
	if strings.TrimSpace(snapshot) == "" {
		return nil, nil
	}

	var doc yaml.Node
	if err := yaml.Unmarshal([]byte(snapshot), &doc); err != nil {
		return nil, fmt.Errorf("failed to parse accessibility snapshot: %w", err)
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return nil, nil
	}

	root := doc.Content[0]
	if root.Kind != yaml.SequenceNode {
		return nil, fmt.Errorf("accessibility snapshot must be a list, got %s", kindName(root.Kind))
	}

	var elements []Element
	walkAriaSequence(root, 0, &elements)
	return elements, nil
}

func walkAriaSequence(seq *yaml.Node, depth int, out *[]Element) {
	for _, item := range seq.Content {
		switch item.Kind {
		case yaml.ScalarNode:
			if el, ok := parseAriaNode(item.Value, depth); ok {
				*out = append(*out, el)
			}
		case yaml.MappingNode:
			walkAriaMapping(item, depth, out)
		}
	}
}

func walkAriaMapping(m *yaml.Node, depth int, out *[]Element) {
	for i := 0; i+1 < len(m.Content); i += 2 {
		key, value := m.Content[i], m.Content[i+1]

		// Properties such as "/url" attach to the element that owns them.
		if strings.HasPrefix(key.Value, "/") {
			if n := len(*out); n > 0 && value.Kind == yaml.ScalarNode {
				setAttr(&(*out)[n-1], strings.TrimPrefix(key.Value, "/"), value.Value)
			}
			continue
		}

		el, ok := parseAriaNode(key.Value, depth)
		if !ok {
			continue
		}

		switch value.Kind {
		case yaml.ScalarNode:
			if el.Name == "" {
				el.Name = value.Value
			} else {
				setAttr(&el, "text", value.Value)
			}
			*out = append(*out, el)
		case yaml.SequenceNode:
			*out = append(*out, el)
			walkAriaChildren(value, depth+1, out)
		default:
			*out = append(*out, el)
		}
	}
}

// walkAriaChildren handles a child list, where property entries belong to
// the parent appended just before.
func walkAriaChildren(seq *yaml.Node, depth int, out *[]Element) {
	owner := len(*out) - 1
	for _, item := range seq.Content {
		if item.Kind == yaml.MappingNode && len(item.Content) == 2 && strings.HasPrefix(item.Content[0].Value, "/") {
			if item.Content[1].Kind == yaml.ScalarNode {
				setAttr(&(*out)[owner], strings.TrimPrefix(item.Content[0].Value, "/"), item.Content[1].Value)
			}
			continue
		}
		walkAriaSequence(&yaml.Node{Kind: yaml.SequenceNode, Content: []*yaml.Node{item}}, depth, out)
	}
}

// parseAriaNode parses `role "name" [attr] [attr=value]`.
func parseAriaNode(text string, depth int) (Element, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Element{}, false
	}

	el := Element{Depth: depth}
	match := ariaNodePattern.FindStringSubmatch(text)
	if match == nil {
		// Regex names (role /pattern/) and other forms keep only the role.
		el.Role = strings.Fields(text)[0]
		return el, true
	}

	el.Role = match[1]
	if match[2] != "" {
		if name, err := strconv.Unquote(`"` + match[2] + `"`); err == nil {
			el.Name = name
		} else {
			el.Name = match[2]
		}
	}
	for _, attr := range ariaAttrPattern.FindAllStringSubmatch(match[3], -1) {
		value := attr[2]
		if value == "" {
			value = "true"
		}
		setAttr(&el, strings.TrimSpace(attr[1]), value)
	}
	return el, true
}

func setAttr(el *Element, key, value string) {
	if el.Attributes == nil {
		el.Attributes = make(map[string]string)
	}
	el.Attributes[key] = value
}

// actionable keeps the interactive elements and numbers them from 1.
func actionable(elements []Element) []Element {
	var out []Element
	for _, el := range elements {
		if !actionableRoles[el.Role] {
			continue
		}
		if el.Attributes["disabled"] == "true" {
			continue
		}
		el.Index = len(out) + 1
		out = append(out, el)
	}
	return out
}

// formatElements renders elements one per line for prompts and results.
func formatElements(elements []Element) string {
	var b strings.Builder
	for _, el := range elements {
		fmt.Fprintf(&b, "[%d] %s", el.Index, el.Role)
		if el.Name != "" {
			fmt.Fprintf(&b, " %q", el.Name)
		}
		for _, key := range sortedKeys(el.Attributes) {
			fmt.Fprintf(&b, " %s=%s", key, el.Attributes[key])
		}
		b.WriteString("\n")
	}
	return b.String()
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func kindName(k yaml.Kind) string {
	switch k {
	case yaml.MappingNode:
		return "mapping"
	case yaml.ScalarNode:
		return "scalar"
	case yaml.AliasNode:
		return "alias"
	default:
		return "unknown"
	}
}
