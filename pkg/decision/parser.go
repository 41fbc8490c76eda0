package decision

import (
	"encoding/xml"
	"fmt"
	"regexp"
	"strings"

	"github.com/entrhq/operator/pkg/types"
)

const maxReplySize = 1024 * 1024

var (
	stepRegex  = regexp.MustCompile(`(?s)<step>.*?</step>`)
	startRegex = regexp.MustCompile(`(?s)<start>.*?</start>`)

	// ampersandEntityRegex matches ampersands that already begin an XML entity.
	ampersandEntityRegex = regexp.MustCompile(`&(?:amp|lt|gt|quot|apos|#\d+|#x[0-9a-fA-F]+);`)
)

// xmlStep is the wire form of a decision:
//
//	<step>
//	<text>Search for the ticker</text>
//	<reasoning>The start page is a search engine.</reasoning>
//	<tool>ACT</tool>
//	<instruction><![CDATA[type "X stock price" into the search box and press Enter]]></instruction>
//	</step>
type xmlStep struct {
	XMLName     xml.Name `xml:"step"`
	Text        string   `xml:"text"`
	Reasoning   string   `xml:"reasoning"`
	Tool        string   `xml:"tool"`
	Instruction string   `xml:"instruction"`
}

type xmlStart struct {
	XMLName   xml.Name `xml:"start"`
	URL       string   `xml:"url"`
	Reasoning string   `xml:"reasoning"`
}

// ParseStep extracts the single <step> block from an oracle reply. Any reply
// that does not yield a recognized tool with its required instruction is a
// malformed_decision.
func ParseStep(reply string) (*types.Step, error) {
	block, err := findBlock(stepRegex, reply, "step")
	if err != nil {
		return nil, malformed(err)
	}

	var raw xmlStep
	if err := unmarshalXMLWithFallback([]byte(block), &raw); err != nil {
		return nil, malformed(fmt.Errorf("failed to unmarshal step XML: %w\nXML snippet: %s", err, snippet(block)))
	}

	tool, err := types.ParseTool(raw.Tool)
	if err != nil {
		return nil, malformed(err)
	}

	step := &types.Step{
		Text:        strings.TrimSpace(raw.Text),
		Reasoning:   strings.TrimSpace(raw.Reasoning),
		Tool:        tool,
		Instruction: strings.TrimSpace(raw.Instruction),
	}
	if err := step.Validate(); err != nil {
		return nil, malformed(err)
	}
	return step, nil
}

// parseStart extracts the <start> block. ok is false when the reply has no
// usable block.
func parseStart(reply string) (xmlStart, bool) {
	block, err := findBlock(startRegex, reply, "start")
	if err != nil {
		return xmlStart{}, false
	}
	var raw xmlStart
	if err := unmarshalXMLWithFallback([]byte(block), &raw); err != nil {
		return xmlStart{}, false
	}
	raw.URL = strings.TrimSpace(raw.URL)
	raw.Reasoning = strings.TrimSpace(raw.Reasoning)
	return raw, true
}

func findBlock(re *regexp.Regexp, reply, tag string) (string, error) {
	if len(reply) > maxReplySize {
		return "", fmt.Errorf("reply exceeds maximum size of %d bytes", maxReplySize)
	}
	block := re.FindString(reply)
	if block == "" {
		return "", fmt.Errorf("no <%s> block found in reply", tag)
	}
	return strings.TrimSpace(block), nil
}

func malformed(err error) error {
	return &types.RunError{Kind: types.KindMalformedDecision, Detail: err.Error(), Err: err}
}

func snippet(s string) string {
	if len(s) > 200 {
		return s[:200] + "..."
	}
	return s
}

// unmarshalXMLWithFallback retries with bare ampersands escaped, which models
// often emit inside URLs.
func unmarshalXMLWithFallback(data []byte, v interface{}) error {
	err := xml.Unmarshal(data, v)
	if err == nil {
		return nil
	}
	return xml.Unmarshal(escapeUnescapedAmpersands(data), v)
}

func escapeUnescapedAmpersands(data []byte) []byte {
	text := string(data)

	// Protect existing entities, escape the rest, then restore.
	const placeholder = "\x00ENTITY\x00"
	var entities []string
	text = ampersandEntityRegex.ReplaceAllStringFunc(text, func(m string) string {
		entities = append(entities, m)
		return placeholder
	})
	text = strings.ReplaceAll(text, "&", "&amp;")
	for _, e := range entities {
		text = strings.Replace(text, placeholder, e, 1)
	}
	return []byte(text)
}
