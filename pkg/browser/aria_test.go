package browser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleSnapshot = `- banner:
  - link "Home":
    - /url: /
- main:
  - heading "Welcome" [level=1]
  - textbox "Search"
  - button "Go" [disabled]
  - button "Submit"
  - list:
    - listitem: Plain text
  - checkbox "Remember me" [checked]
`

func TestParseAriaSnapshot(t *testing.T) {
	elements, err := parseAriaSnapshot(sampleSnapshot)
	require.NoError(t, err)
	require.Len(t, elements, 10)

	assert.Equal(t, "banner", elements[0].Role)
	assert.Equal(t, 0, elements[0].Depth)

	link := elements[1]
	assert.Equal(t, "link", link.Role)
	assert.Equal(t, "Home", link.Name)
	assert.Equal(t, 1, link.Depth)
	assert.Equal(t, "/", link.Attributes["url"])

	heading := elements[3]
	assert.Equal(t, "heading", heading.Role)
	assert.Equal(t, "Welcome", heading.Name)
	assert.Equal(t, "1", heading.Attributes["level"])

	assert.Equal(t, "true", elements[5].Attributes["disabled"])

	item := elements[8]
	assert.Equal(t, "listitem", item.Role)
	assert.Equal(t, "Plain text", item.Name)
	assert.Equal(t, 2, item.Depth)

	assert.Equal(t, "true", elements[9].Attributes["checked"])
}

func TestParseAriaSnapshot_Empty(t *testing.T) {
	elements, err := parseAriaSnapshot("   ")
	require.NoError(t, err)
	assert.Empty(t, elements)
}

func TestParseAriaSnapshot_NotAList(t *testing.T) {
	_, err := parseAriaSnapshot("button: Submit")
	assert.Error(t, err)
}

func TestParseAriaNode(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantRole string
		wantName string
		wantAttr map[string]string
	}{
		{name: "role only", input: "navigation", wantRole: "navigation"},
		{name: "role and name", input: `button "Sign in"`, wantRole: "button", wantName: "Sign in"},
		{name: "escaped quotes", input: `button "Say \"hi\""`, wantRole: "button", wantName: `Say "hi"`},
		{
			name:     "attributes",
			input:    `checkbox "Terms" [checked] [level=2]`,
			wantRole: "checkbox",
			wantName: "Terms",
			wantAttr: map[string]string{"checked": "true", "level": "2"},
		},
		{name: "regex name", input: `link /Item \d+/`, wantRole: "link"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			el, ok := parseAriaNode(tt.input, 3)
			require.True(t, ok)
			assert.Equal(t, tt.wantRole, el.Role)
			assert.Equal(t, tt.wantName, el.Name)
			assert.Equal(t, 3, el.Depth)
			for k, v := range tt.wantAttr {
				assert.Equal(t, v, el.Attributes[k], "attribute %s", k)
			}
		})
	}

	_, ok := parseAriaNode("  ", 0)
	assert.False(t, ok)
}

func TestActionable(t *testing.T) {
	elements, err := parseAriaSnapshot(sampleSnapshot)
	require.NoError(t, err)

	got := actionable(elements)
	require.Len(t, got, 4)

	assert.Equal(t, Element{Index: 1, Role: "link", Name: "Home", Depth: 1, Attributes: map[string]string{"url": "/"}}, got[0])
	assert.Equal(t, "Search", got[1].Name)
	assert.Equal(t, 2, got[1].Index)
	assert.Equal(t, "Submit", got[2].Name)
	assert.Equal(t, "Remember me", got[3].Name)
	assert.Equal(t, 4, got[3].Index)
}

func TestFormatElements(t *testing.T) {
	out := formatElements([]Element{
		{Index: 1, Role: "link", Name: "Home", Attributes: map[string]string{"url": "/", "b": "x"}},
		{Index: 2, Role: "textbox"},
	})
	assert.Equal(t, "[1] link \"Home\" b=x url=/\n[2] textbox\n", out)
}

func TestFormatElementsJSON(t *testing.T) {
	out, err := FormatElements(nil)
	require.NoError(t, err)
	assert.Equal(t, "[]", out)

	out, err = FormatElements([]Element{{Index: 1, Role: "button", Name: "Go"}})
	require.NoError(t, err)
	assert.Contains(t, out, `"role": "button"`)
	assert.Contains(t, out, `"name": "Go"`)
}
