package decision

import (
	"fmt"
	"strings"

	"github.com/entrhq/operator/pkg/types"
)

// systemPrompt frames every decision call.
const systemPrompt = `You operate a web browser on behalf of a user to accomplish their goal.
Each turn you choose exactly one next step. You see the goal, every step taken so far,
the latest data extracted or observed on the page and, when available, a screenshot.

Rules:
- Choose one tool per step. Do not repeat a failed approach more than twice.
- Prefer EXTRACT once the information the goal asks for is visible.
- Use USER_INPUT only when a human must act in the browser: CAPTCHAs, logins, payment confirmation.
- Use CLOSE when the goal is accomplished or cannot be accomplished. Put the final answer in <text>.`

// startPrompt asks for the first URL to open.
const startPrompt = `Choose the best web page to start working on the user's goal.
Pick a specific site when the goal names or clearly implies one, otherwise a search engine results page.
Reply with a single block:
<start>
<url>absolute https URL</url>
<reasoning>one sentence</reasoning>
</start>`

var toolDescriptions = map[types.Tool]string{
	types.ToolGoto:      "navigate to the URL given in instruction",
	types.ToolAct:       "perform one interaction on the page described in instruction, e.g. click the Sign in button",
	types.ToolExtract:   "extract the data described in instruction from the current page",
	types.ToolObserve:   "list the actionable elements relevant to instruction",
	types.ToolWait:      "wait for the number of milliseconds given in instruction",
	types.ToolNavBack:   "go back to the previous page",
	types.ToolClose:     "finish the task; put the answer or outcome in text",
	types.ToolUserInput: "pause until a human has handled something in the browser; instruction says what they must do",
}

// toolSection lists the tools and the reply format.
func toolSection() string {
	var b strings.Builder
	b.WriteString("Available tools:\n")
	for _, t := range types.DecisionTools() {
		fmt.Fprintf(&b, "- %s: %s\n", t, toolDescriptions[t])
	}
	b.WriteString(`
Reply with a single block:
<step>
<text>short description of the step, shown to the user</text>
<reasoning>why this step moves toward the goal</reasoning>
<tool>one of the tool names above</tool>
<instruction><![CDATA[instruction for the tool]]></instruction>
</step>`)
	return b.String()
}

// decisionPrompt renders the per-turn user message.
func decisionPrompt(goal string, history types.History, latest string, latestTruncated, withScreenshot bool) string {
	var b strings.Builder

	b.WriteString("<goal>\n")
	b.WriteString(goal)
	b.WriteString("\n</goal>\n\n")

	b.WriteString("<history>\n")
	if len(history) == 0 {
		b.WriteString("(no steps yet)\n")
	}
	for _, s := range history {
		fmt.Fprintf(&b, "%d. [%s] %s", s.StepNumber, s.Tool, s.Text)
		if s.Instruction != "" {
			fmt.Fprintf(&b, " | instruction: %s", s.Instruction)
		}
		if s.Reasoning != "" {
			fmt.Fprintf(&b, " | reasoning: %s", s.Reasoning)
		}
		b.WriteString("\n")
	}
	b.WriteString("</history>\n")

	if latest != "" {
		b.WriteString("\n<latest_result>\n")
		b.WriteString(latest)
		if latestTruncated {
			b.WriteString("\n(truncated)")
		}
		b.WriteString("\n</latest_result>\n")
	}

	if withScreenshot {
		b.WriteString("\nA screenshot of the current page is attached.\n")
	}

	b.WriteString("\n")
	b.WriteString(toolSection())
	return b.String()
}
