package ai

import (
	"fmt"
	"strings"

	"github.com/yifei-he/WebSTAR/internal/coords"
)

// Corrective observations sent when a step could not be carried out.
const (
	RevisePrompt      = "The action cannot be executed. Please revise."
	FormatErrorPrompt = "Format ERROR: your reply must contain one `Action:` line in the required format."
)

const outputFormat = `## Output Format
` + "```" + `
Thought: ...
Action: ...
` + "```" + `
`

const dslActions = `## Action Space

Look at the screenshot, decide what has to be done next and pick one of these actions:
1. Click a point on the page.
2. Double click a point on the page.
3. Right click a point on the page.
4. Drag from one point to another.
5. Press a hotkey such as 'ctrl c'. Keys are lowercase and separated by spaces, no more than 3 keys.
6. Type into a textbox. ENTER is pressed automatically after typing.
7. Scroll up, down, left or right. Leave out 'point' to scroll the whole window; give a point to scroll the widget under it.
8. Wait about 5 seconds for the page to finish loading.
9. Finish, once every part of the task is solved.

The Action line must follow exactly one of these forms, with coordinates inside <point></point>:
click(point='<point>x1 y1</point>')
left_double(point='<point>x1 y1</point>')
right_single(point='<point>x1 y1</point>')
drag(start_point='<point>x1 y1</point>', end_point='<point>x2 y2</point>')
hotkey(key='ctrl c')
type(content='xxx')
scroll(point='<point>x1 y1</point>', direction='down or up or right or left')
wait()
finished(content='xxx')

Inside content, escape \', \" and \n with a backslash.
`

const recordActions = `## Action Space

The Action line is one JSON object with a "type" field:
{"type": "click", "x": 100, "y": 200, "button": "left"}      button is left, right, double or middle
{"type": "double_click", "x": 100, "y": 200}
{"type": "drag", "path": [{"x": 10, "y": 20}, {"x": 300, "y": 400}]}
{"type": "keypress", "keys": ["ctrl", "c"]}
{"type": "type", "text": "xxx"}                               ENTER is pressed automatically after typing
{"type": "scroll", "x": 512, "y": 384, "scroll_x": 0, "scroll_y": 300}
{"type": "wait"}
{"type": "finished", "content": "xxx"}

Send exactly one object per reply.
`

const legacyActions = `## Action Space

The Action line is one pyautogui call. Coordinates are fractions of the page between 0 and 1:
pyautogui.click(x=0.41, y=0.27)
pyautogui.doubleClick(x=0.41, y=0.27)
pyautogui.rightClick(x=0.41, y=0.27)
pyautogui.write(message='xxx')       ENTER is pressed automatically after typing
pyautogui.hotkey('ctrl', 'c')
pyautogui.scroll(0.5)                positive scrolls down, negative scrolls up
browser.select_option(x=0.41, y=0.27, value='xxx')

When the task is solved, answer with Action: finished(content='xxx').
`

const guidelines = `## Guidelines
1) To enter text, click the textbox in one step, then type in the next.
2) Do not type into buttons. If no textbox is visible, a search button may reveal one.
3) One action per reply.
4) Do not repeat an action when the page did not change; the target was probably wrong. Do not wait twice in a row.
5) Use finished only at the very end, after all parts of the task are answered, and follow any answer format the task asks for.
6) Ignore login, sign-up and donation prompts. Use filters and sorting to find the highest, cheapest or earliest results, and check that dates match the task.
`

// SystemPrompt returns the instructions for the given dialect, describing
// coordinates in scale for a page of size vp.
func SystemPrompt(dialect string, vp coords.Viewport, scale coords.Scale) (string, error) {
	var actions string
	switch dialect {
	case "dsl":
		actions = dslActions
	case "record":
		actions = recordActions
	case "legacy":
		actions = legacyActions
		scale = coords.Fraction
	default:
		return "", fmt.Errorf("no prompt for dialect: %s", dialect)
	}

	var b strings.Builder
	b.WriteString("You are a GUI agent operating a web browser. You are given a task, your action history and screenshots of the page. Perform the next action that moves the task forward.\n")
	b.WriteString(coordinateNote(vp, scale))
	b.WriteString("\n\n")
	b.WriteString(outputFormat)
	b.WriteString("\n")
	b.WriteString(actions)
	b.WriteString("\n")
	b.WriteString(guidelines)
	return b.String(), nil
}

func coordinateNote(vp coords.Viewport, scale coords.Scale) string {
	switch scale {
	case coords.Fraction:
		return fmt.Sprintf("Screenshots are %dx%d pixels. Give coordinates as fractions between 0 and 1, where (0, 0) is the top-left corner and (1, 1) the bottom-right corner.", vp.Width, vp.Height)
	case coords.Permille:
		return fmt.Sprintf("Screenshots are %dx%d pixels. Give coordinates between 0 and 1000 on each axis, where (0, 0) is the top-left corner and (1000, 1000) the bottom-right corner.", vp.Width, vp.Height)
	default:
		return fmt.Sprintf("Screenshots are %dx%d pixels, where (0, 0) is the top-left corner and (%d, %d) the bottom-right corner.", vp.Width, vp.Height, vp.Width-1, vp.Height-1)
	}
}

// TaskInstruction is the opening user message for a task on site web.
func TaskInstruction(question, web string) string {
	return fmt.Sprintf("Now given a task: %s  Please interact with %s and get the answer. \n", question, web)
}

// ObservationText introduces a screenshot. warning is prepended when the
// previous step needs correcting; pageText, when present, is the page's
// text description.
func ObservationText(warning, pageText string) string {
	if warning != "" {
		warning = " " + warning
	}
	if pageText == "" {
		return fmt.Sprintf("Observation:%s please analyze the attached screenshot and give the Thought and Action. ", warning)
	}
	return fmt.Sprintf("Observation:%s please analyze the attached screenshot and the page description below and give the Thought and Action.\n%s", warning, pageText)
}
