package runner

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/yifei-he/WebSTAR/internal/agent"
)

// LoadTasks reads one JSON task per line. Blank lines are skipped.
func LoadTasks(path string) ([]agent.Task, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open task file: %w", err)
	}
	defer f.Close()

	var tasks []agent.Task
	seen := make(map[string]bool)
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		var t agent.Task
		if err := json.Unmarshal([]byte(text), &t); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if t.ID == "" || t.Web == "" || t.Question == "" {
			return nil, fmt.Errorf("line %d: task needs id, web and ques", line)
		}
		if seen[t.ID] {
			return nil, fmt.Errorf("line %d: duplicate task id %q", line, t.ID)
		}
		seen[t.ID] = true
		tasks = append(tasks, t)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read task file: %w", err)
	}
	return tasks, nil
}
