package monitor

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rescale/simchain/internal/config"
)

// Action is what a trigger does when its keyword appears.
type Action string

const (
	ActionWarn Action = "warn"
	ActionKill Action = "kill"
)

// Trigger watches one log file for one keyword.
type Trigger struct {
	Keyword string
	File    string
	Action  Action
	// NextCheck is the elapsed time at which the trigger is next evaluated.
	NextCheck time.Duration
	Interval  time.Duration
	Message   string

	// matches is the match count seen at the last evaluation.
	matches int
}

func (t *Trigger) String() string {
	return fmt.Sprintf("%s %q in %s", t.Action, t.Keyword, t.File)
}

// due reports whether the trigger is scheduled at or before elapsed.
func (t *Trigger) due(elapsed time.Duration) bool {
	return t.NextCheck <= elapsed
}

// reschedule moves NextCheck past elapsed in whole intervals.
func (t *Trigger) reschedule(elapsed time.Duration) {
	if t.Interval <= 0 {
		return
	}
	if t.NextCheck <= elapsed {
		n := (elapsed-t.NextCheck)/t.Interval + 1
		t.NextCheck += n * t.Interval
	}
}

// countMatches returns the number of lines of the trigger file that
// contain the keyword. A file that does not exist yet has none.
func (t *Trigger) countMatches() (int, error) {
	f, err := os.Open(t.File)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	defer f.Close()

	r := bufio.NewReader(f)
	count := 0
	for {
		line, err := r.ReadString('\n')
		if strings.Contains(line, t.Keyword) {
			count++
		}
		if err == io.EOF {
			return count, nil
		}
		if err != nil {
			return count, err
		}
	}
}

// TriggersFromTree collects error_triggers from general and every model.
// Relative file names are resolved against workDir. first_check and
// interval are seconds of elapsed monitoring time.
func TriggersFromTree(tree *config.Tree, workDir string) ([]*Trigger, error) {
	owners := append([]string{"general"}, tree.Models()...)
	var out []*Trigger
	for _, owner := range owners {
		for i, sec := range tree.Section(owner).List("error_triggers") {
			key := fmt.Sprintf("%s.error_triggers[%d]", owner, i)
			t, err := parseTrigger(key, sec, workDir)
			if err != nil {
				return nil, err
			}
			out = append(out, t)
		}
	}
	return out, nil
}

func parseTrigger(key string, sec config.Section, workDir string) (*Trigger, error) {
	t := &Trigger{
		Keyword: sec.String("keyword", ""),
		File:    sec.String("file", ""),
		Action:  Action(sec.String("action", string(ActionWarn))),
		Message: sec.String("message", ""),
	}
	if t.Keyword == "" {
		return nil, config.NewConfigError(key+".keyword", "is required")
	}
	if t.File == "" {
		return nil, config.NewConfigError(key+".file", "is required")
	}
	if t.Action != ActionWarn && t.Action != ActionKill {
		return nil, config.NewConfigError(key+".action", "must be warn or kill, got %q", t.Action)
	}
	if !filepath.IsAbs(t.File) {
		t.File = filepath.Join(workDir, t.File)
	}

	first, err := sec.Int("first_check", 0)
	if err != nil || first < 0 {
		return nil, config.NewConfigError(key+".first_check", "must be a non-negative number of seconds")
	}
	interval, err := sec.Int("interval", 0)
	if err != nil || interval < 0 {
		return nil, config.NewConfigError(key+".interval", "must be a non-negative number of seconds")
	}
	t.NextCheck = time.Duration(first) * time.Second
	t.Interval = time.Duration(interval) * time.Second
	if t.Message == "" {
		t.Message = fmt.Sprintf("%q found in %s", t.Keyword, filepath.Base(t.File))
	}
	return t, nil
}
