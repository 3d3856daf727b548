// Package parser turns a pipeline configuration document (JSON or YAML) into
// a validated pipeline.Pipeline, collecting warnings and errors along the
// way instead of failing at the first problem.
package parser

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-yaml"

	"github.com/arjunmehta/pipeworks/internal/dag"
	"github.com/arjunmehta/pipeworks/pkg/pipeline"
)

// Result is what Parse returns: the normalized pipeline (nil if a fatal
// shape error prevented normalization), plus warnings and errors collected
// while walking the ordered rule list.
type Result struct {
	Pipeline *pipeline.Pipeline
	Warnings []string
	Errors   []string
}

// Parser decodes and validates pipeline configuration documents.
type Parser struct {
	structural *dag.Validator
}

// New creates a Parser.
func New() *Parser {
	return &Parser{structural: dag.NewValidator()}
}

// Parse decodes source (JSON if it starts with '{' after trimming
// whitespace, YAML otherwise) and validates it against the ordered rule
// list. It returns an error only when the input cannot be decoded at all,
// or when strict is true and the result carries at least one error.
func (p *Parser) Parse(data []byte, sourceLabel string, strict bool) (*Result, error) {
	raw, err := decode(data)
	if err != nil {
		return nil, fmt.Errorf("%s: unreadable input: %w", sourceLabel, err)
	}

	res := &Result{}

	// Rule 1: shape.
	pipelineRaw, ok := raw["pipeline"]
	if !ok {
		res.Errors = append(res.Errors, "top-level document is missing required 'pipeline' key")
		return finish(res, strict)
	}
	pm, ok := pipelineRaw.(map[string]interface{})
	if !ok {
		res.Errors = append(res.Errors, "'pipeline' key must be a mapping")
		return finish(res, strict)
	}

	pl := &pipeline.Pipeline{Concurrency: pipeline.DefaultConcurrency, Env: map[string]string{}}

	// Rule 2: required pipeline fields.
	if name, ok := stringField(pm, "name"); ok && name != "" {
		pl.Name = name
	} else {
		res.Errors = append(res.Errors, "pipeline.name must be a non-empty string")
	}
	if version, ok := stringField(pm, "version"); ok && version != "" {
		pl.Version = version
	} else {
		res.Errors = append(res.Errors, "pipeline.version must be a non-empty string")
	}
	tasksRaw, tasksPresent := pm["tasks"]
	var taskList []interface{}
	if tasksPresent {
		taskList, ok = tasksRaw.([]interface{})
		if !ok {
			res.Errors = append(res.Errors, "pipeline.tasks must be an array")
		} else if len(taskList) == 0 {
			res.Warnings = append(res.Warnings, "pipeline.tasks is an empty array, pipeline has no tasks to run")
		}
	} else {
		res.Errors = append(res.Errors, "pipeline.tasks must be an array")
	}

	// Rule 3: optional pipeline fields.
	if desc, present := pm["description"]; present {
		if s, ok := desc.(string); ok {
			pl.Description = s
		} else {
			res.Warnings = append(res.Warnings, "pipeline.description has the wrong type, ignoring")
		}
	}
	if conc, present := pm["concurrency"]; present {
		if n, ok := numberField(conc); ok && n > 0 {
			pl.Concurrency = int(n)
		} else {
			res.Warnings = append(res.Warnings, "pipeline.concurrency has the wrong type or is not positive, using default")
		}
	}
	if to, present := pm["timeout"]; present {
		if n, ok := numberField(to); ok && n >= 0 {
			pl.Timeout = time.Duration(n) * time.Millisecond
		} else {
			res.Warnings = append(res.Warnings, "pipeline.timeout has the wrong type, ignoring")
		}
	}
	if env, present := pm["env"]; present {
		if em, ok := env.(map[string]interface{}); ok {
			for k, v := range em {
				if s, ok := v.(string); ok {
					pl.Env[k] = s
				} else {
					res.Warnings = append(res.Warnings, fmt.Sprintf("pipeline.env.%s has the wrong type, ignoring", k))
				}
			}
		} else {
			res.Warnings = append(res.Warnings, "pipeline.env has the wrong type, ignoring")
		}
	}

	// Rule 4: per-task validation.
	seenIDs := make(map[string]bool)
	for i, tRaw := range taskList {
		tm, ok := tRaw.(map[string]interface{})
		if !ok {
			res.Errors = append(res.Errors, fmt.Sprintf("task[%d] must be a mapping", i))
			continue
		}
		task, taskErrs, taskWarns := p.parseTask(i, tm, seenIDs)
		res.Errors = append(res.Errors, taskErrs...)
		res.Warnings = append(res.Warnings, taskWarns...)
		if task != nil {
			seenIDs[task.ID] = true
			pl.Tasks = append(pl.Tasks, *task)
		}
	}

	// Rule 5: triggers.
	if triggersRaw, present := pm["triggers"]; present {
		triggerList, ok := triggersRaw.([]interface{})
		if !ok {
			res.Warnings = append(res.Warnings, "pipeline.triggers must be an array, ignoring")
		} else {
			for i, trRaw := range triggerList {
				trm, ok := trRaw.(map[string]interface{})
				if !ok {
					res.Warnings = append(res.Warnings, fmt.Sprintf("trigger[%d] must be a mapping, dropping", i))
					continue
				}
				trig, warn := parseTrigger(i, trm)
				if warn != "" {
					res.Warnings = append(res.Warnings, warn)
				}
				if trig != nil {
					pl.Triggers = append(pl.Triggers, *trig)
				}
			}
		}
	}

	// Rule 6: DAG structure, delegated to the structural validator.
	if len(res.Errors) == 0 || len(pl.Tasks) > 0 {
		res.Errors = append(res.Errors, p.structural.ValidateStructure(pl)...)
	}

	res.Pipeline = pl
	return finish(res, strict)
}

func finish(res *Result, strict bool) (*Result, error) {
	if strict && len(res.Errors) > 0 {
		return res, fmt.Errorf("strict validation failed with %d error(s): %s", len(res.Errors), strings.Join(res.Errors, "; "))
	}
	return res, nil
}

func (p *Parser) parseTask(index int, tm map[string]interface{}, seenIDs map[string]bool) (*pipeline.Task, []string, []string) {
	var errs, warns []string
	ref := func() string { return fmt.Sprintf("task[%d]", index) }

	id, idOK := stringField(tm, "id")
	if !idOK || id == "" {
		errs = append(errs, fmt.Sprintf("%s: id must be a non-empty string", ref()))
		return nil, errs, warns
	}
	if seenIDs[id] {
		errs = append(errs, fmt.Sprintf("task %q: duplicate id, dropping task", id))
		return nil, errs, warns
	}
	pluginName, pluginOK := stringField(tm, "plugin")
	if !pluginOK || pluginName == "" {
		errs = append(errs, fmt.Sprintf("task %q: plugin must be a non-empty string", id))
		return nil, errs, warns
	}

	task := &pipeline.Task{ID: id, Plugin: pluginName, Enabled: true, Config: map[string]interface{}{}}

	if name, ok := stringField(tm, "name"); ok && name != "" {
		task.Name = name
	} else {
		warns = append(warns, fmt.Sprintf("task %q: name missing, using id as display name", id))
		task.Name = id
	}

	if cfg, present := tm["config"]; present {
		if cm, ok := cfg.(map[string]interface{}); ok {
			task.Config = cm
		} else {
			warns = append(warns, fmt.Sprintf("task %q: config must be a mapping, using empty config", id))
		}
	}

	if deps, present := tm["dependsOn"]; present {
		if dl, ok := deps.([]interface{}); ok {
			for _, d := range dl {
				if s, ok := d.(string); ok {
					task.DependsOn = append(task.DependsOn, s)
				}
			}
		} else {
			errs = append(errs, fmt.Sprintf("task %q: dependsOn must be an array, treating as empty", id))
		}
	}

	if retryRaw, present := tm["retry"]; present {
		if rm, ok := retryRaw.(map[string]interface{}); ok {
			attempts := 0
			if n, ok := numberField(rm["attempts"]); ok {
				attempts = int(n)
				if attempts < 0 {
					attempts = 0
				}
			}
			delayMs := 1000.0
			if n, ok := numberField(rm["delay"]); ok {
				if n < 0 {
					n = 0
				}
				delayMs = n
			}
			if attempts > 0 {
				task.Retry = &pipeline.RetryPolicy{Attempts: attempts, Delay: time.Duration(delayMs) * time.Millisecond}
			}
		} else {
			warns = append(warns, fmt.Sprintf("task %q: retry must be a mapping, ignoring", id))
		}
	}

	if to, present := tm["timeout"]; present {
		if n, ok := numberField(to); ok && n > 0 {
			task.Timeout = time.Duration(n) * time.Millisecond
		} else {
			warns = append(warns, fmt.Sprintf("task %q: timeout must be a positive number, ignoring", id))
		}
	}

	task.Enabled = true
	if en, present := tm["enabled"]; present {
		if b, ok := en.(bool); ok {
			task.Enabled = b
		}
	}

	return task, errs, warns
}

func parseTrigger(index int, tm map[string]interface{}) (*pipeline.Trigger, string) {
	typ, ok := stringField(tm, "type")
	if !ok || typ == "" {
		return nil, fmt.Sprintf("trigger[%d]: type must be a non-empty string, dropping", index)
	}
	cfg, _ := tm["config"].(map[string]interface{})
	if cfg == nil {
		cfg = map[string]interface{}{}
	}

	switch pipeline.TriggerType(typ) {
	case pipeline.TriggerCron:
		expr, _ := stringField(cfg, "expression")
		if expr == "" {
			return nil, fmt.Sprintf("trigger[%d]: cron trigger requires expression, dropping", index)
		}
		warn := ""
		if len(strings.Fields(expr)) != 5 {
			warn = fmt.Sprintf("trigger[%d]: cron expression does not have five fields", index)
		}
		tz, _ := stringField(cfg, "timezone")
		return &pipeline.Trigger{Type: pipeline.TriggerCron, Cron: &pipeline.CronConfig{Expression: expr, Timezone: tz}}, warn
	case pipeline.TriggerWebhook:
		path, _ := stringField(cfg, "path")
		if path == "" {
			return nil, fmt.Sprintf("trigger[%d]: webhook trigger requires path, dropping", index)
		}
		method, _ := stringField(cfg, "method")
		warn := ""
		switch method {
		case "":
			method = "POST"
		case "GET", "POST", "PUT":
		default:
			warn = fmt.Sprintf("trigger[%d]: webhook method %q is not one of GET/POST/PUT", index, method)
			method = "POST"
		}
		secret, _ := stringField(cfg, "secret")
		return &pipeline.Trigger{Type: pipeline.TriggerWebhook, Webhook: &pipeline.WebhookConfig{Path: path, Method: method, Secret: secret}}, warn
	case pipeline.TriggerManual:
		return &pipeline.Trigger{Type: pipeline.TriggerManual}, ""
	default:
		return nil, fmt.Sprintf("trigger[%d]: unknown type %q, dropping", index, typ)
	}
}

func stringField(m map[string]interface{}, key string) (string, bool) {
	v, present := m[key]
	if !present {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func numberField(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}

func decode(data []byte) (map[string]interface{}, error) {
	trimmed := bytes.TrimSpace(data)
	out := make(map[string]interface{})
	if len(trimmed) > 0 && trimmed[0] == '{' {
		if err := json.Unmarshal(trimmed, &out); err != nil {
			return nil, err
		}
		return out, nil
	}
	if err := yaml.Unmarshal(trimmed, &out); err != nil {
		return nil, err
	}
	return out, nil
}
