// Package template implements the small expression/filter language called
// for in spec.md §9: substitution of values from an environment (e.g.
// reference_time, datainstance, input_filename) with a handful of
// date/time filters (iso8601, iso8601_compact, timedelta, strftime). No
// template-engine dependency in the retrieved pack fits this narrow a
// grammar, so it is hand-rolled; see DESIGN.md.
package template

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Env is the value environment a template is rendered against. Values are
// typically strings, time.Time, or anything whose String()/format the
// filters below know how to handle.
type Env map[string]interface{}

// Filter transforms a rendered value before it is substituted into the
// output string.
type Filter func(value interface{}, arg string) (string, error)

// Evaluator renders %(name)s-style placeholders, each optionally piped
// through one of a fixed set of filters: %(name|filter)s or
// %(name|filter:arg)s.
type Evaluator struct {
	filters map[string]Filter
}

// NewEvaluator builds an Evaluator with the standard filter set registered.
func NewEvaluator() *Evaluator {
	e := &Evaluator{filters: make(map[string]Filter)}
	e.Register("iso8601", filterISO8601)
	e.Register("iso8601_compact", filterISO8601Compact)
	e.Register("timedelta", filterTimedelta)
	e.Register("strftime", filterStrftime)
	return e
}

// Register adds or replaces a named filter.
func (e *Evaluator) Register(name string, f Filter) {
	e.filters[name] = f
}

// Render substitutes every %(name)s, %(name|filter)s, or
// %(name|filter:arg)s placeholder in tpl using env, returning the rendered
// string or the first error encountered.
func (e *Evaluator) Render(tpl string, env Env) (string, error) {
	var out strings.Builder
	i := 0
	for i < len(tpl) {
		start := strings.Index(tpl[i:], "%(")
		if start < 0 {
			out.WriteString(tpl[i:])
			break
		}
		start += i
		out.WriteString(tpl[i:start])

		end := strings.Index(tpl[start:], ")s")
		if end < 0 {
			return "", fmt.Errorf("template: unterminated placeholder at offset %d", start)
		}
		end += start

		token := tpl[start+2 : end]
		rendered, err := e.renderToken(token, env)
		if err != nil {
			return "", err
		}
		out.WriteString(rendered)
		i = end + 2
	}
	return out.String(), nil
}

func (e *Evaluator) renderToken(token string, env Env) (string, error) {
	name := token
	var filterName, filterArg string
	if idx := strings.Index(token, "|"); idx >= 0 {
		name = token[:idx]
		spec := token[idx+1:]
		if c := strings.Index(spec, ":"); c >= 0 {
			filterName, filterArg = spec[:c], spec[c+1:]
		} else {
			filterName = spec
		}
	}

	value, ok := env[name]
	if !ok {
		return "", fmt.Errorf("template: undefined variable %q", name)
	}

	if filterName == "" {
		return fmt.Sprintf("%v", value), nil
	}

	filter, ok := e.filters[filterName]
	if !ok {
		return "", fmt.Errorf("template: unknown filter %q", filterName)
	}
	return filter(value, filterArg)
}

func asTime(value interface{}) (time.Time, error) {
	switch v := value.(type) {
	case time.Time:
		return v, nil
	default:
		return time.Time{}, fmt.Errorf("template: value is not a time.Time: %v", value)
	}
}

func filterISO8601(value interface{}, _ string) (string, error) {
	t, err := asTime(value)
	if err != nil {
		return "", err
	}
	return t.UTC().Format("2006-01-02T15:04:05Z"), nil
}

func filterISO8601Compact(value interface{}, _ string) (string, error) {
	t, err := asTime(value)
	if err != nil {
		return "", err
	}
	return t.UTC().Format("20060102T150405Z"), nil
}

// filterTimedelta shifts a time.Time by arg seconds (positive or negative),
// e.g. %(reference_time|timedelta:-3600)s for one hour earlier.
func filterTimedelta(value interface{}, arg string) (string, error) {
	t, err := asTime(value)
	if err != nil {
		return "", err
	}
	seconds, err := strconv.Atoi(arg)
	if err != nil {
		return "", fmt.Errorf("template: timedelta argument must be an integer number of seconds: %w", err)
	}
	return t.Add(time.Duration(seconds) * time.Second).UTC().Format("2006-01-02T15:04:05Z"), nil
}

// strftimeDirectives maps a useful subset of C strftime directives to Go's
// reference-time layout tokens.
var strftimeDirectives = strings.NewReplacer(
	"%Y", "2006",
	"%m", "01",
	"%d", "02",
	"%H", "15",
	"%M", "04",
	"%S", "05",
	"%j", "002",
)

func filterStrftime(value interface{}, arg string) (string, error) {
	t, err := asTime(value)
	if err != nil {
		return "", err
	}
	layout := strftimeDirectives.Replace(arg)
	return t.UTC().Format(layout), nil
}
