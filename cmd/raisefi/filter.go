package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/itchyny/gojq"
)

// jqFilter is a set of compiled jq expressions that must all evaluate
// truthy for a value to match.
type jqFilter struct {
	codes  []*gojq.Code
	logger *slog.Logger
}

func compileFilters(exprs []string, logger *slog.Logger) (*jqFilter, error) {
	f := &jqFilter{codes: make([]*gojq.Code, len(exprs)), logger: logger}
	for i, expr := range exprs {
		query, err := gojq.Parse(expr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse jq filter %q: %w", expr, err)
		}
		f.codes[i], err = gojq.Compile(query)
		if err != nil {
			return nil, fmt.Errorf("failed to compile jq filter %q: %w", expr, err)
		}
	}
	return f, nil
}

// Match reports whether v, viewed as its JSON document, passes every filter.
// An empty filter matches everything.
func (f *jqFilter) Match(v interface{}) bool {
	if f == nil || len(f.codes) == 0 {
		return true
	}

	doc, err := toJQValue(v)
	if err != nil {
		f.logger.Debug("failed to convert value for jq", "error", err)
		return false
	}

	for _, code := range f.codes {
		iter := code.Run(doc)
		result, ok := iter.Next()
		if !ok {
			return false
		}
		if err, isErr := result.(error); isErr {
			f.logger.Debug("jq filter error", "error", err)
			return false
		}
		if !isTruthy(result) {
			return false
		}
	}
	return true
}

// toJQValue round-trips v through JSON so gojq sees plain maps, slices
// and float64s.
func toJQValue(v interface{}) (interface{}, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// isTruthy follows jq: only null and false are falsy.
func isTruthy(v interface{}) bool {
	if v == nil {
		return false
	}
	if b, ok := v.(bool); ok {
		return b
	}
	return true
}

// cliLogger only reports errors, on stderr.
func cliLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

func outputJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
