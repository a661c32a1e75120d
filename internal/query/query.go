// Package query filters experiments with a CEL predicate over their
// identity, metadata, tags, parameters and others.
package query

import (
	"context"
	"fmt"
	"regexp"

	"github.com/google/cel-go/cel"

	"github.com/user/expmirror/pkg/tracking"
)

// Variables available to a query expression.
const (
	varExperiment = "experiment"
	varMetadata   = "metadata"
	varTags       = "tags"
	varParams     = "params"
	varOthers     = "others"
)

// Filter is a compiled experiment predicate, e.g.
//
//	params.lr == "0.01" && "baseline" in tags
type Filter struct {
	expr string
	prg  cel.Program
	uses map[string]bool
}

// Compile parses and type-checks expr.
func Compile(expr string) (*Filter, error) {
	env, err := cel.NewEnv(
		cel.Variable(varExperiment, cel.MapType(cel.StringType, cel.StringType)),
		cel.Variable(varMetadata, cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable(varTags, cel.ListType(cel.StringType)),
		cel.Variable(varParams, cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable(varOthers, cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("create CEL env: %w", err)
	}
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile query: %w", issues.Err())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("build query program: %w", err)
	}

	uses := make(map[string]bool)
	for _, name := range []string{varMetadata, varTags, varParams, varOthers} {
		if regexp.MustCompile(`\b` + name + `\b`).MatchString(expr) {
			uses[name] = true
		}
	}
	return &Filter{expr: expr, prg: prg, uses: uses}, nil
}

// String returns the source expression.
func (f *Filter) String() string {
	return f.expr
}

// Match evaluates the predicate for e. Only the resources the expression
// mentions are fetched from src.
func (f *Filter) Match(ctx context.Context, src tracking.Source, e tracking.Experiment) (bool, error) {
	input := map[string]any{
		varExperiment: map[string]string{
			"key":       e.Key,
			"name":      e.Name,
			"workspace": e.Workspace,
			"project":   e.Project,
		},
		varMetadata: map[string]any{},
		varTags:     []string{},
		varParams:   map[string]any{},
		varOthers:   map[string]any{},
	}

	if f.uses[varMetadata] {
		md, err := src.GetMetadata(ctx, e.Key)
		if err != nil {
			return false, err
		}
		if md != nil {
			input[varMetadata] = md
		}
	}
	if f.uses[varTags] {
		tags, err := src.GetTags(ctx, e.Key)
		if err != nil {
			return false, err
		}
		if tags != nil {
			input[varTags] = tags
		}
	}
	if f.uses[varParams] {
		params, err := src.GetParametersSummary(ctx, e.Key)
		if err != nil {
			return false, err
		}
		input[varParams] = summaryMap(params)
	}
	if f.uses[varOthers] {
		others, err := src.GetOthersSummary(ctx, e.Key)
		if err != nil {
			return false, err
		}
		input[varOthers] = summaryMap(others)
	}

	out, _, err := f.prg.Eval(input)
	if err != nil {
		return false, fmt.Errorf("evaluate query: %w", err)
	}
	ok, isBool := out.Value().(bool)
	if !isBool {
		return false, fmt.Errorf("query %q does not evaluate to a boolean", f.expr)
	}
	return ok, nil
}

func summaryMap(values []tracking.ValueSummary) map[string]any {
	m := make(map[string]any, len(values))
	for _, v := range values {
		m[v.Name] = v.ValueCurrent
	}
	return m
}

// Select returns the experiments of exps that match f, in order. A nil
// filter selects everything.
func Select(ctx context.Context, f *Filter, src tracking.Source, exps []tracking.Experiment) ([]tracking.Experiment, error) {
	if f == nil {
		return exps, nil
	}
	var out []tracking.Experiment
	for _, e := range exps {
		ok, err := f.Match(ctx, src, e)
		if err != nil {
			return nil, fmt.Errorf("filter %s: %w", e.Key, err)
		}
		if ok {
			out = append(out, e)
		}
	}
	return out, nil
}
