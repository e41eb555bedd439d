// Package toolcheck statically checks client-declared function tools before
// they are forwarded upstream.
package toolcheck

import (
	"fmt"
	"log/slog"
	"maps"
	"regexp"
	"slices"
	"strings"

	"github.com/n0madic/go-xaigate/internal/config"
	"github.com/n0madic/go-xaigate/internal/types"
)

// Rule names reported in ValidationError.Rule.
const (
	RuleEmpty       = "tools_empty"
	RuleCount       = "tools_count"
	RuleType        = "tool_type"
	RuleName        = "function_name"
	RuleDescription = "function_description"
	RuleSchema      = "parameter_schema"
	RuleDuplicate   = "duplicate_name"
	RuleToolChoice  = "tool_choice"
)

var (
	namePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

	dangerousNamePatterns = compileAll(
		`\bexec\b`, `\beval\b`, `\b__import__\b`, `\bcompile\b`,
		`\bos\.`, `\bsys\.`, `\bsubprocess\b`, `\bshell\b`,
		`\bfile\b.*\bopen\b`, `\bwrite\b.*\bfile\b`,
		`\bdelete\b.*\bfile\b`, `\brm\b`, `\bunlink\b`,
	)

	dangerousDescriptionPatterns = compileAll(
		`\bexec\b.*\bcode\b`, `\beval\b.*\bexpression\b`,
		`\bshell\b.*\bcommand\b`, `\bdelete\b.*\bsystem\b`,
	)

	schemaTypes = map[string]bool{
		"object": true, "string": true, "number": true, "integer": true,
		"boolean": true, "array": true, "null": true,
	}
)

func compileAll(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		out[i] = regexp.MustCompile(`(?i)` + p)
	}
	return out
}

// ValidationError identifies the first rule a tool list or tool_choice broke.
type ValidationError struct {
	Rule    string
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func fail(rule, format string, args ...any) *ValidationError {
	return &ValidationError{Rule: rule, Message: fmt.Sprintf(format, args...)}
}

// Validator checks tools against configured limits.
type Validator struct {
	Limits config.ToolLimits
}

// New returns a Validator for the given limits.
func New(limits config.ToolLimits) *Validator {
	return &Validator{Limits: limits}
}

// ValidateTools checks a present tool list. The first violation wins; tools
// are checked in list order and duplicate names are checked last.
func (v *Validator) ValidateTools(tools []types.ChatTool) error {
	if len(tools) == 0 {
		return fail(RuleEmpty, "Tools list cannot be empty if provided")
	}
	if len(tools) > v.Limits.MaxTools {
		return fail(RuleCount, "Number of tools (%d) exceeds maximum allowed (%d)", len(tools), v.Limits.MaxTools)
	}
	for _, tool := range tools {
		if err := v.validateTool(tool); err != nil {
			return err
		}
	}
	seen := make(map[string]struct{}, len(tools))
	for _, tool := range tools {
		name := tool.FunctionName()
		if _, dup := seen[name]; dup {
			return fail(RuleDuplicate, "Duplicate function name: %s", name)
		}
		seen[name] = struct{}{}
	}
	return nil
}

func (v *Validator) validateTool(tool types.ChatTool) error {
	if tool.Type != "function" {
		return fail(RuleType, "Unsupported tool type: %s. Only 'function' is supported", tool.Type)
	}
	if tool.Function == nil {
		return fail(RuleName, "Function name cannot be empty")
	}
	if err := v.validateName(tool.Function.Name); err != nil {
		return err
	}
	if err := v.validateDescription(tool.Function.Name, tool.Function.Description); err != nil {
		return err
	}
	if tool.Function.Parameters == nil {
		return nil
	}
	return v.validateSchema(tool.Function.Parameters, 0)
}

func (v *Validator) validateName(name string) error {
	if name == "" {
		return fail(RuleName, "Function name cannot be empty")
	}
	if len(name) > v.Limits.MaxNameLength {
		return fail(RuleName, "Function name exceeds maximum length of %d characters", v.Limits.MaxNameLength)
	}
	if !namePattern.MatchString(name) {
		return fail(RuleName, "Function name can only contain alphanumeric characters, underscores, and hyphens")
	}
	for _, re := range dangerousNamePatterns {
		if re.MatchString(name) {
			return fail(RuleName, "Function name %q contains potentially dangerous pattern: %s", name, displayPattern(re))
		}
	}
	return nil
}

func (v *Validator) validateDescription(name, desc string) error {
	if strings.TrimSpace(desc) == "" {
		return fail(RuleDescription, "Function description cannot be empty (function %s)", name)
	}
	if len(desc) > v.Limits.MaxDescLength {
		return fail(RuleDescription, "Function description exceeds maximum length of %d characters (function %s)", v.Limits.MaxDescLength, name)
	}
	for _, re := range dangerousDescriptionPatterns {
		if re.MatchString(desc) {
			slog.Warn("toolcheck.description.rejected", "function", name, "pattern", displayPattern(re))
			return fail(RuleDescription, "Function description for %s contains disallowed pattern: %s", name, displayPattern(re))
		}
	}
	return nil
}

// validateSchema walks the parameter schema depth-first. Each properties
// entry and each items entry is one level deeper than its parent.
func (v *Validator) validateSchema(node any, depth int) error {
	if depth > v.Limits.MaxParameterDepth {
		return fail(RuleSchema, "Parameter schema exceeds maximum nesting depth of %d", v.Limits.MaxParameterDepth)
	}
	schema, ok := node.(map[string]any)
	if !ok {
		return fail(RuleSchema, "Parameter schema must be an object")
	}
	if typ, present := schema["type"]; present {
		if !validSchemaType(typ) {
			return fail(RuleSchema, "Invalid parameter type: %v", typ)
		}
	}
	if rawProps, present := schema["properties"]; present {
		props, ok := rawProps.(map[string]any)
		if !ok {
			return fail(RuleSchema, "Parameter 'properties' must be an object")
		}
		for _, key := range slices.Sorted(maps.Keys(props)) {
			child, ok := props[key].(map[string]any)
			if !ok {
				continue
			}
			if err := v.validateSchema(child, depth+1); err != nil {
				return err
			}
		}
	}
	if items, ok := schema["items"].(map[string]any); ok {
		if err := v.validateSchema(items, depth+1); err != nil {
			return err
		}
	}
	return nil
}

// validSchemaType accepts a single type name or a JSON-schema type union.
func validSchemaType(typ any) bool {
	switch t := typ.(type) {
	case string:
		return schemaTypes[t]
	case []any:
		if len(t) == 0 {
			return false
		}
		for _, item := range t {
			s, ok := item.(string)
			if !ok || !schemaTypes[s] {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// ValidateToolChoice checks tool_choice against the declared tools. A nil
// choice is always valid.
func (v *Validator) ValidateToolChoice(choice any, tools []types.ChatTool) error {
	if choice == nil {
		return nil
	}
	if len(tools) == 0 {
		return fail(RuleToolChoice, "tool_choice specified but no tools provided")
	}
	switch c := choice.(type) {
	case string:
		switch c {
		case "none", "auto", "required":
			return nil
		}
		return fail(RuleToolChoice, "Invalid tool_choice: %s. Must be one of none, auto, required", c)
	case map[string]any:
		if typ, _ := c["type"].(string); typ != "function" {
			return fail(RuleToolChoice, "tool_choice object must have type='function'")
		}
		fn, _ := c["function"].(map[string]any)
		name, _ := fn["name"].(string)
		if name == "" {
			return fail(RuleToolChoice, "tool_choice object must specify function.name")
		}
		for _, tool := range tools {
			if tool.FunctionName() == name {
				return nil
			}
		}
		return fail(RuleToolChoice, "tool_choice references unknown function: %s", name)
	default:
		return fail(RuleToolChoice, "tool_choice must be a string or object")
	}
}

func displayPattern(re *regexp.Regexp) string {
	return strings.TrimPrefix(re.String(), "(?i)")
}
