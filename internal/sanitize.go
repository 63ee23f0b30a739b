package internal

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"coderunner/model"
)

var ErrInvalidPattern = errors.New("invalid denylist pattern")

type SanitizationError struct {
	Message string
	Details string
	Err     error
}

func (e *SanitizationError) Error() string {
	return e.Message + ": " + e.Details
}

func (e *SanitizationError) Unwrap() error {
	return e.Err
}

type rule struct {
	source string
	re     *regexp.Regexp
}

// SecurityValidator applies a global regex denylist followed by per-language
// rules. It holds no mutable state and is safe for concurrent use.
type SecurityValidator struct {
	global []rule
}

// Substrings that are always rejected in JavaScript, matched case-sensitively.
var jsDangerousFunctions = []string{
	"setTimeout",
	"setInterval",
	"setImmediate",
	"process.exit",
	"process.kill",
	"Buffer.allocUnsafe",
}

var jsDangerousPatterns = mustRules(
	`import\s*\(`,
	`new\s+Function`,
	`require\s*\(\s*["']os["']`,
	`import\s+.*\s+from\s+["'](fs|child_process|net|http|os)["']`,
)

var pythonDangerousPatterns = mustRules(
	`import\s+subprocess`,
	`import\s+os`,
	`import\s+sys`,
	`from\s+subprocess`,
	`from\s+os`,
	`from\s+sys`,
	`__import__`,
	`open\s*\(`,
	`compile\s*\(`,
)

// NewSecurityValidator compiles the global blocked patterns. Every pattern is
// matched case-insensitively.
func NewSecurityValidator(blockedPatterns []string) (*SecurityValidator, error) {
	rules, err := compileRules(blockedPatterns)
	if err != nil {
		return nil, err
	}
	return &SecurityValidator{global: rules}, nil
}

// Check runs the global denylist, then the language denylist, and reports
// every issue found. Unknown languages get the global denylist only.
func (v *SecurityValidator) Check(language, code string) model.SecurityVerdict {
	issues := []string{}

	for _, r := range v.global {
		if r.re.MatchString(code) {
			issues = append(issues, "Blocked pattern detected: "+r.source)
		}
	}

	switch language {
	case "javascript":
		issues = append(issues, checkJavaScript(code)...)
	case "python":
		issues = append(issues, checkPython(code)...)
	}

	return model.SecurityVerdict{IsValid: len(issues) == 0, Issues: issues}
}

func checkJavaScript(code string) []string {
	var issues []string
	for _, fn := range jsDangerousFunctions {
		if strings.Contains(code, fn) {
			issues = append(issues, "Dangerous function detected: "+fn)
		}
	}
	return append(issues, matchRules(jsDangerousPatterns, code)...)
}

func checkPython(code string) []string {
	return matchRules(pythonDangerousPatterns, code)
}

func matchRules(rules []rule, code string) []string {
	var issues []string
	for _, r := range rules {
		if r.re.MatchString(code) {
			issues = append(issues, "Dangerous pattern detected: "+r.source)
		}
	}
	return issues
}

func compileRules(patterns []string) ([]rule, error) {
	rules := make([]rule, 0, len(patterns))
	for _, pattern := range patterns {
		re, err := regexp.Compile("(?i)" + pattern)
		if err != nil {
			return nil, &SanitizationError{
				Message: "Invalid blocked pattern",
				Details: fmt.Sprintf("%q: %v", pattern, err),
				Err:     ErrInvalidPattern,
			}
		}
		rules = append(rules, rule{source: pattern, re: re})
	}
	return rules, nil
}

func mustRules(patterns ...string) []rule {
	rules, err := compileRules(patterns)
	if err != nil {
		panic(err)
	}
	return rules
}
