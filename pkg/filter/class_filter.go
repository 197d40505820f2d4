// Package filter decides which compiled classes take part in a coverage report.
// Names are accepted in VM form (com/example/Foo$Bar) or dotted form and are
// matched in dotted form.
package filter

import (
	"regexp"
	"strings"
	"sync"
)

// ClassCategory represents the category of a class.
type ClassCategory int

const (
	// CategoryUnknown indicates the class category is unknown.
	CategoryUnknown ClassCategory = iota
	// CategoryJDK indicates classes shipped with the runtime.
	CategoryJDK
	// CategoryAgent indicates classes of coverage or tracing agents that are
	// loaded into the application but never part of its report.
	CategoryAgent
	// CategoryApplication indicates everything else.
	CategoryApplication
)

// String returns the string representation of the category.
func (c ClassCategory) String() string {
	switch c {
	case CategoryJDK:
		return "jdk"
	case CategoryAgent:
		return "agent"
	case CategoryApplication:
		return "application"
	default:
		return "unknown"
	}
}

// ClassFilter combines include and exclude wildcard patterns with a
// category check. It is safe for concurrent use.
type ClassFilter struct {
	mu sync.RWMutex

	jdkPrefixes   []string
	agentPrefixes []string

	includes []*regexp.Regexp
	excludes []*regexp.Regexp
	// skipRuntime drops JDK and agent classes regardless of the patterns.
	skipRuntime bool

	decisions     map[string]bool
	decisionLimit int
}

// NewClassFilter creates a filter that accepts every application class.
func NewClassFilter() *ClassFilter {
	f := &ClassFilter{
		decisions:     make(map[string]bool),
		decisionLimit: 10000,
		skipRuntime:   true,
	}
	f.initDefaults()
	return f
}

func (f *ClassFilter) initDefaults() {
	f.jdkPrefixes = []string{
		"java.",
		"javax.",
		"sun.",
		"com.sun.",
		"jdk.",
	}
	f.agentPrefixes = []string{
		"org.jacoco.agent.rt.",
		"io.opentelemetry.javaagent.",
		"com.alibaba.arthas.deps.",
		"net.bytebuddy.agent.",
	}
}

// DottedName converts a VM class name to its dotted form.
func DottedName(name string) string {
	return strings.ReplaceAll(name, "/", ".")
}

// Classify returns the category of a class.
func (f *ClassFilter) Classify(className string) ClassCategory {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.classify(className)
}

func (f *ClassFilter) classify(className string) ClassCategory {
	if className == "" {
		return CategoryUnknown
	}
	name := DottedName(className)
	for _, prefix := range f.jdkPrefixes {
		if strings.HasPrefix(name, prefix) {
			return CategoryJDK
		}
	}
	for _, prefix := range f.agentPrefixes {
		if strings.HasPrefix(name, prefix) {
			return CategoryAgent
		}
	}
	return CategoryApplication
}

// Accept reports whether a class belongs in the report. A class is accepted
// when it matches an include pattern (or none are set) and no exclude pattern.
func (f *ClassFilter) Accept(className string) bool {
	if className == "" {
		return false
	}

	f.mu.RLock()
	if ok, cached := f.decisions[className]; cached {
		f.mu.RUnlock()
		return ok
	}
	f.mu.RUnlock()

	ok := f.decide(className)

	f.mu.Lock()
	if len(f.decisions) < f.decisionLimit {
		f.decisions[className] = ok
	}
	f.mu.Unlock()
	return ok
}

func (f *ClassFilter) decide(className string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.skipRuntime {
		if cat := f.classify(className); cat == CategoryJDK || cat == CategoryAgent {
			return false
		}
	}

	name := DottedName(className)
	if len(f.includes) > 0 && !matchAny(f.includes, name) {
		return false
	}
	return !matchAny(f.excludes, name)
}

func matchAny(patterns []*regexp.Regexp, name string) bool {
	for _, p := range patterns {
		if p.MatchString(name) {
			return true
		}
	}
	return false
}

// CompileWildcard turns a pattern where '*' matches any run of characters
// and '?' matches exactly one into an anchored expression. Several
// patterns may be joined with ':'.
func CompileWildcard(pattern string) *regexp.Regexp {
	var alts []string
	for _, part := range strings.Split(pattern, ":") {
		if part == "" {
			continue
		}
		var b strings.Builder
		for _, r := range DottedName(part) {
			switch r {
			case '*':
				b.WriteString(".*")
			case '?':
				b.WriteString(".")
			default:
				b.WriteString(regexp.QuoteMeta(string(r)))
			}
		}
		alts = append(alts, b.String())
	}
	if len(alts) == 0 {
		return regexp.MustCompile(`^$`)
	}
	return regexp.MustCompile(`^(?:` + strings.Join(alts, "|") + `)$`)
}

// AddIncludes restricts the filter to classes matching any of the patterns.
func (f *ClassFilter) AddIncludes(patterns ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range patterns {
		f.includes = append(f.includes, CompileWildcard(p))
	}
	f.decisions = make(map[string]bool)
}

// AddExcludes rejects classes matching any of the patterns.
func (f *ClassFilter) AddExcludes(patterns ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range patterns {
		f.excludes = append(f.excludes, CompileWildcard(p))
	}
	f.decisions = make(map[string]bool)
}

// SetSkipRuntime controls whether JDK and agent classes are dropped.
func (f *ClassFilter) SetSkipRuntime(skip bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.skipRuntime = skip
	f.decisions = make(map[string]bool)
}

// AddAgentPrefix adds a dotted package prefix classified as CategoryAgent.
func (f *ClassFilter) AddAgentPrefix(prefix string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.agentPrefixes = append(f.agentPrefixes, DottedName(prefix))
	f.decisions = make(map[string]bool)
}
