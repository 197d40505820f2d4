package filter

import (
	"fmt"
	"sync"
	"testing"
)

func TestClassFilter_Classify(t *testing.T) {
	f := NewClassFilter()

	tests := []struct {
		className string
		expected  ClassCategory
	}{
		{"", CategoryUnknown},
		{"java/lang/String", CategoryJDK},
		{"java.util.HashMap", CategoryJDK},
		{"javax/servlet/Servlet", CategoryJDK},
		{"sun/misc/Unsafe", CategoryJDK},
		{"jdk/internal/misc/Unsafe", CategoryJDK},
		{"org/jacoco/agent/rt/internal/Offline", CategoryAgent},
		{"io/opentelemetry/javaagent/bootstrap/Agent", CategoryAgent},
		{"com/example/MyService", CategoryApplication},
		{"javafoo/Bar", CategoryApplication},
	}

	for _, tt := range tests {
		t.Run(tt.className, func(t *testing.T) {
			got := f.Classify(tt.className)
			if got != tt.expected {
				t.Errorf("Classify(%q) = %v, want %v", tt.className, got, tt.expected)
			}
		})
	}
}

func TestClassFilter_Accept(t *testing.T) {
	f := NewClassFilter()
	f.AddIncludes("com.example.*")
	f.AddExcludes("*Test:*$$Lambda*", "com.example.gen?.*")

	tests := []struct {
		className string
		expected  bool
	}{
		{"com/example/Service", true},
		{"com/example/deep/pkg/Repo$Inner", true},
		{"com/example/ServiceTest", false},
		{"com/example/Service$$Lambda$1", false},
		{"com/example/gen1/Model", false},
		{"com/example/gen12/Model", true},
		{"org/other/Thing", false},
		{"java/lang/String", false},
		{"", false},
	}

	for _, tt := range tests {
		if got := f.Accept(tt.className); got != tt.expected {
			t.Errorf("Accept(%q) = %v, want %v", tt.className, got, tt.expected)
		}
	}
}

func TestClassFilter_SkipRuntime(t *testing.T) {
	f := NewClassFilter()
	if f.Accept("java/lang/Object") {
		t.Error("runtime classes are skipped by default")
	}
	f.SetSkipRuntime(false)
	if !f.Accept("java/lang/Object") {
		t.Error("expected runtime class to be accepted")
	}

	f.AddAgentPrefix("com/acme/probe/")
	f.SetSkipRuntime(true)
	if f.Accept("com/acme/probe/Hook") {
		t.Error("custom agent prefix should be skipped")
	}
}

func TestCompileWildcard(t *testing.T) {
	tests := []struct {
		pattern string
		name    string
		match   bool
	}{
		{"*", "anything.at.All", true},
		{"a.b.C", "a.b.C", true},
		{"a.b.C", "a.b.CD", false},
		{"a/b/*", "a.b.X", true},
		{"a.?", "a.bc", false},
		{"a.$Inner", "a.$Inner", true},
		{"", "x", false},
		{"x::y", "y", true},
	}
	for _, tt := range tests {
		if got := CompileWildcard(tt.pattern).MatchString(tt.name); got != tt.match {
			t.Errorf("CompileWildcard(%q).Match(%q) = %v, want %v", tt.pattern, tt.name, got, tt.match)
		}
	}
}

func TestClassFilter_ExcludeInvalidatesDecisions(t *testing.T) {
	f := NewClassFilter()
	if !f.Accept("com/example/C0") {
		t.Fatal("com/example/C0 should be accepted before any exclude")
	}

	f.AddExcludes("com.example.C0")
	if f.Accept("com/example/C0") {
		t.Error("adding an exclude must invalidate remembered decisions")
	}
}

func TestClassFilter_Concurrent(t *testing.T) {
	f := NewClassFilter()
	f.AddExcludes("*.internal.*")

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				name := fmt.Sprintf("com/example/internal/C%d", j%20)
				if f.Accept(name) {
					t.Errorf("Accept(%q) should be false", name)
				}
				f.Accept(fmt.Sprintf("com/example/C%d", n*j))
			}
		}(i)
	}
	wg.Wait()
}
