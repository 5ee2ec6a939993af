package executor

import (
	"regexp"
	"strings"
)

// Profile defines how a compiled language is wrapped, built and run.
type Profile struct {
	Name  string
	Image string

	// NeedsWrap reports whether a bare snippet must be placed in an entry class.
	NeedsWrap func(code string) bool
	Wrap      func(code string) string
	// EntryClass names the class the runner starts, "" when not applicable.
	EntryClass func(source string) string
	// SourceClass names the source file when the compiler requires it.
	SourceClass func(source string) string

	BuildScript string
	RunScript   string

	ErrorLine    *regexp.Regexp
	MissingEntry *regexp.Regexp
}

const (
	DefaultCSharpImage = "mono:6.12"
	DefaultJavaImage   = "eclipse-temurin:17-jdk"
)

var csharpProfile = Profile{
	Name:  "csharp",
	Image: DefaultCSharpImage,
	NeedsWrap: func(code string) bool {
		return !strings.Contains(code, "class ") && !strings.Contains(code, "namespace ")
	},
	Wrap: func(code string) string {
		return "using System;\nusing System.Linq;\nusing System.Collections.Generic;\n\n" +
			"public class Program\n{\n    public static void Main()\n    {\n" +
			indent(code, "        ") +
			"\n    }\n}\n"
	},
	EntryClass: func(string) string { return "" },
	BuildScript: `set -e
mkdir -p /tmp/build && cd /tmp/build
printf '%s' "$SOURCE" > Program.cs
mcs -out:program.exe Program.cs >&2
base64 -w0 program.exe`,
	RunScript: `set -e
cd /tmp
printf '%s' "$ARTIFACT" | base64 -d > program.exe
printf '%s' "$STDIN_DATA" | mono program.exe`,
	ErrorLine:    regexp.MustCompile(`error CS\d+`),
	MissingEntry: regexp.MustCompile(`CS5001`),
}

var (
	publicClass = regexp.MustCompile(`public\s+(?:final\s+|abstract\s+)*class\s+([A-Za-z_$][\w$]*)`)
	classDecl   = regexp.MustCompile(`\bclass\s+([A-Za-z_$][\w$]*)[^{;]*\{`)
	javaMain    = regexp.MustCompile(`\bstatic\s+(?:final\s+)?void\s+main\s*\(`)
)

// javaEntryClass returns the binary name of the class whose body declares
// static void main (Outer$Inner when nested), then the public class, then Main.
func javaEntryClass(source string) string {
	if loc := javaMain.FindStringIndex(source); loc != nil {
		var enclosing []string
		for _, m := range classDecl.FindAllStringSubmatchIndex(source, -1) {
			open := m[1] - 1
			if open < loc[0] && closeBrace(source, open) > loc[0] {
				enclosing = append(enclosing, source[m[2]:m[3]])
			}
		}
		if len(enclosing) > 0 {
			return strings.Join(enclosing, "$")
		}
	}
	return javaSourceClass(source)
}

// javaSourceClass is the class javac requires the file to be named after.
func javaSourceClass(source string) string {
	if m := publicClass.FindStringSubmatch(source); m != nil {
		return m[1]
	}
	return "Main"
}

// closeBrace returns the index of the brace matching the one at open, or
// len(source) when it is never closed.
func closeBrace(source string, open int) int {
	depth := 0
	for i := open; i < len(source); i++ {
		switch source[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return len(source)
}

var javaProfile = Profile{
	Name:  "java",
	Image: DefaultJavaImage,
	NeedsWrap: func(code string) bool {
		return !strings.Contains(code, "class ")
	},
	Wrap: func(code string) string {
		return "import java.util.*;\n\n" +
			"public class Main {\n    public static void main(String[] args) {\n" +
			indent(code, "        ") +
			"\n    }\n}\n"
	},
	EntryClass:  javaEntryClass,
	SourceClass: javaSourceClass,
	BuildScript: `set -e
mkdir -p /tmp/build/classes && cd /tmp/build
printf '%s' "$SOURCE" > "$SOURCE_CLASS.java"
javac -d classes "$SOURCE_CLASS.java" >&2
jar cf program.jar -C classes . >&2
base64 -w0 program.jar`,
	RunScript: `set -e
cd /tmp
printf '%s' "$ARTIFACT" | base64 -d > program.jar
printf '%s' "$STDIN_DATA" | java -cp program.jar "$MAIN_CLASS"`,
	ErrorLine:    regexp.MustCompile(`\.java:\d+: error:`),
	MissingEntry: regexp.MustCompile(`Main method not found|does not contain a main method|Could not find or load main class`),
}

var profiles = map[string]Profile{
	"csharp": csharpProfile,
	"java":   javaProfile,
}

var aliases = map[string]string{
	"c#": "csharp",
	"cs": "csharp",
}

// GetProfile retrieves the profile for a language name or alias.
func GetProfile(language string) (Profile, bool) {
	key := strings.ToLower(strings.TrimSpace(language))
	if canonical, ok := aliases[key]; ok {
		key = canonical
	}
	p, ok := profiles[key]
	return p, ok
}

// prepareSource returns the code to compile, wrapped when it is a bare snippet.
func (p Profile) prepareSource(code string) string {
	if p.NeedsWrap(code) {
		return p.Wrap(code)
	}
	return code
}

// diagnostics keeps the error-severity lines of build output, or every
// non-empty line when none match.
func (p Profile) diagnostics(output string) string {
	var errs, all []string
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimRight(line, "\r ")
		if strings.TrimSpace(line) == "" {
			continue
		}
		all = append(all, line)
		if p.ErrorLine.MatchString(line) {
			errs = append(errs, line)
		}
	}
	if len(errs) > 0 {
		return strings.Join(errs, "\n")
	}
	return strings.Join(all, "\n")
}

func indent(code, prefix string) string {
	lines := strings.Split(code, "\n")
	for i, line := range lines {
		if line != "" {
			lines[i] = prefix + line
		}
	}
	return strings.Join(lines, "\n")
}
