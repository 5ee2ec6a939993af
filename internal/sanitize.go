package internal

import (
	"fmt"
	"regexp"
	"strings"
)

// DefaultMaxCodeLength bounds submissions before any container is created.
const DefaultMaxCodeLength = 10000

type SanitizationError struct {
	Message string
	Details string
}

func (e *SanitizationError) Error() string {
	return e.Message + ": " + e.Details
}

type rule struct {
	pattern *regexp.Regexp
	details string
}

func newRule(pattern, details string) rule {
	return rule{pattern: regexp.MustCompile(pattern), details: details}
}

var csharpRules = []rule{
	newRule(`\bProcess\s*\.\s*Start\b|System\.Diagnostics\.Process\b`, "process spawning is not allowed"),
	newRule(`\b(File|Directory)\s*\.\s*(Write\w*|Append\w*|Create\w*|Delete|Move|Copy|Replace|Encrypt|Decrypt)\s*\(`, "file system writes are not allowed"),
	newRule(`\b(FileStream|StreamWriter)\b`, "file system writes are not allowed"),
	newRule(`\bSystem\.Net\b|\b(Socket|TcpClient|TcpListener|UdpClient|HttpClient|WebClient)\b`, "network access is not allowed"),
	newRule(`\bSystem\.Reflection\.Emit\b|\bAssembly\s*\.\s*Load\w*\s*\(|\bActivator\s*\.\s*CreateInstance\b`, "dynamic code loading is not allowed"),
	newRule(`\bunsafe\b|\bDllImport\b|\bMarshal\s*\.`, "unmanaged code is not allowed"),
	newRule(`\bEnvironment\s*\.\s*(Exit|FailFast|SetEnvironmentVariable)\b`, "environment manipulation is not allowed"),
}

var javaRules = []rule{
	newRule(`\bRuntime\s*\.\s*getRuntime\s*\(\s*\)\s*\.\s*exec\b|\bProcessBuilder\b`, "process spawning is not allowed"),
	newRule(`\b(FileOutputStream|FileWriter|RandomAccessFile|PrintWriter\s*\(\s*new\s+File)\b|\bFiles\s*\.\s*(write\w*|delete\w*|create\w*|move|copy)\s*\(`, "file system writes are not allowed"),
	newRule(`\bjava\.net\b|\b(Socket|ServerSocket|DatagramSocket|HttpURLConnection|HttpClient)\b`, "network access is not allowed"),
	newRule(`\bjava\.lang\.reflect\b|\bClass\s*\.\s*forName\s*\(|\bClassLoader\b`, "reflection is not allowed"),
	newRule(`\bsun\.misc\.Unsafe\b|\bSystem\s*\.\s*(loadLibrary|load)\s*\(`, "unmanaged code is not allowed"),
	newRule(`\bSystem\s*\.\s*(exit|setSecurityManager|setProperty)\s*\(|\bRuntime\s*\.\s*getRuntime\s*\(\s*\)\s*\.\s*(halt|exit)\b`, "environment manipulation is not allowed"),
}

var rulesByLanguage = map[string][]rule{
	"csharp": csharpRules,
	"java":   javaRules,
}

// SanitizeCode screens a compiled-language submission. It returns a
// *SanitizationError describing the first violation, or nil.
func SanitizeCode(code, language string, maxCodeLength int) error {
	if maxCodeLength <= 0 {
		maxCodeLength = DefaultMaxCodeLength
	}
	if len(code) > maxCodeLength {
		return &SanitizationError{
			Message: "Code length exceeds maximum limit",
			Details: fmt.Sprintf("Max length allowed is %d", maxCodeLength),
		}
	}
	if strings.TrimSpace(code) == "" {
		return &SanitizationError{
			Message: "Empty submission",
			Details: "Code must not be blank",
		}
	}

	rules, ok := rulesByLanguage[language]
	if !ok {
		return &SanitizationError{
			Message: "Unsupported language",
			Details: language,
		}
	}

	stripped := stripComments(code)
	for _, r := range rules {
		if r.pattern.MatchString(stripped) {
			return &SanitizationError{
				Message: "Prohibited operation detected",
				Details: r.details,
			}
		}
	}
	return nil
}

var (
	blockComment = regexp.MustCompile(`(?s)/\*.*?\*/`)
	lineComment  = regexp.MustCompile(`(?m)//.*$`)
)

// stripComments removes C-style comments so commented-out calls are not
// flagged. String literals are left alone.
func stripComments(code string) string {
	return lineComment.ReplaceAllString(blockComment.ReplaceAllString(code, ""), "")
}
