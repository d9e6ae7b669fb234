package supervisor

import (
	"bufio"
	"bytes"
	"regexp"
	"strings"

	"github.com/miradorstack/crashguard/internal/models"
)

// Crash is the last crash report found in a child's stderr.
type Crash struct {
	Thread    string
	Exception models.Exception
}

var (
	goPanicRe      = regexp.MustCompile(`^panic: (.*?)( \[recovered\])?$`)
	goFatalRe      = regexp.MustCompile(`^fatal error: (.*)$`)
	goGoroutineRe  = regexp.MustCompile(`^goroutine (\d+) \[[^\]]*\]:$`)
	jvmThreadRe    = regexp.MustCompile(`^Exception in thread "([^"]*)" (.*)$`)
	jvmFatalRe     = regexp.MustCompile(`FATAL EXCEPTION: (.*)$`)
	jvmThrowableRe = regexp.MustCompile(`^([A-Za-z_$][\w$]*(?:\.[A-Za-z_$][\w$]*)+)(?:: (.*))?$`)
	jvmCausedByRe  = regexp.MustCompile(`^Caused by: (.*)$`)
	jvmFrameRe     = regexp.MustCompile(`^\s+at (.+)$`)
)

const goRuntimeErrorPrefix = "runtime error: "

// ParseCrashOutput extracts the last Go panic or JVM-style uncaught exception
// report from output. It reports false when no crash header is present.
func ParseCrashOutput(output []byte) (Crash, bool) {
	var (
		found   bool
		crash   Crash
		current *models.Exception
		kind    string
		pending bool // android header seen, throwable line not yet
		done    bool
	)

	scanner := bufio.NewScanner(bytes.NewReader(output))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")

		if m := goPanicRe.FindStringSubmatch(line); m != nil {
			crash, found, kind, pending = Crash{Exception: goException("panic", m[1])}, true, "go", false
			current, done = &crash.Exception, false
			continue
		}
		if m := goFatalRe.FindStringSubmatch(line); m != nil {
			crash, found, kind, pending = Crash{Exception: models.Exception{Type: "fatal error", Message: m[1]}}, true, "go", false
			current, done = &crash.Exception, false
			continue
		}
		if m := jvmThreadRe.FindStringSubmatch(line); m != nil {
			crash, found, kind, pending = Crash{Thread: m[1], Exception: throwable(m[2])}, true, "jvm", false
			current = &crash.Exception
			continue
		}
		if m := jvmFatalRe.FindStringSubmatch(line); m != nil {
			crash, found, kind, pending = Crash{Thread: strings.TrimSpace(m[1])}, true, "jvm", true
			current = &crash.Exception
			continue
		}
		if !found {
			continue
		}

		switch kind {
		case "go":
			if m := goGoroutineRe.FindStringSubmatch(line); m != nil {
				if crash.Thread != "" {
					done = true
					continue
				}
				crash.Thread = "goroutine " + m[1]
				continue
			}
			if done || strings.HasPrefix(line, "\t") || line == "" || crash.Thread == "" {
				continue
			}
			current.Frames = append(current.Frames, strings.TrimSpace(line))
		case "jvm":
			body := stripLogPrefix(line)
			if pending {
				if m := jvmThrowableRe.FindStringSubmatch(strings.TrimSpace(body)); m != nil {
					*current = throwable(strings.TrimSpace(body))
					pending = false
				}
				continue
			}
			if m := jvmFrameRe.FindStringSubmatch(body); m != nil {
				current.Frames = append(current.Frames, strings.TrimSpace(m[1]))
				continue
			}
			if m := jvmCausedByRe.FindStringSubmatch(strings.TrimSpace(body)); m != nil {
				cause := throwable(m[1])
				current.Cause = &cause
				current = current.Cause
			}
		}
	}
	if found && pending {
		return Crash{}, false
	}
	return crash, found
}

func goException(kind, message string) models.Exception {
	if strings.HasPrefix(message, goRuntimeErrorPrefix) {
		return models.Exception{Type: "runtime.Error", Message: strings.TrimPrefix(message, goRuntimeErrorPrefix)}
	}
	return models.Exception{Type: kind, Message: message}
}

// throwable splits "pkg.Type: message" as printed by Throwable.toString.
func throwable(s string) models.Exception {
	if m := jvmThrowableRe.FindStringSubmatch(s); m != nil {
		return models.Exception{Type: m[1], Message: m[2]}
	}
	typ, msg, _ := strings.Cut(s, ": ")
	return models.Exception{Type: typ, Message: msg}
}

// stripLogPrefix drops a logcat "E AndroidRuntime: " style prefix.
func stripLogPrefix(line string) string {
	if i := strings.Index(line, "AndroidRuntime: "); i >= 0 {
		return line[i+len("AndroidRuntime: "):]
	}
	return line
}
