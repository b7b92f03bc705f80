package confs

import (
	"fmt"
	"io"
	"strings"
)

var (
	RequiredVars = []string{
		"DB_URL",
		"NODE_ENV",
		"JWT_SECRET",
		"QUBIC_NETWORK",
		"QUBIC_RPC_URL",
		"QUBIC_PLATFORM_ADDRESS",
		"QUBIC_PLATFORM_SEED",
	}
	OptionalVars = []string{
		"PORT",
		"FRONTEND_URL",
		"LOG_LEVEL",
		"DB_HOST",
		"DB_PORT",
		"DB_USER",
		"DB_PASSWORD",
		"DB_NAME",
		"OTEL_ENDPOINT",
		"TRUSTED_PROXIES",
	}

	// DBPartVars can stand in for DB_URL when all of them are set.
	DBPartVars = []string{"DB_HOST", "DB_PORT", "DB_USER", "DB_PASSWORD", "DB_NAME"}
)

// EnvEntry is one line of an environment report.
type EnvEntry struct {
	Name     string
	Value    string // masked for display
	Present  bool
	Required bool
}

// EnvReport is the result of CheckEnv.
type EnvReport struct {
	Entries         []EnvEntry
	MissingRequired int
}

func (r EnvReport) OK() bool { return r.MissingRequired == 0 }

// CheckEnv inspects required and optional variables through lookup
// (normally os.LookupEnv) and masks secrets for display.
func CheckEnv(lookup func(string) (string, bool)) EnvReport {
	var report EnvReport
	for _, name := range RequiredVars {
		v, ok := lookup(name)
		ok = ok && v != ""
		e := EnvEntry{Name: name, Present: ok, Required: true}
		switch {
		case ok:
			e.Value = maskRequired(name, v)
		case name == "DB_URL" && allSet(lookup, DBPartVars):
			e.Present = true
			e.Value = "(from " + strings.Join(DBPartVars, ", ") + ")"
		default:
			report.MissingRequired++
		}
		report.Entries = append(report.Entries, e)
	}
	for _, name := range OptionalVars {
		v, ok := lookup(name)
		ok = ok && v != ""
		e := EnvEntry{Name: name, Present: ok}
		if ok {
			e.Value = maskOptional(name, v)
		}
		report.Entries = append(report.Entries, e)
	}
	return report
}

func allSet(lookup func(string) (string, bool), names []string) bool {
	for _, name := range names {
		if v, ok := lookup(name); !ok || v == "" {
			return false
		}
	}
	return true
}

func isSensitive(name string) bool {
	return strings.Contains(name, "SECRET") || strings.Contains(name, "PASSWORD") || strings.Contains(name, "SEED")
}

func maskRequired(name, v string) string {
	if isSensitive(name) {
		return truncate(v, 10) + "..."
	}
	if len(v) > 50 {
		return v[:50] + "..."
	}
	return v
}

func maskOptional(name, v string) string {
	if strings.Contains(name, "PASSWORD") {
		return truncate(v, 5) + "..."
	}
	return v
}

func truncate(v string, n int) string {
	if len(v) <= n {
		return v
	}
	return v[:n]
}

// Write prints the report in a human readable form.
func (r EnvReport) Write(w io.Writer) {
	fmt.Fprintln(w, "=== ENVIRONMENT CHECK ===")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Required:")
	for _, e := range r.Entries {
		if !e.Required {
			continue
		}
		if e.Present {
			fmt.Fprintf(w, "  [ok]      %s: %s\n", e.Name, e.Value)
		} else {
			fmt.Fprintf(w, "  [missing] %s\n", e.Name)
		}
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Optional:")
	for _, e := range r.Entries {
		if e.Required {
			continue
		}
		if e.Present {
			fmt.Fprintf(w, "  [ok]      %s: %s\n", e.Name, e.Value)
		} else {
			fmt.Fprintf(w, "  [unset]   %s\n", e.Name)
		}
	}
	fmt.Fprintln(w)
	if r.OK() {
		fmt.Fprintln(w, "All required variables are set.")
		return
	}
	fmt.Fprintf(w, "%d required variable(s) missing.\n", r.MissingRequired)
}
