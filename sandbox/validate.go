// Copyright 2026 The Mind-Swarm Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"fmt"
	"io"
	"os"
)

// CheckResult is one pre-flight validation finding.
type CheckResult struct {
	// Name identifies the check.
	Name string

	// OK is true when the check passed.
	OK bool

	// Detail explains a failure, or adds context to a pass.
	Detail string
}

// Validate runs host pre-flight checks for a factory: bwrap installed,
// root writable, tools and types directories present. Results are
// written to w in order; the returned error is non-nil when any check
// failed.
//
// This backs "swarm-sandbox --validate"; Provision repeats the fatal
// subset (runtime binary presence) on every call.
func (f *Factory) Validate(w io.Writer) error {
	var results []CheckResult

	if path, err := BwrapPath(); err != nil {
		results = append(results, CheckResult{Name: "bwrap", Detail: err.Error()})
	} else {
		results = append(results, CheckResult{Name: "bwrap", OK: true, Detail: path})
	}

	results = append(results, checkWritableDir("root", f.root))
	results = append(results, checkReadableDir("tools", f.toolsDir))
	results = append(results, checkReadableDir("types", f.typesDir))
	results = append(results, checkWritableDir("shared", f.sharedDir))

	failed := 0
	for _, result := range results {
		status := "ok"
		if !result.OK {
			status = "FAIL"
			failed++
		}
		fmt.Fprintf(w, "%-8s %-6s %s\n", result.Name, status, result.Detail)
	}

	if failed > 0 {
		return fmt.Errorf("%d validation check(s) failed", failed)
	}
	return nil
}

func checkReadableDir(name, path string) CheckResult {
	info, err := os.Stat(path)
	if err != nil {
		return CheckResult{Name: name, Detail: err.Error()}
	}
	if !info.IsDir() {
		return CheckResult{Name: name, Detail: path + " is not a directory"}
	}
	return CheckResult{Name: name, OK: true, Detail: path}
}

func checkWritableDir(name, path string) CheckResult {
	result := checkReadableDir(name, path)
	if !result.OK {
		return result
	}
	probe, err := os.CreateTemp(path, ".write-probe-*")
	if err != nil {
		return CheckResult{Name: name, Detail: "not writable: " + err.Error()}
	}
	probe.Close()
	os.Remove(probe.Name())
	return CheckResult{Name: name, OK: true, Detail: path}
}
