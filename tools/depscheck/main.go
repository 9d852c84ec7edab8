package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"
)

const modulePath = "stream-drop/server"

type packageInfo struct {
	ImportPath string
	Deps       []string
}

// rule forbids packages under From from depending on anything under To. The
// simulation must never reach durable storage so the tick goroutine cannot
// block on the database.
type rule struct {
	From string
	To   []string
}

var rules = []rule{
	{From: modulePath + "/internal/physics", To: []string{modulePath + "/internal/economy", modulePath + "/internal/storage", modulePath + "/internal/cooldown"}},
	{From: modulePath + "/internal/sim", To: []string{modulePath + "/internal/economy", modulePath + "/internal/storage", modulePath + "/internal/cooldown"}},
}

func main() {
	cmd := exec.Command("go", "list", "-json", "./internal/...")
	cmd.Env = os.Environ()
	output, err := cmd.Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			os.Stderr.Write(exitErr.Stderr)
		}
		fmt.Fprintf(os.Stderr, "depscheck: failed to list packages: %v\n", err)
		os.Exit(1)
	}

	packages, err := decodePackages(bytes.NewReader(output))
	if err != nil {
		fmt.Fprintf(os.Stderr, "depscheck: failed to decode package info: %v\n", err)
		os.Exit(1)
	}

	violations := check(packages, rules)
	if len(violations) > 0 {
		fmt.Fprintln(os.Stderr, "depscheck: found forbidden imports:")
		for _, violation := range violations {
			fmt.Fprintf(os.Stderr, "  %s\n", violation)
		}
		os.Exit(1)
	}
}

func decodePackages(r io.Reader) ([]packageInfo, error) {
	decoder := json.NewDecoder(r)
	var out []packageInfo
	for {
		var pkg packageInfo
		if err := decoder.Decode(&pkg); err != nil {
			if errors.Is(err, io.EOF) {
				return out, nil
			}
			return nil, err
		}
		out = append(out, pkg)
	}
}

func check(packages []packageInfo, rules []rule) []string {
	var violations []string
	for _, pkg := range packages {
		for _, r := range rules {
			if !underPath(pkg.ImportPath, r.From) {
				continue
			}
			for _, dep := range pkg.Deps {
				for _, forbidden := range r.To {
					if underPath(dep, forbidden) {
						violations = append(violations, fmt.Sprintf("%s -> %s", pkg.ImportPath, dep))
					}
				}
			}
		}
	}
	sort.Strings(violations)
	return violations
}

func underPath(importPath, prefix string) bool {
	return importPath == prefix || strings.HasPrefix(importPath, prefix+"/")
}
