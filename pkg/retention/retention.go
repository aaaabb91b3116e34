// Package retention deletes aged files under the supervisor's working directories.
package retention

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Rule removes files in Dir matching Pattern whose mtime is older than MaxAge
type Rule struct {
	Name    string
	Dir     string
	Pattern string
	MaxAge  time.Duration
}

// Result counts what one rule did
type Result struct {
	Rule    string
	Removed int
	Kept    int
	Skipped int
}

// Sweep applies every rule. Paths in skip (absolute) are never removed.
// Missing directories are not an error.
func Sweep(rules []Rule, now time.Time, skip map[string]bool) ([]Result, error) {
	var errs []error
	results := make([]Result, 0, len(rules))
	for _, rule := range rules {
		res, err := sweepRule(rule, now, skip)
		results = append(results, res)
		if err != nil {
			errs = append(errs, err)
		}
	}
	return results, errors.Join(errs...)
}

func sweepRule(rule Rule, now time.Time, skip map[string]bool) (Result, error) {
	res := Result{Rule: rule.Name}
	if rule.MaxAge <= 0 {
		return res, nil
	}
	matches, err := filepath.Glob(filepath.Join(rule.Dir, rule.Pattern))
	if err != nil {
		return res, fmt.Errorf("%s: bad pattern %q: %w", rule.Name, rule.Pattern, err)
	}

	cutoff := now.Add(-rule.MaxAge)
	var errs []error
	for _, path := range matches {
		abs, err := filepath.Abs(path)
		if err != nil {
			abs = path
		}
		if skip[abs] {
			res.Skipped++
			continue
		}
		info, err := os.Stat(path)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		if !info.ModTime().Before(cutoff) {
			res.Kept++
			continue
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, fmt.Errorf("%s: %w", rule.Name, err))
			continue
		}
		res.Removed++
	}
	return res, errors.Join(errs...)
}
