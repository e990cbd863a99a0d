//go:build ignore

package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/muurk/fspbuild/internal/patch"
	"github.com/muurk/fspbuild/internal/patch/plans"
)

// Statistics tracks rendering results
type Statistics struct {
	TotalSets     int
	TotalPlans    int
	RenderSuccess int
	RenderFailure int
	Operations    int
	Restores      int
	References    map[string]int
	FailedRenders []FailedRender
}

// FailedRender stores information about a plan that did not render or parse
type FailedRender struct {
	Set       string
	Component string
	Params    plans.Params
	Error     string
}

// variants are every build parameter combination a plan can be rendered with.
var variants = []plans.Params{
	plans.ParamsFor("DEBUG", "ia32"),
	plans.ParamsFor("DEBUG", "x64"),
	plans.ParamsFor("RELEASE", "ia32"),
	plans.ParamsFor("RELEASE", "x64"),
}

func main() {
	path := ""
	if len(os.Args) > 1 {
		path = os.Args[1]
	}

	cat, err := plans.Load(path)
	if err != nil {
		fmt.Printf("Error loading catalog: %v\n", err)
		os.Exit(1)
	}

	stats := Statistics{References: make(map[string]int)}

	source := path
	if source == "" {
		source = "(built-in)"
	}
	fmt.Printf("=== FSP Plan Catalog Validator ===\n")
	fmt.Printf("Catalog: %s\n", source)
	fmt.Printf("Sets to process: %d\n\n", len(cat.Names()))

	for _, name := range cat.Names() {
		set, _ := cat.Get(name)
		processSet(set, &stats)
	}

	printStatistics(&stats)
	if stats.RenderFailure > 0 {
		os.Exit(1)
	}
}

func processSet(set *plans.Set, stats *Statistics) {
	stats.TotalSets++

	for _, comp := range set.Components() {
		for _, p := range variants {
			stats.TotalPlans++

			plan, err := set.Plan(comp, p)
			if err != nil {
				stats.RenderFailure++
				stats.FailedRenders = append(stats.FailedRenders, FailedRender{
					Set:       set.Name,
					Component: comp,
					Params:    p,
					Error:     err.Error(),
				})
				continue
			}

			stats.RenderSuccess++
			stats.Operations += plan.Len()
			for _, op := range plan.Operations {
				if op.Restore {
					stats.Restores++
				}
				countReferences(op, stats)
			}
		}
	}
}

// countReferences tallies the symbols, sections and bases a line uses.
func countReferences(op patch.Operation, stats *Statistics) {
	for _, e := range []*patch.Expr{op.Address, op.Value} {
		if e == nil {
			continue
		}
		for _, ref := range e.References() {
			stats.References[ref]++
		}
	}
}

func printStatistics(stats *Statistics) {
	fmt.Printf("\n========================================\n")
	fmt.Printf("VALIDATION RESULTS\n")
	fmt.Printf("========================================\n\n")

	fmt.Printf("Sets Processed:     %d\n", stats.TotalSets)
	fmt.Printf("Plans Rendered:     %d\n", stats.TotalPlans)
	fmt.Printf("Render Success:     %d\n", stats.RenderSuccess)
	fmt.Printf("Render Failure:     %d\n", stats.RenderFailure)
	fmt.Printf("Operations:         %d (%d restores)\n", stats.Operations, stats.Restores)

	fmt.Printf("\n----------------------------------------\n")
	fmt.Printf("REFERENCES\n")
	fmt.Printf("----------------------------------------\n")
	refs := make([]string, 0, len(stats.References))
	for ref := range stats.References {
		refs = append(refs, ref)
	}
	sort.Strings(refs)
	for _, ref := range refs {
		fmt.Printf("%-60s %d\n", ref, stats.References[ref])
	}

	if len(stats.FailedRenders) > 0 {
		fmt.Printf("\n----------------------------------------\n")
		fmt.Printf("RENDER FAILURES (%d total)\n", len(stats.FailedRenders))
		fmt.Printf("----------------------------------------\n")

		// Show first 10 failures
		maxShow := 10
		if len(stats.FailedRenders) > maxShow {
			fmt.Printf("(Showing first %d of %d failures)\n\n", maxShow, len(stats.FailedRenders))
		}

		for i, failed := range stats.FailedRenders {
			if i >= maxShow {
				break
			}
			fmt.Printf("\nFailure #%d:\n", i+1)
			fmt.Printf("  Plan: %s/%s (BuildType %d, FspArch %d)\n", failed.Set, failed.Component, failed.Params.BuildType, failed.Params.FspArch)
			fmt.Printf("  Error: %s\n", failed.Error)
		}
	}

	fmt.Printf("\n========================================\n")
	if stats.RenderFailure == 0 {
		fmt.Printf("✅ SUCCESS: Every plan renders and parses\n")
	} else {
		fmt.Printf("⚠️  ISSUES FOUND: %d plans failed\n", stats.RenderFailure)
	}
	fmt.Printf("========================================\n")
}
