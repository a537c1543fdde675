// Package main is the harvester executable.
//
// Architecture overview:
//   - Work set: internal/source loads a CSV/JSON/JSONL/YAML input, keys each row by its id fields and drops
//     duplicates. The same package renders each item into an upstream request.
//   - Fetch pipeline: internal/orchestrator takes each remaining item through pacer -> fetcher -> classifier ->
//     retry policy. Fetchers are Colly (plain HTTP), Chromedp (rendered pages) or Gemini; each makes exactly one
//     attempt and the retry policy alone decides whether to wait and try again.
//   - Durability: every terminal outcome is appended to a checkpoint record which is saved every N outcomes, before
//     every batch pause, on recovered faults and at the end. Backends are file, memory, Postgres, Redis and GCS.
//   - Output: once the work set is exhausted the record is rendered to results.json and summary.json (local dir,
//     GCS or memory) and optionally announced on Pub/Sub.
//   - Observability: zap logs carry source, run id and item id; Prometheus collectors and the progress endpoints are
//     served by a chi router when metrics are enabled.
//
// Operational notes:
//   - SIGINT/SIGTERM stop dispatch, let in-flight attempts finish or cancel, save and exit 0. Rerun with --resume.
//   - Exit code 1 is reserved for configuration faults such as an unknown source or a missing input file.
package main

import (
	"os"

	"github.com/JakeFAU/harvester/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
