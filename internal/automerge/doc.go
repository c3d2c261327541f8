// Package automerge decides which open GitHub pull requests are ready to be
// merged automatically and merges them.
//
// # Components
//
// A [Provider] returns a fresh snapshot of the open pull requests of a
// repository. [GithubProvider] retrieves them via the GitHub REST and GraphQL
// APIs.
//
// [Evaluate] maps a pull request snapshot and a [Policy] to a [Verdict]. It is
// a pure function, the same input always results in the same verdict.
// Verdicts are Merge, Skip or Defer. Skip is returned for pull requests that
// will not become mergeable without manual intervention (wrong author,
// conflicts, failed checks, requested changes). Defer is returned for states
// that are expected to resolve on their own (running CI jobs, pending
// reviews, GitHub still computing the mergeable state).
//
// A [Merger] merges a pull request at the head commit that was evaluated.
// [Executor] does it via the GitHub API, [DryMerger] only simulates it.
// The result is a [MergeOutcome], failures are classified instead of being
// returned as errors.
//
// The [Runner] processes a list of repositories: it evaluates all open pull
// requests of a repository in parallel and merges the eligible ones one at a
// time, oldest first. When the GitHub API rate limit is exhausted the run is
// halted, pull requests and repositories that were not processed yet are
// left untouched until the next run.
package automerge
