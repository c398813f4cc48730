// Package scraper defines the core types and contracts shared by the scrape
// orchestration engine: frontier entries, page outcomes, the checkpointed job
// state, fetch identities, and the collaborator interfaces (fetchers,
// extractors, sinks, checkpoint stores) the scheduler is wired against.
package scraper
