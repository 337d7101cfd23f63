// Command casemill ingests grievance ticket exports and enriches them with
// LLM-generated labels. Subcommands cover ingestion, enrichment runs, run
// history, dataset inspection, and configuration management.
package main
