// Package harvest defines the core types and contracts shared by the harvesting pipeline:
// work items, fetch responses, outcome classification, and the durable checkpoint record.
package harvest
