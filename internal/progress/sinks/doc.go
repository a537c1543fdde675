// Package sinks holds progress consumers beyond the Tracker: a debug log of every event
// and a publisher that forwards run-level milestones to a topic.
package sinks
