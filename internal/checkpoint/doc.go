// Package checkpoint persists harvest.Record snapshots so a run can be resumed.
//
// Every backend follows the same load contract: a missing snapshot yields an empty record, an
// unparseable snapshot yields an empty record plus a warning, and only backend I/O failures are
// returned as errors. Saves overwrite the previous snapshot in full.
package checkpoint
