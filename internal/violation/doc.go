// Package violation tracks integrity violations for a proctored session.
//
// A Tracker appends every violation to an ordered log, keeps the general and
// multi-screen counters and flips a sticky termination flag once either
// threshold is reached. Entries are handed to an Auditor, which delivers them
// to the external audit sink at-least-once in the background so callers never
// wait on the audit write.
package violation
