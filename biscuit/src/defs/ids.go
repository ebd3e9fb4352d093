package defs

/// Pid_t identifies a process in the process table.
type Pid_t int

/// Tid_t identifies a single thread.
type Tid_t int

// NoPid is never assigned to a live process; process_table[NoPid] is
// reserved, matching the 1-indexed process table in original_source.
const NoPid Pid_t = 0
