// Package core implements the actor runtime of raft.
//
// A System owns a heap, a registry of bytecode modules and an arena of
// actors and supervisors addressed by Pid. Actors run on a pool of workers
// sharing one ready queue; each turn executes up to the fairness budget of
// instructions before the actor yields. An actor that receives on an empty
// mailbox parks until a message arrives.
//
// Failures are handled by the supervisor tree. Supervisors restart failed
// children according to their strategy and give up once a child exceeds its
// restart intensity, escalating to their own parent. A failure escalating
// past the root supervisor ends the run.
package core
