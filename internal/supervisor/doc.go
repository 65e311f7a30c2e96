// Package supervisor keeps a fixed set of workers alive.
//
// A worker is either an OS process or an in-process task. The Supervisor
// owns one Record per declared worker. Records are created at construction
// and never removed. Each poll tick relaunches workers whose process exited
// or whose task returned, counting one restart per relaunch. Stopped
// workers stay stopped until Start is called again.
//
// Stopping a task only cancels its context. The record shows stopped
// straight away, but the goroutine ends when the task notices.
package supervisor
