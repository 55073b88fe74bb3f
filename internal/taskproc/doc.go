// Package taskproc is the serialization core of Gray Logic Sync.
//
// Every state change (connect, disconnect, client messages, login
// completion, namespace mutation) is a task on one FIFO queue drained by a
// single worker goroutine. The worker owns the namespace, so the namespace
// needs no locks and all clients observe mutations in one total order.
//
// # Architecture
//
//	 I/O goroutines              worker goroutine
//	┌───────────────┐  enqueue  ┌──────────────────────────────────────┐
//	│ read pumps    │──────────▶│ task queue (FIFO, mutex + cond)      │
//	│ auth workers  │           │   │                                  │
//	│ MQTT ingestor │           │   ▼                                  │
//	└───────────────┘           │ namespace mutation                   │
//	        ▲                   │   │                                  │
//	        │ Lookup            │   ▼                                  │
//	┌───────────────┐ snapshot  │ fan-out: IsGettable, then IsReadable │
//	│   Registry    │◀──────────│ per connection ──▶ Notify / Flush    │
//	└───────────────┘           └──────────────────────────────────────┘
//
// # Key Types
//
//   - Processor: the queue, the worker and the Schedule* entry points
//   - Operations: inline namespace access for code already on the worker
//   - Connection: the per-client collaborator the processor drives
//   - ConnectionObject: a connection's entry in the namespace
//   - Registry: copy-on-write snapshot of live connections
//   - SessionListWriter: latest-wins persistence of live session ids
//
// # Usage
//
//	proc := taskproc.New(ns, authenticator, taskproc.Config{})
//	proc.SetLogger(log.With("component", "taskproc"))
//	proc.SetAuditor(recorder)
//	go proc.Run(ctx)
//
//	// From any goroutine:
//	proc.ScheduleConnect(handle, socket, newConnection)
//	err := proc.StoreObject(ctx, dev) // blocks up to Config.StoreTimeout
//
// # Thread Safety
//
// Schedule*, StoreObject and Lookup are safe from any goroutine. Operations
// and everything a Connection receives from the processor must only be used
// on the worker, inside the task that handed them over.
package taskproc
