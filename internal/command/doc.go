// Package command serialises relay writes per gateway.
//
// Every relay command, whether it comes from the API, the scheduler, the
// trigger evaluator or recovery, goes through Queue.Submit. Submission is
// non-blocking: the command is validated against the device registry and
// placed on the lane of the channel's gateway, or rejected immediately.
//
// Each lane is one goroutine, so a gateway never has more than one relay
// write in flight and commands are applied in submission order. A lane
// retries a failed write a bounded number of times with exponential
// backoff. Only a confirmed write updates the persisted RelayState; a
// command that exhausts its attempts leaves the state untouched, marks the
// device offline and is recorded in the audit trail.
//
//	pending, err := queue.Submit(ctx, channelID, true, device.SourceManual)
//	if errors.Is(err, command.ErrCommandRejected) {
//	    // unknown channel, not a relay, queue full or closed
//	}
//	outcome := <-pending.Done()
package command
