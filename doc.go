/*
sidecar runs radar records through a chain of independently loadable processing stages.

A stream is made of tasks linked by typed channels. Each task hosts one algorithm inside a
controller, which queues the messages it receives and processes them on its own goroutine,
control messages first. Data only moves where it is consumed: a channel hands a message to
the recipients that want data and drops it otherwise, and every task tells the senders of its
inputs whether it still wants data, so work is elided upstream of actual consumption.

For instance:

- Video messages are injected on the stream input and reach the first stage
- The stage scales them and sends them on its output channel, fanned out to two stages
- One of them is a matched filter: it cuts each message into windows, filters them in parallel
on a worker pool and waits for every window before forwarding the message
- The other one is not consumed: its input is dropped before it is even queued

Every task follows the same processing state machine (Initialize, AutoDiagnostic, Calibrate,
Run, Stop, Failure). Moving between active states always goes through Stop and Initialize, and
a failing hook sends the task to Failure, which is only left through Initialize.

Tasks expose runtime parameters, edited in batches, and report their status periodically. See
the stream package to assemble a pipeline from a YAML description and cmd/sidecar to run one.
*/

package sidecar
