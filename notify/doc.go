// Package notify runs side effects of the OAuth flows, such as audit fan-out
// or e-mail triggers, off the request path.
//
// Tasks are submitted to a bounded Queue served by a fixed pool of workers.
// Submission never blocks: when the queue is full the task is dropped and the
// drop is logged. Each task runs under its own timeout and failures go to the
// queue's failure log instead of back to the caller.
//
// Notifier implementations deliver Events: LogNotifier writes them to slog,
// AMQPNotifier publishes them to a RabbitMQ exchange and MultiNotifier fans out.
package notify
