// Package retry provides exponential backoff retry logic for transient failures.
//
// [WithExponentialBackoff] retries an operation with configurable max
// attempts, initial delay, and maximum delay. It is used for node metadata
// writes, which can conflict with concurrent updates of the same node
// object. Errors wrapped with [Fatal] stop the retry loop immediately.
package retry
