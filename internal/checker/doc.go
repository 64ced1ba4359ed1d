// Package checker defines the capability the scheduler consumes to check one
// outlet: a Checker opens a Session per attempt, the Session reports the
// outlet's status, and the Session is closed when the attempt ends. It also
// classifies attempt errors into recoverable and terminal outcomes.
package checker
