// Package audit records who did what to which resource. The mutation
// gateway writes one event per operation after its outcome is known;
// denied operations are recorded with the denial's reason code.
package audit
