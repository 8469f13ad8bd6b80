// Package logging configures structured JSON logging for indexsync, with an
// optional size-rotated log file under ~/.indexsync/logs/.
package logging
