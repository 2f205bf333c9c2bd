/*
Package log implements the logging for the bolt connector

There are 4 logging levels - trace, info, warn and error.  Setting trace would also set the others.
You can use the SetLevel("trace") to set trace logging, for example, or export
BOLT_DRIVER_LOG=trace before starting the process.

Entries are written through zerolog. Use With to get a child logger that tags
every entry, as each connection does with its id.
*/
package log
