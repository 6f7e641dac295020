/*
Package log configures midden's zerolog-based logging.

Init installs the process root logger (a no-op logger stands in until
then); WithComponent derives tagged child loggers so every line names
the subsystem it came from. The verbosity level rides on the logger
itself, not zerolog's global state.
*/
package log
