package kiln

// Version is the library and CLI version, overridable at link time.
var Version = "0.1.0"
