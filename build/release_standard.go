//go:build !dev && !testing
// +build !dev,!testing

package build

// Release is a string that indicates which build of chunkmaster is being
// used. Possible values are 'standard', 'dev', and 'testing'.
const Release = "standard"

// DEBUG is a compile-time flag that, when true, turns Critical/Severe into
// panics instead of logged messages.
const DEBUG = false
