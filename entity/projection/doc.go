/*
Package projection is the native implementation of the row projection applied to each parsed CSV row,
deciding which fields survive (includes/excludes) and under which name (aliases).
It is made externally accessible since it's useful for developing/testing extractor/loader plug-ins.

A Projector is built once per processor activation and is immutable thereafter, so it can be shared
by concurrent executors without locking. Custom row logic, such as value based filtering or enrichment,
can instead be added via the post-projection hook function.
*/
package projection
