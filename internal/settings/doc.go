// Package settings resolves typed values out of a pipeline's configuration
// document. A workflow names the document and a set of dotted-path queries;
// each query yields a list, object or scalar Value that later stages consume
// as matrix sources or guard inputs.
//
// Optional queries whose path is absent resolve to their declared default, so
// a missing optional section never fails a run. Required queries fail with a
// ConfigMissing error, unparsable documents with ConfigMalformed, and shape
// mismatches with ConfigTypeMismatch.
package settings
