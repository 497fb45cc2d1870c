package api

// MetadataNamespace is the canonical filter namespace under which route
// metadata, cluster metadata, and dynamic metadata entries are stored.
const MetadataNamespace = "io.morph.transformation"

// Route metadata keys consulted by the filter.
const (
	RequestTransformationKey  = "request_transformation"
	ResponseTransformationKey = "response_transformation"
)
