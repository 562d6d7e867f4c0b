package models

// ETagAny matches any stored ETag, bypassing the optimistic-lock check.
const ETagAny = "*"

// ETag is an opaque optimistic-concurrency token computed from a mutable resource's content.
// It changes whenever the resource is updated, so a caller that read an ETag and supplies it
// back on update is guaranteed to be modifying the version it read.
type ETag string

func (e ETag) String() string {
	return string(e)
}

func GetETag(resource MutableResource, etag ETag) ETag {
	if etag != "" {
		return etag
	}
	return resource.GetETag()
}
