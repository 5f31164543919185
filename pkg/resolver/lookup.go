package resolver

import (
	"context"
	"errors"

	"github.com/icanbwell/fhir-server-sub016/pkg/resource"
	"github.com/icanbwell/fhir-server-sub016/pkg/storage"
)

// StoredLookup returns a Lookup that links references to the _uuid of a resource stored under
// the source id within the same assigning authority. Stored resources without a _uuid, or
// stamped for another authority, are not found and the canonical id is minted.
func StoredLookup(ds storage.ResourceReader) Lookup {
	return func(ctx context.Context, resourceType, id, authority string) (resource.Reference, bool, error) {
		stored, err := ds.Get(ctx, resourceType, id)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return resource.Reference{}, false, nil
			}
			return resource.Reference{}, false, err
		}

		u, _ := stored[resource.UUIDKey].(string)
		storedAuthority, _ := stored[resource.SourceAssigningAuthorityKey].(string)
		if u == "" || storedAuthority != authority {
			return resource.Reference{}, false, nil
		}

		ref := resourceType + "/" + u
		return resource.Reference{
			Reference:                ref,
			UUID:                     ref,
			SourceID:                 resourceType + "/" + id,
			SourceAssigningAuthority: authority,
		}, true, nil
	}
}
