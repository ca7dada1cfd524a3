package objectstore

import (
	"context"
)

// ListAll follows NextStart until the listing is exhausted and returns the
// concatenated result. A request with a positive Limit is issued once.
func ListAll(ctx context.Context, store ObjectStore, req *ListObjectsRequest) (*ListObjectsResult, error) {
	if req.Limit > 0 {
		return store.ListObjects(ctx, req)
	}

	page := *req
	all := &ListObjectsResult{}
	for {
		res, err := store.ListObjects(ctx, &page)
		if err != nil {
			return nil, err
		}
		all.Objects = append(all.Objects, res.Objects...)
		all.Prefixes = append(all.Prefixes, res.Prefixes...)
		if res.NextStart == "" || res.NextStart == page.Start {
			return all, nil
		}
		page.Start = res.NextStart
	}
}
