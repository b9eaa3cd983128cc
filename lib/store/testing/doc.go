// Package testing provides a standardised conformance suite for
// implementations of the store.IRegion interface.
//
// Example usage:
//
//	storetesting.RunRegionTests(t, "LocalRegion", func() store.IRegion {
//		cache := lstore.NewCache()
//		region, _ := cache.CreateRegion("test")
//		return region
//	})
package testing
