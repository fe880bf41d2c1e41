// Package publish uploads signed evidence packs to a content-addressed store.
//
// Usage:
//
//	store, err := publish.NewHTTPStore("http://127.0.0.1:5001", publish.WithTimeout(30*time.Second))
//	pub := publish.NewPublisher(store, 4, 500*time.Millisecond)
//	receipt, err := pub.Publish(ctx, pack)
//
// A failed publication is returned as *publish.Error; the verdict of the
// cycle that produced the pack stays usable.
package publish
