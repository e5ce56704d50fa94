// Package index provides the append-only secondary indices kept by each
// registry. A bucket lists primary keys in creation order and is only ever
// extended when a record is created.
package index

type Index[K comparable, V any] struct {
	buckets map[K][]V
}

func New[K comparable, V any]() *Index[K, V] {
	return &Index[K, V]{buckets: make(map[K][]V)}
}

func (i *Index[K, V]) Append(k K, v V) {
	i.buckets[k] = append(i.buckets[k], v)
}

// Get returns a copy of the bucket; nil when the bucket is empty.
func (i *Index[K, V]) Get(k K) []V {
	bucket := i.buckets[k]
	if len(bucket) == 0 {
		return nil
	}
	out := make([]V, len(bucket))
	copy(out, bucket)
	return out
}

func (i *Index[K, V]) Len(k K) int {
	return len(i.buckets[k])
}

// Place is the (country, city) bucket key shared by the request registries.
type Place struct {
	Country string
	City    string
}
