package generic

import "sync"

// SyncMap is a type-safe wrapper around sync.Map.
type SyncMap[K comparable, V any] struct {
	sync.Map
}

func SyncMapFromMap[K comparable, V any](m map[K]V) *SyncMap[K, V] {
	ret := &SyncMap[K, V]{}
	for k, v := range m {
		ret.Put(k, v)
	}

	return ret
}

func (m *SyncMap[K, V]) Get(key K) (V, bool) {
	value, ok := m.Load(key)
	if !ok {
		var empty V
		return empty, false
	}
	return value.(V), true
}

func (m *SyncMap[K, V]) Put(key K, value V) {
	m.Store(key, value)
}

func (m *SyncMap[K, V]) Delete(key K) {
	m.Map.Delete(key)
}

// Iter iterates over the map calling f for each entry, stopping if f
// returns false.
func (m *SyncMap[K, V]) Iter(f func(key K, value V) bool) {
	m.Range(func(key, value any) bool {
		k := key.(K)
		v := value.(V)
		return f(k, v)
	})
}

func (m *SyncMap[K, V]) Keys() []K {
	keys := make([]K, 0)
	m.Iter(func(key K, _ V) bool {
		keys = append(keys, key)
		return true
	})
	return keys
}

func (m *SyncMap[K, V]) Len() int {
	count := 0
	m.Iter(func(K, V) bool {
		count++
		return true
	})
	return count
}
